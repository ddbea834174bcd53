package service

import (
	"context"
	"testing"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/outbox"
	"order-fulfillment/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ledger   *InventoryLedger
	inv      *flakyInventory
	payments *PaymentService
	catalog  *fakeCatalog
	repo     *store.MemoryOrders
	outbox   *outbox.MemoryStore
	saga     *SagaOrchestrator
	orders   *OrderService
	events   *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{events: &recordingPublisher{}}
	h.ledger = NewInventoryLedger(h.events, 30*time.Minute)
	for productID, qty := range map[string]int{"sku-1": 5, "sku-2": 1, "sku-3": 20} {
		_, err := h.ledger.CreateStock(context.Background(), productID, &CreateStockRequest{Quantity: qty})
		require.NoError(t, err)
	}
	h.inv = &flakyInventory{InventoryLedger: h.ledger}
	h.payments = NewPaymentService(h.events, "USD")
	h.catalog = newFakeCatalog(
		product("sku-1", "Widget", "10.50"),
		product("sku-2", "Gadget", "3.25"),
		product("sku-3", "Gizmo", "1.99"),
	)
	h.repo = store.NewMemoryOrders()
	h.outbox = outbox.NewMemoryStore(time.Millisecond, time.Second)
	h.saga = NewSagaOrchestrator(h.inv, h.payments, h.outbox)
	h.orders = h.withPayments(h.payments)
	return h
}

func (h *harness) withPayments(p Payments) *OrderService {
	return NewOrderService(h.repo, h.catalog, h.inv, p, h.saga, store.NewMemoryLocker(), h.events, OrderOptions{})
}

func (h *harness) expireAll(t *testing.T) []models.Reservation {
	t.Helper()
	return h.ledger.ReleaseExpired(context.Background(), time.Now().Add(31*time.Minute))
}

func (h *harness) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := h.repo.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) createOrder(t *testing.T, items ...OrderItemRequest) *models.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:          "u1",
		Items:           items,
		ShippingAddress: models.Address{Street: "1 Main St", City: "Springfield", Country: "US"},
	})
	require.NoError(t, err)
	return order
}

func (h *harness) stock(t *testing.T, productID string) *models.StockRecord {
	t.Helper()
	rec, err := h.ledger.GetStock(context.Background(), productID)
	require.NoError(t, err)
	return rec
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t)

	order := h.createOrder(t,
		OrderItemRequest{ProductID: "sku-1", Quantity: 2},
		OrderItemRequest{ProductID: "sku-3", Quantity: 3},
	)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Widget", order.Items[0].Name)
	assert.True(t, decimal.RequireFromString("21.00").Equal(order.Items[0].Subtotal))
	assert.True(t, decimal.RequireFromString("26.97").Equal(order.Total))

	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.Subtotal)
	}
	assert.True(t, sum.Equal(order.Total))

	res, err := h.ledger.GetReservation(context.Background(), order.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, res.OrderID)
	assert.Equal(t, models.ReservationStatusPending, res.Status)
	assert.Equal(t, 3, h.stock(t, "sku-1").Available)

	assert.Contains(t, h.events.types(), models.EventTypeOrderCreated)
}

func TestCreateOrderSecondLineOutOfStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: "u1",
		Items: []OrderItemRequest{
			{ProductID: "sku-1", Quantity: 1},
			{ProductID: "sku-2", Quantity: 2},
		},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientResource))
	assert.Equal(t, apperr.CodeInsufficientInventory, apperr.CodeOf(err))

	orders, err := h.orders.GetOrdersByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, h.ledger.ListReservations(ctx, ""))
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)
	assert.Equal(t, 1, h.stock(t, "sku-2").Available)
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: "u1",
		Items: []OrderItemRequest{
			{ProductID: "ghost", Quantity: 1},
			{ProductID: "sku-1", Quantity: 1},
		},
	})
	assert.Equal(t, apperr.CodeProductNotFound, apperr.CodeOf(err))
	assert.Equal(t, 1, h.catalog.calls)
	assert.Empty(t, h.ledger.ListReservations(ctx, ""))
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"no user", CreateOrderRequest{Items: []OrderItemRequest{{ProductID: "sku-1", Quantity: 1}}}},
		{"no items", CreateOrderRequest{UserID: "u1"}},
		{"zero quantity", CreateOrderRequest{UserID: "u1", Items: []OrderItemRequest{{ProductID: "sku-1"}}}},
		{"no product", CreateOrderRequest{UserID: "u1", Items: []OrderItemRequest{{Quantity: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orders.CreateOrder(context.Background(), &tt.req)
			assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
		})
	}
	assert.Equal(t, 0, h.catalog.calls)
}

func TestCreateOrderSumsDuplicateLines(t *testing.T) {
	h := newHarness(t)

	order := h.createOrder(t,
		OrderItemRequest{ProductID: "sku-1", Quantity: 2},
		OrderItemRequest{ProductID: "sku-1", Quantity: 3},
	)

	res, err := h.ledger.GetReservation(context.Background(), order.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sku-1": 5}, res.Items)
	assert.Equal(t, 0, h.stock(t, "sku-1").Available)
	assert.Len(t, order.Items, 2)
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := &CreateOrderRequest{
		UserID:         "u1",
		Items:          []OrderItemRequest{{ProductID: "sku-1", Quantity: 1}},
		IdempotencyKey: "checkout-42",
	}
	first, err := h.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := h.orders.CreateOrder(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.ledger.ListReservations(ctx, ""), 1)
	assert.Equal(t, 4, h.stock(t, "sku-1").Available)
}

func TestOrderTotalIsFrozen(t *testing.T) {
	h := newHarness(t)

	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})
	h.catalog.products["sku-1"] = product("sku-1", "Widget", "99.00")

	got, err := h.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.50").Equal(got.Total))
}

func TestCreateOrderReleasesWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orders := NewOrderService(failingRepository{}, h.catalog, h.inv, h.payments, h.saga,
		store.NewMemoryLocker(), nil, OrderOptions{})

	_, err := orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: "u1",
		Items:  []OrderItemRequest{{ProductID: "sku-1", Quantity: 2}},
	})
	require.Error(t, err)

	reservations := h.ledger.ListReservations(ctx, "")
	require.Len(t, reservations, 1)
	assert.Equal(t, models.ReservationStatusReleased, reservations[0].Status)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)
}

func TestProcessPaymentExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 2})

	paid, err := h.orders.ProcessPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, paid.Status)
	assert.NotEmpty(t, paid.PaymentID)

	payments := h.payments.GetPaymentsByOrder(ctx, order.ID)
	require.Len(t, payments, 1)
	assert.True(t, order.Total.Equal(payments[0].Amount))
	assert.Equal(t, "USD", payments[0].Currency)
	assert.Equal(t, models.PaymentMethodCreditCard, payments[0].Method)

	res, err := h.ledger.GetReservation(ctx, order.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConfirmed, res.Status)

	_, err = h.orders.ProcessPayment(ctx, order.ID)
	assert.Equal(t, apperr.CodePaymentAlreadyProcessed, apperr.CodeOf(err))
	assert.Len(t, h.payments.GetPaymentsByOrder(ctx, order.ID), 1)
}

func TestProcessPaymentInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	slow := &slowPayments{inner: h.payments, started: make(chan struct{}), release: make(chan struct{})}
	orders := h.withPayments(slow)

	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})

	done := make(chan error, 1)
	go func() {
		_, err := orders.ProcessPayment(ctx, order.ID)
		done <- err
	}()
	<-slow.started

	_, err := orders.ProcessPayment(ctx, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyProcessed))

	_, err = orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	assert.Equal(t, apperr.CodeInvalidOrderState, apperr.CodeOf(err))

	close(slow.release)
	require.NoError(t, <-done)
	assert.Len(t, h.payments.GetPaymentsByOrder(ctx, order.ID), 1)
}

func TestProcessPaymentRejectsCancelledOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})

	_, err := h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	_, err = h.orders.ProcessPayment(ctx, order.ID)
	assert.Equal(t, apperr.CodeInvalidOrderState, apperr.CodeOf(err))
	assert.Empty(t, h.payments.GetPaymentsByOrder(ctx, order.ID))

	_, err = h.orders.ProcessPayment(ctx, "missing")
	assert.Equal(t, apperr.CodeOrderNotFound, apperr.CodeOf(err))
}

func TestProcessPaymentFailureLeavesOrderUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orders := h.withPayments(failingPayments{})
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})

	_, err := orders.ProcessPayment(ctx, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))

	got, err := orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Empty(t, got.PaymentID)
	assert.Equal(t, 0, h.inv.confirms)

	paid, err := h.orders.ProcessPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, paid.PaymentID)
}

func TestProcessPaymentDefersFailedConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})

	h.inv.setDown(true)
	paid, err := h.orders.ProcessPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, paid.Status)

	actions, err := h.saga.PendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, outbox.KindConfirmReservation, actions[0].Kind)
	assert.Equal(t, order.ReservationID, actions[0].ReservationID)

	h.inv.setDown(false)
	relay := outbox.NewRelay(h.outbox, h.saga, time.Millisecond)
	require.Eventually(t, func() bool { return relay.RunOnce(ctx) == 1 }, time.Second, 5*time.Millisecond)

	res, err := h.ledger.GetReservation(ctx, order.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConfirmed, res.Status)
}

func TestUpdateStatusCancelReleasesReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 3})
	assert.Equal(t, 2, h.stock(t, "sku-1").Available)

	updated, err := h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)

	_, err = h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 1, h.inv.releases)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)
}

func TestUpdateStatusCancelDefersFailedRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 3})

	h.inv.setDown(true)
	updated, err := h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 2, h.stock(t, "sku-1").Available)

	actions, err := h.saga.PendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, outbox.KindReleaseReservation, actions[0].Kind)

	h.inv.setDown(false)
	relay := outbox.NewRelay(h.outbox, h.saga, time.Millisecond)
	require.Eventually(t, func() bool { return relay.RunOnce(ctx) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)
}

func TestUpdateStatusValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})

	_, err := h.orders.UpdateStatus(ctx, order.ID, "teleported")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	_, err = h.orders.UpdateStatus(ctx, "missing", models.OrderStatusShipped)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	shipped, err := h.orders.UpdateStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
	assert.Contains(t, h.events.types(), models.EventTypeOrderStatusChanged)
}

func TestHandleReservationExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 2})
	paid := h.createOrder(t, OrderItemRequest{ProductID: "sku-3", Quantity: 1})
	_, err := h.orders.ProcessPayment(ctx, paid.ID)
	require.NoError(t, err)

	expired := h.ledger.ReleaseExpired(ctx, time.Now().Add(time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, pending.ReservationID, expired[0].ID)

	event := &models.ReservationEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeReservationExpired),
		ReservationID: expired[0].ID,
		OrderID:       expired[0].OrderID,
		Items:         expired[0].Items,
		Reason:        models.ReleaseReasonExpired,
	}
	require.NoError(t, h.orders.HandleReservationExpired(ctx, event))

	got, err := h.orders.GetOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, 0, h.inv.releases)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)

	require.NoError(t, h.orders.HandleReservationExpired(ctx, &models.ReservationEvent{
		ReservationID: paid.ReservationID,
		OrderID:       paid.ID,
	}))
	stillPaid, err := h.orders.GetOrder(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, stillPaid.Status)

	assert.NoError(t, h.orders.HandleReservationExpired(ctx, &models.ReservationEvent{OrderID: "unknown"}))
}

func TestPaymentAfterReservationExpiredCancelsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 5})
	assert.Equal(t, 0, h.stock(t, "sku-1").Available)

	require.Len(t, h.expireAll(t), 1)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)

	_, err := h.orders.ProcessPayment(ctx, order.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
	assert.Equal(t, apperr.CodeInvalidOrderState, apperr.CodeOf(err))

	assert.Empty(t, h.payments.GetPaymentsByOrder(ctx, order.ID), "no charge without held stock")
	assert.Equal(t, models.OrderStatusCancelled, h.order(t, order.ID).Status)
	assert.Equal(t, 0, h.inv.confirms)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)

	actions, err := h.saga.PendingActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	// the freed stock can be sold again
	again := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 5})
	_, err = h.orders.ProcessPayment(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, h.stock(t, "sku-1").Available)
}

func TestReservationExpiresWhilePaymentInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	slow := &slowPayments{inner: h.payments, started: make(chan struct{}), release: make(chan struct{})}
	orders := h.withPayments(slow)
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 5})

	done := make(chan error, 1)
	go func() {
		_, err := orders.ProcessPayment(ctx, order.ID)
		done <- err
	}()
	<-slow.started

	expired := h.expireAll(t)
	require.Len(t, expired, 1)
	require.NoError(t, orders.HandleReservationExpired(ctx, &models.ReservationEvent{
		ReservationID: expired[0].ID,
		OrderID:       expired[0].OrderID,
	}))
	assert.Equal(t, models.OrderStatusPending, h.order(t, order.ID).Status, "capture owns the order while in flight")

	close(slow.release)
	err := <-done
	assert.Equal(t, apperr.CodeInvalidOrderState, apperr.CodeOf(err))

	payments := h.payments.GetPaymentsByOrder(ctx, order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusRefunded, payments[0].Status)
	assert.Equal(t, models.RefundReasonReservationLost, payments[0].RefundReason)

	got := h.order(t, order.ID)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, payments[0].ID, got.PaymentID)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)

	actions, err := h.saga.PendingActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions, "rejected confirm must not be queued")

	// a late expiry event changes nothing
	require.NoError(t, orders.HandleReservationExpired(ctx, &models.ReservationEvent{
		ReservationID: expired[0].ID,
		OrderID:       expired[0].OrderID,
	}))
	assert.Equal(t, models.OrderStatusCancelled, h.order(t, order.ID).Status)
}

func TestRejectedConfirmQueuesRefundWhenPaymentsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	down := &switchablePayments{Payments: h.payments}
	h.saga = NewSagaOrchestrator(h.inv, down, h.outbox)
	slow := &slowPayments{inner: h.payments, started: make(chan struct{}), release: make(chan struct{})}
	orders := h.withPayments(slow)
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 1})

	done := make(chan error, 1)
	go func() {
		_, err := orders.ProcessPayment(ctx, order.ID)
		done <- err
	}()
	<-slow.started
	h.expireAll(t)
	down.setDown(true)
	close(slow.release)
	assert.Equal(t, apperr.CodeInvalidOrderState, apperr.CodeOf(<-done))

	actions, err := h.saga.PendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, outbox.KindRefundPayment, actions[0].Kind)
	assert.Equal(t, h.order(t, order.ID).PaymentID, actions[0].PaymentID)
	assert.Equal(t, models.OrderStatusCancelled, h.order(t, order.ID).Status)

	down.setDown(false)
	relay := outbox.NewRelay(h.outbox, h.saga, time.Millisecond)
	require.Eventually(t, func() bool { return relay.RunOnce(ctx) == 1 }, time.Second, 5*time.Millisecond)

	payments := h.payments.GetPaymentsByOrder(ctx, order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusRefunded, payments[0].Status)
}

func TestProcessPaymentRefundsCaptureLostToAnotherReplica(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	racing := &racingRepository{MemoryOrders: h.repo}
	orders := NewOrderService(racing, h.catalog, h.inv, h.payments, h.saga, store.NewMemoryLocker(), h.events, OrderOptions{})

	created, err := orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: "u1",
		Items:  []OrderItemRequest{{ProductID: "sku-1", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = orders.ProcessPayment(ctx, created.ID)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyProcessed))

	payments := h.payments.GetPaymentsByOrder(ctx, created.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusRefunded, payments[0].Status)
	assert.Equal(t, models.RefundReasonDuplicateCapture, payments[0].RefundReason)
	assert.Equal(t, "payment-from-another-replica", h.order(t, created.ID).PaymentID)
}

func TestCancelExpiredOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 2})
	paid := h.createOrder(t, OrderItemRequest{ProductID: "sku-3", Quantity: 1})
	_, err := h.orders.ProcessPayment(ctx, paid.ID)
	require.NoError(t, err)

	later := time.Now().Add(31 * time.Minute)
	n, err := h.orders.CancelExpiredOrders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "ledger still holds the reservation")

	h.ledger.ReleaseExpired(ctx, later)
	n, err = h.orders.CancelExpiredOrders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, models.OrderStatusCancelled, h.order(t, stale.ID).Status)
	assert.Equal(t, models.OrderStatusProcessing, h.order(t, paid.ID).Status)
	assert.Equal(t, 0, h.inv.releases)
	assert.Equal(t, 5, h.stock(t, "sku-1").Available)

	n, err = h.orders.CancelExpiredOrders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCancelExpiredOrdersSkipsYoungOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, OrderItemRequest{ProductID: "sku-1", Quantity: 2})
	_, err := h.ledger.Release(ctx, order.ReservationID, models.ReleaseReasonCancelled)
	require.NoError(t, err)

	n, err := h.orders.CancelExpiredOrders(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, models.OrderStatusPending, h.order(t, order.ID).Status)
}

func TestGetOrdersByUserNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.createOrder(t, OrderItemRequest{ProductID: "sku-3", Quantity: 1})
	time.Sleep(2 * time.Millisecond)
	second := h.createOrder(t, OrderItemRequest{ProductID: "sku-3", Quantity: 1})

	orders, err := h.orders.GetOrdersByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
}
