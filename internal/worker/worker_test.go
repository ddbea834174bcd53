package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/outbox"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLedger struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLedger) ReleaseExpired(context.Context, time.Time) []models.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

func (l *countingLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestSweepReleasesExpiredReservations(t *testing.T) {
	ctx := context.Background()
	ledger := service.NewInventoryLedger(nil, time.Minute)
	_, err := ledger.CreateStock(ctx, "sku-1", &service.CreateStockRequest{Quantity: 5})
	require.NoError(t, err)
	res, err := ledger.Reserve(ctx, "o1", map[string]int{"sku-1": 3})
	require.NoError(t, err)

	sweeper := NewReservationSweeper(ledger, time.Minute)
	assert.Equal(t, 0, sweeper.Sweep(ctx))

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	got, err := ledger.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusReleased, got.Status)
	assert.Equal(t, models.ReleaseReasonExpired, got.ReleaseReason)

	rec, err := ledger.GetStock(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Available)
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	ledger := &countingLedger{}
	sweeper := NewReservationSweeper(ledger, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ledger.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDisabledSweeperReturnsImmediately(t *testing.T) {
	ledger := &countingLedger{}
	sweeper := NewReservationSweeper(ledger, 0)

	sweeper.Start(context.Background())
	assert.Equal(t, 0, ledger.count())
}

type fixedCatalog struct{}

func (fixedCatalog) GetProduct(_ context.Context, id string) (*models.Product, error) {
	return &models.Product{ID: id, Name: id, Price: decimal.RequireFromString("2.50")}, nil
}

type failingCanceller struct{ calls int }

func (c *failingCanceller) CancelExpiredOrders(context.Context, time.Time) (int, error) {
	c.calls++
	return 0, assert.AnError
}

func TestOrderSweepCancelsOrdersOfExpiredReservations(t *testing.T) {
	ctx := context.Background()
	ledger := service.NewInventoryLedger(nil, 30*time.Minute)
	_, err := ledger.CreateStock(ctx, "sku-1", &service.CreateStockRequest{Quantity: 5})
	require.NoError(t, err)

	payments := service.NewPaymentService(nil, "USD")
	saga := service.NewSagaOrchestrator(ledger, payments, outbox.NewMemoryStore(time.Second, time.Minute))
	orders := service.NewOrderService(store.NewMemoryOrders(), fixedCatalog{}, ledger, payments, saga,
		store.NewMemoryLocker(), nil, service.OrderOptions{ReservationTTL: 30 * time.Minute})

	order, err := orders.CreateOrder(ctx, &service.CreateOrderRequest{
		UserID: "u1",
		Items:  []service.OrderItemRequest{{ProductID: "sku-1", Quantity: 5}},
	})
	require.NoError(t, err)

	later := time.Now().Add(31 * time.Minute)
	sweeper := NewOrderSweeper(orders, time.Minute)
	sweeper.now = func() time.Time { return later }

	assert.Equal(t, 0, sweeper.Sweep(ctx), "reservation still held")

	require.Len(t, ledger.ReleaseExpired(ctx, later), 1)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	assert.Equal(t, 0, sweeper.Sweep(ctx))

	got, err := orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
}

func TestOrderSweepSurvivesErrors(t *testing.T) {
	canceller := &failingCanceller{}
	sweeper := NewOrderSweeper(canceller, time.Minute)

	assert.Equal(t, 0, sweeper.Sweep(context.Background()))
	assert.Equal(t, 1, canceller.calls)

	NewOrderSweeper(canceller, 0).Start(context.Background())
	assert.Equal(t, 1, canceller.calls)
}
