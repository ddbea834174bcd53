package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderOptions carries the business defaults of the order role
type OrderOptions struct {
	Currency       string
	PaymentMethod  models.PaymentMethod
	IdempotencyTTL time.Duration
	// ReservationTTL is how old a pending order must be before the expiry sweep looks at it
	ReservationTTL time.Duration
}

// OrderService owns orders and drives the fulfillment saga
type OrderService struct {
	repo      OrderRepository
	catalog   Catalog
	inventory Inventory
	payments  Payments
	saga      *SagaOrchestrator
	locker    Locker
	events    EventPublisher
	opts      OrderOptions
	logger    *zap.Logger

	// mu serializes read-modify-write of orders. It is never held across remote calls.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrderService creates a new order service
func NewOrderService(
	repo OrderRepository,
	catalog Catalog,
	inventory Inventory,
	payments Payments,
	saga *SagaOrchestrator,
	locker Locker,
	events EventPublisher,
	opts OrderOptions,
) *OrderService {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.PaymentMethod == "" {
		opts.PaymentMethod = models.PaymentMethodCreditCard
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 30 * time.Minute
	}
	return &OrderService{
		repo:      repo,
		catalog:   catalog,
		inventory: inventory,
		payments:  payments,
		saga:      saga,
		locker:    locker,
		events:    events,
		opts:      opts,
		logger:    util.GetLogger(),
		inFlight:  make(map[string]struct{}),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID          string             `json:"userId" binding:"required"`
	Items           []OrderItemRequest `json:"items"`
	ShippingAddress models.Address     `json:"shippingAddress"`
	BillingAddress  models.Address     `json:"billingAddress"`
	IdempotencyKey  string             `json:"idempotencyKey,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (r *CreateOrderRequest) validate() error {
	if r.UserID == "" {
		return apperr.InvalidRequest("user id is required")
	}
	if len(r.Items) == 0 {
		return apperr.InvalidRequest("at least one item is required")
	}
	for i, item := range r.Items {
		if item.ProductID == "" {
			return apperr.InvalidRequest("item %d: product id is required", i)
		}
		if item.Quantity <= 0 {
			return apperr.InvalidRequest("item %d: quantity must be positive", i)
		}
	}
	return nil
}

// CreateOrder prices the lines, reserves stock and stores a pending order
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, nil
		}

		lockKey := "order:idempotency:" + req.IdempotencyKey
		acquired, err := s.locker.AcquireLock(ctx, lockKey, s.opts.IdempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire idempotency lock: %w", err)
		}
		if !acquired {
			return nil, apperr.New(apperr.KindAlreadyProcessed, apperr.CodeDuplicateRequest,
				"an order with idempotency key %s is already being created", req.IdempotencyKey)
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey); err != nil {
				s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
			}
		}()

		// another request may have finished between the lookup and the lock
		existing, err = s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	items, total, err := s.priceItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("catalog").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	orderID := uuid.New().String()
	reservation, err := s.inventory.Reserve(ctx, orderID, reserveLines(req.Items))
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("reservation").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("inventory reservation failed: %w", err)
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:              orderID,
		UserID:          req.UserID,
		Items:           items,
		Total:           total,
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		ReservationID:   reservation.ID,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		s.logger.Error("Failed to store order, releasing reservation",
			zap.String("order_id", orderID),
			zap.String("reservation_id", reservation.ID),
			zap.Error(err))
		s.saga.ReleaseReservation(ctx, orderID, reservation.ID, models.ReleaseReasonCancelled)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.String()))

	s.publish(ctx, order.ID, &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		ReservationID: order.ReservationID,
		Total:         order.Total,
		Items:         order.Items,
	})

	out := order.Clone()
	return &out, nil
}

// priceItems looks each line up in the catalog, stopping at the first failure
func (s *OrderService) priceItems(ctx context.Context, lines []OrderItemRequest) ([]models.OrderItem, decimal.Decimal, error) {
	items := make([]models.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		p, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("failed to look up product %s: %w", line.ProductID, err)
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  line.Quantity,
			Subtotal:  subtotal,
		})
		total = total.Add(subtotal)
	}
	return items, total, nil
}

// reserveLines sums quantities of repeated products
func reserveLines(lines []OrderItemRequest) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.ProductID] += line.Quantity
	}
	return out
}

// GetOrder retrieves an order by id
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.repo.GetOrderByID(ctx, orderID)
}

// GetOrdersByUser returns a user's orders, newest first
func (s *OrderService) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrdersByUser")
	defer span.End()

	orders, err := s.repo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

// ProcessPayment captures the order total once and confirms the reservation.
// An order whose stock is no longer held is cancelled instead of charged, and a
// capture whose reservation cannot be confirmed is refunded.
func (s *OrderService) ProcessPayment(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ProcessPayment")
	defer span.End()

	order, err := s.claimPayment(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	defer s.unclaimPayment(orderID)

	if err := s.checkReservation(ctx, order); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	payment, err := s.payments.CreatePayment(ctx, &CreatePaymentRequest{
		OrderID:       order.ID,
		Amount:        order.Total,
		Currency:      s.opts.Currency,
		PaymentMethod: s.opts.PaymentMethod,
	})
	util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("Payment capture failed",
			zap.String("order_id", orderID),
			zap.Error(err))
		util.RecordError(span, err)
		return nil, fmt.Errorf("payment failed: %w", err)
	}

	updated, err := s.recordPayment(ctx, orderID, payment.ID)
	if err != nil {
		s.logger.Error("Payment captured but order not updated",
			zap.String("order_id", orderID),
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		if apperr.Is(err, apperr.KindAlreadyProcessed) {
			s.refund(ctx, orderID, payment.ID, models.RefundReasonDuplicateCapture)
		}
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid",
		zap.String("order_id", orderID),
		zap.String("payment_id", payment.ID))

	s.publish(ctx, orderID, &models.OrderPaidEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:   orderID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
	})

	if err := s.saga.ConfirmReservation(ctx, orderID, updated.ReservationID); err != nil {
		s.logger.Error("Reservation rejected after capture, refunding",
			zap.String("order_id", orderID),
			zap.String("reservation_id", updated.ReservationID),
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		s.refund(ctx, orderID, payment.ID, models.RefundReasonReservationLost)
		paid := func(o *models.Order, _ bool) (bool, error) {
			return o.Status == models.OrderStatusProcessing && o.PaymentID == payment.ID, nil
		}
		if _, _, cerr := s.cancel(ctx, orderID, paid, "reservation rejected after capture"); cerr != nil {
			s.logger.Error("Failed to cancel refunded order", zap.String("order_id", orderID), zap.Error(cerr))
		}
		err = apperr.Wrap(err, apperr.KindInvalidState, apperr.CodeInvalidOrderState,
			"order %s could not be fulfilled, payment %s refunded", orderID, payment.ID)
		util.RecordError(span, err)
		return nil, err
	}
	return updated, nil
}

// checkReservation refuses to charge an order whose stock the ledger no
// longer holds, cancelling the order in that case.
func (s *OrderService) checkReservation(ctx context.Context, order *models.Order) error {
	res, err := s.inventory.GetReservation(ctx, order.ReservationID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return fmt.Errorf("failed to check reservation: %w", err)
	}
	if err == nil && res.Status == models.ReservationStatusPending {
		return nil
	}

	reason := "reservation not found"
	if err == nil {
		reason = "reservation " + string(res.Status)
	}
	if _, _, cerr := s.cancel(ctx, order.ID, ownsReservation(order.ReservationID, true), reason); cerr != nil {
		s.logger.Error("Failed to cancel unpayable order", zap.String("order_id", order.ID), zap.Error(cerr))
	}
	return apperr.InvalidState(apperr.CodeInvalidOrderState,
		"order %s can no longer be paid: %s", order.ID, reason)
}

func (s *OrderService) refund(ctx context.Context, orderID, paymentID, reason string) {
	if err := s.saga.RefundPayment(ctx, orderID, paymentID, reason); err != nil {
		s.logger.Error("Refund rejected",
			zap.String("order_id", orderID),
			zap.String("payment_id", paymentID),
			zap.Error(err))
	}
}

func (s *OrderService) claimPayment(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentID != "" {
		return nil, apperr.New(apperr.KindAlreadyProcessed, apperr.CodePaymentAlreadyProcessed,
			"order %s is already paid", orderID)
	}
	if _, busy := s.inFlight[orderID]; busy {
		return nil, apperr.New(apperr.KindAlreadyProcessed, apperr.CodePaymentAlreadyProcessed,
			"payment for order %s is already in progress", orderID)
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, apperr.InvalidState(apperr.CodeInvalidOrderState, "order %s is cancelled", orderID)
	}
	s.inFlight[orderID] = struct{}{}
	return order, nil
}

func (s *OrderService) unclaimPayment(orderID string) {
	s.mu.Lock()
	delete(s.inFlight, orderID)
	s.mu.Unlock()
}

// recordPayment stores the payment id. The repository refuses to replace a
// different one, so a capture made by another replica surfaces as AlreadyProcessed.
func (s *OrderService) recordPayment(ctx context.Context, orderID, paymentID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.PaymentID = paymentID
	order.Status = models.OrderStatusProcessing
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	return order, nil
}

// UpdateStatus overwrites the order status. Entering cancelled releases the reservation.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !status.Valid() {
		return nil, apperr.InvalidRequest("unknown order status %q", status)
	}

	guard := func(_ *models.Order, paying bool) (bool, error) {
		if status == models.OrderStatusCancelled && paying {
			return false, apperr.InvalidState(apperr.CodeInvalidOrderState,
				"order %s has a payment in progress", orderID)
		}
		return true, nil
	}
	order, previous, _, err := s.setStatus(ctx, orderID, status, guard)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)))

	s.publish(ctx, orderID, &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      previous,
		To:        status,
	})

	if status == models.OrderStatusCancelled && previous != models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		s.saga.ReleaseReservation(ctx, orderID, order.ReservationID, models.ReleaseReasonCancelled)
	}
	return order, nil
}

// orderGuard decides whether a status write applies to the stored order.
// paying reports whether a payment capture currently holds the order.
type orderGuard func(o *models.Order, paying bool) (bool, error)

// ownsReservation accepts pending orders still holding reservationID. Unless
// payerOK is set it also steps aside while a capture is in flight, leaving
// the capture to settle the order.
func ownsReservation(reservationID string, payerOK bool) orderGuard {
	return func(o *models.Order, paying bool) (bool, error) {
		if paying && !payerOK {
			return false, nil
		}
		return o.Status == models.OrderStatusPending && o.ReservationID == reservationID, nil
	}
}

// setStatus stores a new status and returns the order with its previous status.
// The write only happens if guard accepts the current order.
func (s *OrderService) setStatus(
	ctx context.Context,
	orderID string,
	status models.OrderStatus,
	guard orderGuard,
) (*models.Order, models.OrderStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, "", false, err
	}
	previous := order.Status
	_, paying := s.inFlight[orderID]
	ok, err := guard(order, paying)
	if err != nil {
		return nil, "", false, err
	}
	if !ok {
		return order, previous, false, nil
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return nil, "", false, fmt.Errorf("failed to update order status: %w", err)
	}
	return order, previous, true, nil
}

// cancel moves an order the saga can no longer complete to cancelled and
// announces it. Nothing is released: callers use it once the stock is gone.
func (s *OrderService) cancel(ctx context.Context, orderID string, guard orderGuard, reason string) (*models.Order, bool, error) {
	order, previous, applied, err := s.setStatus(ctx, orderID, models.OrderStatusCancelled, guard)
	if err != nil || !applied {
		return order, applied, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", order.ID),
		zap.String("reservation_id", order.ReservationID),
		zap.String("reason", reason))

	s.publish(ctx, order.ID, &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   order.ID,
		From:      previous,
		To:        models.OrderStatusCancelled,
	})
	return order, true, nil
}

// HandleReservationExpired cancels the pending order that owned an expired
// reservation. The ledger already returned the stock. An order with a capture
// in flight is left to the capture, whose confirm will be rejected.
func (s *OrderService) HandleReservationExpired(ctx context.Context, event *models.ReservationEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleReservationExpired")
	defer span.End()

	_, _, err := s.cancel(ctx, event.OrderID, ownsReservation(event.ReservationID, false), "reservation expired")
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.logger.Debug("Expired reservation has no order",
				zap.String("reservation_id", event.ReservationID),
				zap.String("order_id", event.OrderID))
			return nil
		}
		return fmt.Errorf("failed to cancel order for expired reservation: %w", err)
	}
	return nil
}

// CancelExpiredOrders cancels pending orders older than the reservation TTL
// whose reservation the ledger has released or forgotten. It returns how many
// orders it cancelled.
func (s *OrderService) CancelExpiredOrders(ctx context.Context, now time.Time) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelExpiredOrders")
	defer span.End()

	stale, err := s.repo.GetOrdersByStatus(ctx, models.OrderStatusPending, now.Add(-s.opts.ReservationTTL))
	if err != nil {
		util.RecordError(span, err)
		return 0, fmt.Errorf("failed to list pending orders: %w", err)
	}

	cancelled := 0
	for i := range stale {
		order := &stale[i]
		res, err := s.inventory.GetReservation(ctx, order.ReservationID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			s.logger.Warn("Failed to check reservation of pending order",
				zap.String("order_id", order.ID),
				zap.String("reservation_id", order.ReservationID),
				zap.Error(err))
			continue
		}
		if err == nil && res.Status != models.ReservationStatusReleased {
			continue
		}

		_, applied, err := s.cancel(ctx, order.ID, ownsReservation(order.ReservationID, false), "reservation expired")
		if err != nil {
			s.logger.Error("Failed to cancel expired order", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		if applied {
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *OrderService) publish(ctx context.Context, key string, event interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, key, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("order_id", key),
			zap.Error(err))
	}
}
