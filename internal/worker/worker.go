package worker

import (
	"context"
	"time"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// ReservationExpiryHandler reacts to reservations released by the sweeper
type ReservationExpiryHandler interface {
	HandleReservationExpired(ctx context.Context, event *models.ReservationEvent) error
}

// OrderWorker consumes inventory events on behalf of the order role
type OrderWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewOrderWorker creates a new order worker
func NewOrderWorker(consumer *broker.Consumer, orders ReservationExpiryHandler) *OrderWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnReservationExpired(orders.HandleReservationExpired)

	return &OrderWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *OrderWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderWorker) Stop() error {
	w.logger.Info("Stopping order worker")
	return w.consumer.Close()
}

// ExpiringLedger releases reservations that outlived their TTL
type ExpiringLedger interface {
	ReleaseExpired(ctx context.Context, now time.Time) []models.Reservation
}

// ReservationSweeper periodically releases expired reservations
type ReservationSweeper struct {
	ledger   ExpiringLedger
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewReservationSweeper creates a sweeper. A non-positive interval disables it.
func NewReservationSweeper(ledger ExpiringLedger, interval time.Duration) *ReservationSweeper {
	return &ReservationSweeper{
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweeper until ctx is cancelled
func (s *ReservationSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Reservation sweeper disabled")
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.logger.Info("Starting reservation sweeper", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping reservation sweeper")
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns how many reservations were released
func (s *ReservationSweeper) Sweep(ctx context.Context) int {
	expired := s.ledger.ReleaseExpired(ctx, s.now())
	if len(expired) > 0 {
		s.logger.Info("Released expired reservations", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// ExpiredOrderCanceller cancels pending orders whose reservation is gone
type ExpiredOrderCanceller interface {
	CancelExpiredOrders(ctx context.Context, now time.Time) (int, error)
}

// OrderSweeper periodically cancels orders whose reservation expired. It
// keeps orders consistent with the ledger when no broker carries expiry events.
type OrderSweeper struct {
	orders   ExpiredOrderCanceller
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewOrderSweeper creates a sweeper. A non-positive interval disables it.
func NewOrderSweeper(orders ExpiredOrderCanceller, interval time.Duration) *OrderSweeper {
	return &OrderSweeper{
		orders:   orders,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweeper until ctx is cancelled
func (s *OrderSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Order sweeper disabled")
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.logger.Info("Starting order sweeper", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping order sweeper")
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many orders were cancelled
func (s *OrderSweeper) Sweep(ctx context.Context) int {
	n, err := s.orders.CancelExpiredOrders(ctx, s.now())
	if err != nil {
		s.logger.Error("Order sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("Cancelled orders with expired reservations", zap.Int("count", n))
	}
	return n
}
