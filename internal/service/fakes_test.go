package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		switch ev := e.(type) {
		case *models.ReservationEvent:
			out = append(out, ev.EventType)
		case *models.OrderCreatedEvent:
			out = append(out, ev.EventType)
		case *models.OrderPaidEvent:
			out = append(out, ev.EventType)
		case *models.OrderStatusChangedEvent:
			out = append(out, ev.EventType)
		case *models.PaymentEvent:
			out = append(out, ev.EventType)
		}
	}
	return out
}

type fakeCatalog struct {
	products map[string]models.Product
	calls    int
	mu       sync.Mutex
}

func newFakeCatalog(products ...models.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[string]models.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) GetProduct(_ context.Context, productID string) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	p, ok := c.products[productID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", productID)
	}
	return &p, nil
}

func product(id, name, price string) models.Product {
	return models.Product{ID: id, Name: name, Price: decimal.RequireFromString(price)}
}

// flakyInventory wraps a ledger and fails confirm/release calls while down is set
type flakyInventory struct {
	*InventoryLedger
	mu       sync.Mutex
	down     bool
	confirms int
	releases int
}

var errInventoryDown = apperr.New(apperr.KindUnavailable, apperr.CodeServiceUnavailable, "inventory unavailable")

func (f *flakyInventory) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyInventory) Confirm(ctx context.Context, reservationID string) (*models.Reservation, error) {
	f.mu.Lock()
	f.confirms++
	down := f.down
	f.mu.Unlock()
	if down {
		return nil, errInventoryDown
	}
	return f.InventoryLedger.Confirm(ctx, reservationID)
}

func (f *flakyInventory) Release(ctx context.Context, reservationID, reason string) (*models.Reservation, error) {
	f.mu.Lock()
	f.releases++
	down := f.down
	f.mu.Unlock()
	if down {
		return nil, errInventoryDown
	}
	return f.InventoryLedger.Release(ctx, reservationID, reason)
}

// slowPayments blocks captures until release is closed
type slowPayments struct {
	inner   Payments
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowPayments) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.Payment, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-time.After(5 * time.Second):
		return nil, errors.New("capture timed out")
	}
	return s.inner.CreatePayment(ctx, req)
}

func (s *slowPayments) RefundPayment(ctx context.Context, paymentID string, req *RefundRequest) (*models.Payment, error) {
	return s.inner.RefundPayment(ctx, paymentID, req)
}

type failingPayments struct{}

func (failingPayments) CreatePayment(context.Context, *CreatePaymentRequest) (*models.Payment, error) {
	return nil, apperr.New(apperr.KindUnavailable, apperr.CodeServiceUnavailable, "payment unavailable")
}

func (failingPayments) RefundPayment(context.Context, string, *RefundRequest) (*models.Payment, error) {
	return nil, apperr.New(apperr.KindUnavailable, apperr.CodeServiceUnavailable, "payment unavailable")
}

// switchablePayments fails refunds while down is set
type switchablePayments struct {
	Payments
	mu   sync.Mutex
	down bool
}

func (p *switchablePayments) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

func (p *switchablePayments) RefundPayment(ctx context.Context, paymentID string, req *RefundRequest) (*models.Payment, error) {
	p.mu.Lock()
	down := p.down
	p.mu.Unlock()
	if down {
		return nil, apperr.New(apperr.KindUnavailable, apperr.CodeServiceUnavailable, "payment unavailable")
	}
	return p.Payments.RefundPayment(ctx, paymentID, req)
}

// racingRepository stores a competing payment id right before the first
// payment is recorded, the way a second replica would.
type racingRepository struct {
	*store.MemoryOrders
	once sync.Once
}

func (r *racingRepository) UpdateOrder(ctx context.Context, order *models.Order) error {
	if order.PaymentID != "" {
		r.once.Do(func() {
			other := order.Clone()
			other.PaymentID = "payment-from-another-replica"
			_ = r.MemoryOrders.UpdateOrder(ctx, &other)
		})
	}
	return r.MemoryOrders.UpdateOrder(ctx, order)
}

type failingRepository struct {
	OrderRepository
}

func (failingRepository) CreateOrder(context.Context, *models.Order) error {
	return errors.New("disk full")
}

func (failingRepository) GetOrderByIdempotencyKey(context.Context, string) (*models.Order, error) {
	return nil, nil
}
