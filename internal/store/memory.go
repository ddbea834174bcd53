package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
)

// MemoryOrders is the default order repository. Orders are lost on restart.
type MemoryOrders struct {
	mu            sync.RWMutex
	orders        map[string]*models.Order
	byIdempotency map[string]string
}

// NewMemoryOrders creates an empty order repository
func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{
		orders:        make(map[string]*models.Order),
		byIdempotency: make(map[string]string),
	}
}

// CreateOrder stores a new order and claims its idempotency key
func (m *MemoryOrders) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return apperr.New(apperr.KindAlreadyExists, apperr.CodeInvalidRequest, "order %s already exists", order.ID)
	}
	if order.IdempotencyKey != "" {
		if _, taken := m.byIdempotency[order.IdempotencyKey]; taken {
			return apperr.New(apperr.KindAlreadyExists, apperr.CodeDuplicateRequest,
				"idempotency key %s already used", order.IdempotencyKey)
		}
		m.byIdempotency[order.IdempotencyKey] = order.ID
	}
	stored := order.Clone()
	m.orders[order.ID] = &stored
	return nil
}

// UpdateOrder replaces a stored order. A payment id, once set, is never replaced.
func (m *MemoryOrders) UpdateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.orders[order.ID]
	if !exists {
		return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", order.ID)
	}
	if current.PaymentID != "" && current.PaymentID != order.PaymentID {
		return apperr.New(apperr.KindAlreadyProcessed, apperr.CodePaymentAlreadyProcessed,
			"order %s already has a different payment", order.ID)
	}
	stored := order.Clone()
	m.orders[order.ID] = &stored
	return nil
}

// GetOrderByID returns a copy of an order
func (m *MemoryOrders) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
	}
	out := o.Clone()
	return &out, nil
}

// GetOrderByIdempotencyKey returns the order created with key, or nil
func (m *MemoryOrders) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byIdempotency[key]
	if !ok {
		return nil, nil
	}
	out := m.orders[id].Clone()
	return &out, nil
}

// GetOrdersByUserID returns a user's orders, newest first
func (m *MemoryOrders) GetOrdersByUserID(_ context.Context, userID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetOrdersByStatus returns orders in status created before createdBefore, oldest first
func (m *MemoryOrders) GetOrdersByStatus(_ context.Context, status models.OrderStatus, createdBefore time.Time) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.Status == status && o.CreatedAt.Before(createdBefore) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryLocker is a process-local lock table with expiring entries
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryLocker creates an empty lock table
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time), now: time.Now}
}

// AcquireLock takes key for ttl unless an unexpired holder has it
func (m *MemoryLocker) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiresAt, held := m.locks[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

// ReleaseLock drops key
func (m *MemoryLocker) ReleaseLock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.locks, key)
	return nil
}
