package service

import (
	"context"
	"time"

	"order-fulfillment/internal/models"
)

// Inventory is the part of the inventory ledger the order saga drives.
// Implemented in-process by InventoryLedger and remotely by clients.InventoryClient.
type Inventory interface {
	Reserve(ctx context.Context, orderID string, items map[string]int) (*models.Reservation, error)
	Confirm(ctx context.Context, reservationID string) (*models.Reservation, error)
	Release(ctx context.Context, reservationID, reason string) (*models.Reservation, error)
	GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error)
}

// Payments captures and refunds payments for orders
type Payments interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, req *RefundRequest) (*models.Payment, error)
}

// Catalog resolves product names and prices
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
}

// OrderRepository persists orders. UpdateOrder must refuse to replace a
// payment id that is already set, answering AlreadyProcessed.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	GetOrdersByStatus(ctx context.Context, status models.OrderStatus, createdBefore time.Time) ([]models.Order, error)
}

// Locker guards work that must not run twice concurrently for the same key
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// EventPublisher publishes domain events keyed by aggregate id
type EventPublisher interface {
	Publish(ctx context.Context, key string, event interface{}) error
}
