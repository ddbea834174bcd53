package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeReservationCreated   = "RESERVATION_CREATED"
	EventTypeReservationConfirmed = "RESERVATION_CONFIRMED"
	EventTypeReservationReleased  = "RESERVATION_RELEASED"
	EventTypeReservationExpired   = "RESERVATION_EXPIRED"
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderPaid            = "ORDER_PAID"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypePaymentCompleted     = "PAYMENT_COMPLETED"
	EventTypePaymentRefunded      = "PAYMENT_REFUNDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// ReservationEvent is published for every reservation transition
type ReservationEvent struct {
	BaseEvent
	ReservationID string         `json:"reservation_id"`
	OrderID       string         `json:"order_id"`
	Items         map[string]int `json:"items"`
	Reason        string         `json:"reason,omitempty"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	ReservationID string          `json:"reservation_id"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderItem     `json:"items"`
}

// OrderPaidEvent published when payment capture succeeds for an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// OrderStatusChangedEvent published on every status overwrite
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// PaymentEvent published by the payment processor
type PaymentEvent struct {
	BaseEvent
	PaymentID     string          `json:"payment_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}
