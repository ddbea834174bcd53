package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockStatus is derived from the available quantity of a stock record
type StockStatus string

const (
	StockStatusInStock      StockStatus = "in_stock"
	StockStatusLowStock     StockStatus = "low_stock"
	StockStatusOutOfStock   StockStatus = "out_of_stock"
	StockStatusDiscontinued StockStatus = "discontinued"
)

// LowStockThreshold is the highest available count still reported as low stock
const LowStockThreshold = 10

// DeriveStockStatus computes the status tag for an available count
func DeriveStockStatus(available int) StockStatus {
	switch {
	case available > LowStockThreshold:
		return StockStatusInStock
	case available > 0:
		return StockStatusLowStock
	default:
		return StockStatusOutOfStock
	}
}

// StockRecord represents the stock the ledger holds for one product
type StockRecord struct {
	ProductID    string      `json:"productId"`
	Quantity     int         `json:"quantity"`
	Reserved     int         `json:"reserved"`
	Available    int         `json:"available"`
	Location     string      `json:"location,omitempty"`
	Status       StockStatus `json:"status"`
	Discontinued bool        `json:"discontinued"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Recompute refreshes the derived fields after quantity or reserved changed
func (s *StockRecord) Recompute(now time.Time) {
	s.Available = s.Quantity - s.Reserved
	if s.Discontinued {
		s.Status = StockStatusDiscontinued
	} else {
		s.Status = DeriveStockStatus(s.Available)
	}
	s.UpdatedAt = now
}

// ReservationStatus is the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusFailed    ReservationStatus = "failed"
)

// Release reasons
const (
	ReleaseReasonCancelled = "cancelled"
	ReleaseReasonExpired   = "expired"
)

// Refund reasons used when the order saga gives a capture back
const (
	RefundReasonReservationLost  = "reservation_lost"
	RefundReasonDuplicateCapture = "duplicate_capture"
)

// Reservation commits stock quantities against an order
type Reservation struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"orderId"`
	Items         map[string]int    `json:"items"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	ReleasedAt    *time.Time        `json:"releasedAt,omitempty"`
	ReleaseReason string            `json:"releaseReason,omitempty"`
}

// Clone returns a deep copy safe to hand out of the ledger
func (r *Reservation) Clone() Reservation {
	c := *r
	c.Items = make(map[string]int, len(r.Items))
	for productID, qty := range r.Items {
		c.Items[productID] = qty
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		c.ReleasedAt = &t
	}
	return c
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Address is a postal address attached to an order
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Order represents a customer order
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Items           []OrderItem     `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress Address         `json:"shippingAddress"`
	BillingAddress  Address         `json:"billingAddress"`
	PaymentID       string          `json:"paymentId,omitempty"`
	ReservationID   string          `json:"reservationId"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Clone returns a copy that does not share the items slice
func (o *Order) Clone() Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return c
}

// OrderItem is a priced order line
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Product is what the catalog returns for a lookup
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// PaymentMethod is how a payment is captured
type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCrypto       PaymentMethod = "crypto"
)

// Valid reports whether m is a supported payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodPayPal, PaymentMethodBankTransfer, PaymentMethodCrypto:
		return true
	}
	return false
}

// PaymentMetadata carries optional customer details for a payment
type PaymentMetadata struct {
	CardLastFour   string   `json:"cardLastFour,omitempty"`
	CardBrand      string   `json:"cardBrand,omitempty"`
	CustomerEmail  string   `json:"customerEmail,omitempty"`
	CustomerName   string   `json:"customerName,omitempty"`
	BillingAddress *Address `json:"billingAddress,omitempty"`
}

// Payment represents a captured payment
type Payment struct {
	ID            string           `json:"id"`
	OrderID       string           `json:"orderId"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	Method        PaymentMethod    `json:"paymentMethod"`
	Status        PaymentStatus    `json:"status"`
	TransactionID string           `json:"transactionId,omitempty"`
	Metadata      *PaymentMetadata `json:"metadata,omitempty"`
	RefundAmount  *decimal.Decimal `json:"refundAmount,omitempty"`
	RefundReason  string           `json:"refundReason,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}
