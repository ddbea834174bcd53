package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"

	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	Items           []byte          `db:"items"`
	Total           decimal.Decimal `db:"total"`
	Status          string          `db:"status"`
	ShippingAddress []byte          `db:"shipping_address"`
	BillingAddress  []byte          `db:"billing_address"`
	PaymentID       sql.NullString  `db:"payment_id"`
	ReservationID   string          `db:"reservation_id"`
	IdempotencyKey  sql.NullString  `db:"idempotency_key"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

const orderColumns = `id, user_id, items, total, status, shipping_address, billing_address,
	payment_id, reservation_id, idempotency_key, created_at, updated_at`

func toRow(o *models.Order) (*orderRow, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shipping address: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode billing address: %w", err)
	}
	return &orderRow{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           items,
		Total:           o.Total,
		Status:          string(o.Status),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentID:       sql.NullString{String: o.PaymentID, Valid: o.PaymentID != ""},
		ReservationID:   o.ReservationID,
		IdempotencyKey:  sql.NullString{String: o.IdempotencyKey, Valid: o.IdempotencyKey != ""},
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func (r *orderRow) toOrder() (*models.Order, error) {
	o := &models.Order{
		ID:             r.ID,
		UserID:         r.UserID,
		Total:          r.Total,
		Status:         models.OrderStatus(r.Status),
		PaymentID:      r.PaymentID.String,
		ReservationID:  r.ReservationID,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of order %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.ShippingAddress, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address of order %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.BillingAddress, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode billing address of order %s: %w", r.ID, err)
	}
	return o, nil
}

// CreateOrder inserts a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	row, err := toRow(order)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :user_id, :items, :total, :status, :shipping_address, :billing_address,
			:payment_id, :reservation_id, :idempotency_key, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrder stores the mutable fields of an order. A payment id, once set,
// is never replaced.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	row, err := toRow(order)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE orders
		SET status = :status, payment_id = :payment_id, updated_at = :updated_at
		WHERE id = :id AND (payment_id IS NULL OR payment_id = :payment_id)`, row)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", order.ID); err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", order.ID)
	}
	return apperr.New(apperr.KindAlreadyProcessed, apperr.CodePaymentAlreadyProcessed,
		"order %s already has a different payment", order.ID)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toOrder()
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, or nil when none exists
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toOrder()
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	return toOrders(rows)
}

// GetOrdersByStatus retrieves orders in status created before createdBefore, oldest first
func (s *Store) GetOrdersByStatus(ctx context.Context, status models.OrderStatus, createdBefore time.Time) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at",
		string(status), createdBefore)
	if err != nil {
		return nil, err
	}
	return toOrders(rows)
}

func toOrders(rows []orderRow) ([]models.Order, error) {
	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}
