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

// CreatePaymentRequest represents a request to capture a payment
type CreatePaymentRequest struct {
	OrderID       string                  `json:"orderId" binding:"required"`
	Amount        decimal.Decimal         `json:"amount"`
	Currency      string                  `json:"currency,omitempty"`
	PaymentMethod models.PaymentMethod    `json:"paymentMethod" binding:"required"`
	Metadata      *models.PaymentMetadata `json:"metadata,omitempty"`
}

// RefundRequest represents a request to refund a completed payment.
// A nil amount refunds the full payment.
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" binding:"required"`
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending:    {models.PaymentStatusProcessing},
	models.PaymentStatusProcessing: {models.PaymentStatusCompleted, models.PaymentStatusFailed},
	models.PaymentStatusCompleted:  {models.PaymentStatusRefunded},
}

func canTransition(from, to models.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentService captures and refunds payments (simulated gateway)
type PaymentService struct {
	mu       sync.Mutex
	payments map[string]*models.Payment

	defaultCurrency string
	now             func() time.Time
	events          EventPublisher
	logger          *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(events EventPublisher, defaultCurrency string) *PaymentService {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &PaymentService{
		payments:        make(map[string]*models.Payment),
		defaultCurrency: defaultCurrency,
		now:             time.Now,
		events:          events,
		logger:          util.GetLogger(),
	}
}

// CreatePayment records a payment and runs it through the gateway
func (ps *PaymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()

	if req.OrderID == "" {
		return nil, apperr.InvalidRequest("order id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.InvalidRequest("amount must be positive")
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperr.InvalidRequest("unsupported payment method %q", req.PaymentMethod)
	}

	currency := req.Currency
	if currency == "" {
		currency = ps.defaultCurrency
	}

	now := ps.now()
	payment := &models.Payment{
		ID:        uuid.New().String(),
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  currency,
		Method:    req.PaymentMethod,
		Status:    models.PaymentStatusPending,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := ps.capture(payment); err != nil {
		util.PaymentFailedTotal.Inc()
		util.RecordError(span, err)
		return nil, err
	}

	ps.mu.Lock()
	ps.payments[payment.ID] = payment
	out := *payment
	ps.mu.Unlock()

	util.PaymentSuccessTotal.Inc()
	ps.logger.Info("Payment completed",
		zap.String("payment_id", out.ID),
		zap.String("order_id", out.OrderID),
		zap.String("amount", out.Amount.String()),
		zap.String("tx_id", out.TransactionID))

	ps.publish(ctx, models.EventTypePaymentCompleted, &out, "")
	return &out, nil
}

// capture drives a new payment through processing to completed. The
// simulated gateway always approves.
func (ps *PaymentService) capture(p *models.Payment) error {
	if err := ps.transition(p, models.PaymentStatusProcessing); err != nil {
		return err
	}
	p.TransactionID = fmt.Sprintf("txn_%s", uuid.New().String())
	return ps.transition(p, models.PaymentStatusCompleted)
}

func (ps *PaymentService) transition(p *models.Payment, to models.PaymentStatus) error {
	if !canTransition(p.Status, to) {
		return apperr.InvalidState(apperr.CodeInvalidPaymentState,
			"payment %s cannot move from %s to %s", p.ID, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = ps.now()
	return nil
}

// GetPayment retrieves a payment by id
func (ps *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	_, span := util.StartSpan(ctx, "PaymentService.GetPayment")
	defer span.End()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.payments[paymentID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodePaymentNotFound, "payment %s not found", paymentID)
	}
	out := *p
	return &out, nil
}

// GetPaymentsByOrder returns the payments recorded for an order, oldest first
func (ps *PaymentService) GetPaymentsByOrder(ctx context.Context, orderID string) []models.Payment {
	_, span := util.StartSpan(ctx, "PaymentService.GetPaymentsByOrder")
	defer span.End()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]models.Payment, 0)
	for _, p := range ps.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RefundPayment refunds a completed payment in full or in part
func (ps *PaymentService) RefundPayment(ctx context.Context, paymentID string, req *RefundRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundPayment")
	defer span.End()

	ps.mu.Lock()
	p, ok := ps.payments[paymentID]
	if !ok {
		ps.mu.Unlock()
		return nil, apperr.NotFound(apperr.CodePaymentNotFound, "payment %s not found", paymentID)
	}
	if p.Status != models.PaymentStatusCompleted {
		status := p.Status
		ps.mu.Unlock()
		return nil, apperr.InvalidState(apperr.CodeInvalidRefundState,
			"payment %s cannot be refunded: status=%s", paymentID, status)
	}

	amount := p.Amount
	if req.Amount != nil {
		if !req.Amount.IsPositive() || req.Amount.GreaterThan(p.Amount) {
			ps.mu.Unlock()
			return nil, apperr.InvalidRequest("refund amount must be between 0 and %s", p.Amount.String())
		}
		amount = *req.Amount
	}

	if err := ps.transition(p, models.PaymentStatusRefunded); err != nil {
		ps.mu.Unlock()
		return nil, err
	}
	p.RefundAmount = &amount
	p.RefundReason = req.Reason
	out := *p
	ps.mu.Unlock()

	util.PaymentRefundsTotal.Inc()
	ps.logger.Info("Payment refunded",
		zap.String("payment_id", paymentID),
		zap.String("amount", amount.String()),
		zap.String("reason", req.Reason))

	ps.publish(ctx, models.EventTypePaymentRefunded, &out, req.Reason)
	return &out, nil
}

func (ps *PaymentService) publish(ctx context.Context, eventType string, p *models.Payment, reason string) {
	if ps.events == nil {
		return
	}
	event := &models.PaymentEvent{
		BaseEvent:     models.NewBaseEvent(eventType),
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		Reason:        reason,
	}
	if err := ps.events.Publish(ctx, p.OrderID, event); err != nil {
		ps.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}
}
