package service

import (
	"context"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/outbox"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// SagaOrchestrator runs the steps of the order saga that must not be lost.
// A step that fails transiently is parked in the outbox and retried by the
// relay. A step the other side rejects is returned to the caller instead.
type SagaOrchestrator struct {
	inventory Inventory
	payments  Payments
	outbox    outbox.Store
	logger    *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(inventory Inventory, payments Payments, store outbox.Store) *SagaOrchestrator {
	return &SagaOrchestrator{
		inventory: inventory,
		payments:  payments,
		outbox:    store,
		logger:    util.GetLogger(),
	}
}

// ConfirmReservation confirms the reservation of a paid order
func (so *SagaOrchestrator) ConfirmReservation(ctx context.Context, orderID, reservationID string) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.ConfirmReservation")
	defer span.End()

	return so.run(ctx, outbox.Action{
		Kind:          outbox.KindConfirmReservation,
		OrderID:       orderID,
		ReservationID: reservationID,
	})
}

// ReleaseReservation returns the stock held for an order
func (so *SagaOrchestrator) ReleaseReservation(ctx context.Context, orderID, reservationID, reason string) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.ReleaseReservation")
	defer span.End()

	return so.run(ctx, outbox.Action{
		Kind:          outbox.KindReleaseReservation,
		OrderID:       orderID,
		ReservationID: reservationID,
		Reason:        reason,
	})
}

// RefundPayment gives back a capture the order can no longer use
func (so *SagaOrchestrator) RefundPayment(ctx context.Context, orderID, paymentID, reason string) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.RefundPayment")
	defer span.End()

	return so.run(ctx, outbox.Action{
		Kind:      outbox.KindRefundPayment,
		OrderID:   orderID,
		PaymentID: paymentID,
		Reason:    reason,
	})
}

// run executes action inline. Transient failures are queued and reported as
// success; permanent ones are returned and never queued.
func (so *SagaOrchestrator) run(ctx context.Context, action outbox.Action) error {
	if action.Target() == "" {
		return nil
	}

	err := so.Execute(ctx, action)
	if err == nil {
		util.CompensationsTotal.WithLabelValues(string(action.Kind), "ok").Inc()
		return nil
	}

	if apperr.Permanent(err) {
		util.CompensationsTotal.WithLabelValues(string(action.Kind), "rejected").Inc()
		so.logger.Error("Saga step rejected",
			zap.String("kind", string(action.Kind)),
			zap.String("order_id", action.OrderID),
			zap.String("target", action.Target()),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err))
		return err
	}

	util.CompensationsTotal.WithLabelValues(string(action.Kind), "deferred").Inc()
	so.logger.Warn("Saga step failed, deferring to outbox",
		zap.String("kind", string(action.Kind)),
		zap.String("order_id", action.OrderID),
		zap.String("target", action.Target()),
		zap.Error(err))

	action.Attempts = 1
	action.LastError = err.Error()
	if _, err := so.outbox.Enqueue(ctx, action); err != nil {
		so.logger.Error("Failed to enqueue saga step",
			zap.String("kind", string(action.Kind)),
			zap.String("target", action.Target()),
			zap.Error(err))
	}
	return nil
}

// Execute performs one attempt of an action
func (so *SagaOrchestrator) Execute(ctx context.Context, action outbox.Action) error {
	switch action.Kind {
	case outbox.KindConfirmReservation:
		_, err := so.inventory.Confirm(ctx, action.ReservationID)
		return err
	case outbox.KindReleaseReservation:
		reason := action.Reason
		if reason == "" {
			reason = models.ReleaseReasonCancelled
		}
		_, err := so.inventory.Release(ctx, action.ReservationID, reason)
		return err
	case outbox.KindRefundPayment:
		_, err := so.payments.RefundPayment(ctx, action.PaymentID, &RefundRequest{Reason: action.Reason})
		return err
	default:
		return apperr.InvalidRequest("unknown saga action kind %q", action.Kind)
	}
}

// PendingActions lists the actions still parked in the outbox
func (so *SagaOrchestrator) PendingActions(ctx context.Context) ([]outbox.Action, error) {
	return so.outbox.List(ctx)
}
