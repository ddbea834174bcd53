package outbox

import (
	"context"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// Executor performs the call an action describes
type Executor interface {
	Execute(ctx context.Context, action Action) error
}

// Relay periodically retries due actions until they succeed or fail permanently
type Relay struct {
	store     Store
	exec      Executor
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewRelay creates a relay that polls store every interval, defaulting to 5s
func NewRelay(store Store, exec Executor, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{
		store:     store,
		exec:      exec,
		interval:  interval,
		batchSize: 100,
		logger:    util.GetLogger(),
	}
}

// Run drives the relay until ctx is cancelled
func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.logger.Info("Compensation relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Compensation relay stopping")
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce attempts every due action once and returns how many succeeded
func (r *Relay) RunOnce(ctx context.Context) int {
	actions, err := r.store.LockBatch(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to lock outbox batch", zap.Error(err))
		return 0
	}

	sent := make([]string, 0, len(actions))
	for _, a := range actions {
		if err := r.exec.Execute(ctx, a); err != nil {
			permanent := apperr.Permanent(err)
			outcome := "retry"
			if permanent {
				outcome = "dead"
			}
			util.CompensationsTotal.WithLabelValues(string(a.Kind), outcome).Inc()
			r.logger.Warn("Compensating action failed",
				zap.String("action_id", a.ID),
				zap.String("kind", string(a.Kind)),
				zap.String("order_id", a.OrderID),
				zap.String("target", a.Target()),
				zap.Int("attempts", a.Attempts+1),
				zap.Bool("permanent", permanent),
				zap.Error(err))
			if markErr := r.store.MarkFailed(ctx, a.ID, err.Error(), permanent); markErr != nil {
				r.logger.Error("Failed to mark action failed", zap.Error(markErr))
			}
			continue
		}
		util.CompensationsTotal.WithLabelValues(string(a.Kind), "retried_ok").Inc()
		sent = append(sent, a.ID)
	}

	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			r.logger.Error("Failed to mark actions sent", zap.Error(err))
		}
	}

	if n, err := r.store.PendingCount(ctx); err == nil {
		util.OutboxPending.Set(float64(n))
	}
	return len(sent)
}
