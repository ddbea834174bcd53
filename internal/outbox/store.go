package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds compensating actions between attempts
type Store interface {
	Enqueue(ctx context.Context, action Action) (Action, error)
	LockBatch(ctx context.Context, batchSize int) ([]Action, error)
	MarkSent(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id, errMsg string, permanent bool) error
	List(ctx context.Context) ([]Action, error)
	PendingCount(ctx context.Context) (int, error)
}

// MemoryStore keeps actions in process memory. Sent actions are dropped;
// dead ones are kept for inspection.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]*Action

	baseDelay time.Duration
	maxDelay  time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store whose retry delay doubles from baseDelay up to maxDelay
func NewMemoryStore(baseDelay, maxDelay time.Duration) *MemoryStore {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &MemoryStore{
		actions:   make(map[string]*Action),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		now:       time.Now,
	}
}

// Enqueue stores an action. Attempts already made inline count toward its backoff.
func (s *MemoryStore) Enqueue(_ context.Context, action Action) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	action.Status = StatusPending
	action.CreatedAt = now
	action.UpdatedAt = now
	action.NextAttemptAt = now.Add(s.backoff(action.Attempts))

	stored := action
	s.actions[action.ID] = &stored
	return action, nil
}

// LockBatch claims up to batchSize due actions, oldest first
func (s *MemoryStore) LockBatch(_ context.Context, batchSize int) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	due := make([]*Action, 0)
	for _, a := range s.actions {
		if a.Status == StatusPending && !a.NextAttemptAt.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if batchSize > 0 && len(due) > batchSize {
		due = due[:batchSize]
	}

	out := make([]Action, 0, len(due))
	for _, a := range due {
		a.Status = StatusInProgress
		a.UpdatedAt = now
		out = append(out, *a)
	}
	return out, nil
}

// MarkSent drops actions that completed
func (s *MemoryStore) MarkSent(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.actions, id)
	}
	return nil
}

// MarkFailed records a failed attempt. Permanent failures are parked as dead.
func (s *MemoryStore) MarkFailed(_ context.Context, id, errMsg string, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok {
		return nil
	}
	now := s.now()
	a.Attempts++
	a.LastError = errMsg
	a.UpdatedAt = now
	if permanent {
		a.Status = StatusDead
		return nil
	}
	a.Status = StatusPending
	a.NextAttemptAt = now.Add(s.backoff(a.Attempts))
	return nil
}

// List returns every stored action, dead ones included, oldest first
func (s *MemoryStore) List(_ context.Context) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PendingCount counts actions that will still be retried
func (s *MemoryStore) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.actions {
		if a.Status != StatusDead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) backoff(attempts int) time.Duration {
	delay := s.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	return delay
}
