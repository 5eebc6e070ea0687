package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of deferred work. Payload is opaque JSON owned by the
// handler registered for Type.
type Job struct {
	ID        uuid.UUID
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// New builds a job with a fresh id and a marshalled payload.
func New(jobType string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return Job{
		ID:        uuid.New(),
		Type:      jobType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// State says when a created job becomes runnable.
type State struct {
	Delay time.Duration
}

// Enqueued makes the job runnable immediately.
func Enqueued() State { return State{} }

// Scheduled makes the job runnable after the delay.
func Scheduled(delay time.Duration) State { return State{Delay: delay} }

// Scheduler accepts jobs for background execution. All side effects of ledger
// mutations go through here so the mutating call itself stays small and
// retry-safe.
type Scheduler interface {
	Create(ctx context.Context, job Job, state State) (uuid.UUID, error)
}

// DepthReporter exposes the current queue depth. Batch migration uses it for
// back-pressure before self-partitioning further jobs.
type DepthReporter interface {
	Depth(ctx context.Context) (int, error)
}

// HandlerFunc executes one job. A nil error marks the job done; an error
// triggers the runner's retry policy.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Registry maps job types to handlers. Safe for concurrent use after all
// Register calls complete during wiring.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// RegisterAll merges a handler map into the registry.
func (r *Registry) RegisterAll(handlers map[string]HandlerFunc) {
	for jobType, h := range handlers {
		r.Register(jobType, h)
	}
}

func (r *Registry) Lookup(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
