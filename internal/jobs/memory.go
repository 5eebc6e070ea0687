package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryScheduler records created jobs without running them. Tests use it
// to assert on the side effects a service enqueues.
type InMemoryScheduler struct {
	mu      sync.Mutex
	created []CreatedJob
	fail    error
}

// CreatedJob pairs a job with the state it was created in.
type CreatedJob struct {
	Job   Job
	State State
}

func NewInMemoryScheduler() *InMemoryScheduler {
	return &InMemoryScheduler{}
}

// FailWith makes every subsequent Create return err. Pass nil to clear.
func (s *InMemoryScheduler) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *InMemoryScheduler) Create(_ context.Context, job Job, state State) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return uuid.Nil, s.fail
	}
	s.created = append(s.created, CreatedJob{Job: job, State: state})
	return job.ID, nil
}

// Created returns a snapshot of every job created so far.
func (s *InMemoryScheduler) Created() []CreatedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedJob{}, s.created...)
}

// ByType returns the created jobs of one type, in creation order.
func (s *InMemoryScheduler) ByType(jobType string) []CreatedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CreatedJob
	for _, cj := range s.created {
		if cj.Job.Type == jobType {
			out = append(out, cj)
		}
	}
	return out
}

func (s *InMemoryScheduler) Depth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), nil
}
