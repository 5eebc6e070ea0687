package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meldeboks/internal/platform/logger"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func (n *recordingNotifier) Subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.subjects...)
}

func newTestRunner(registry *Registry, notifier *recordingNotifier, maxAttempts int) *Runner {
	r := NewRunner(registry, logger.Discard(), notifier, 2, maxAttempts)
	r.retryBase = time.Millisecond
	return r
}

func runRunner(t *testing.T, r *Runner) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunner_ExecutesJob(t *testing.T) {
	registry := NewRegistry()
	var mu sync.Mutex
	var payloads []string
	registry.Register("test.echo", func(_ context.Context, raw json.RawMessage) error {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		mu.Lock()
		payloads = append(payloads, s)
		mu.Unlock()
		return nil
	})

	notifier := &recordingNotifier{}
	r := newTestRunner(registry, notifier, 3)
	ctx, stop := runRunner(t, r)
	defer stop()

	job, err := New("test.echo", "hello")
	require.NoError(t, err)
	_, err = r.Create(ctx, job, Enqueued())
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) == 1
	})
	mu.Lock()
	require.Equal(t, "hello", payloads[0])
	mu.Unlock()

	waitFor(t, func() bool {
		depth, _ := r.Depth(context.Background())
		return depth == 0
	})
}

func TestRunner_RejectsUnregisteredJobType(t *testing.T) {
	r := newTestRunner(NewRegistry(), &recordingNotifier{}, 1)
	job, err := New("test.unknown", struct{}{})
	require.NoError(t, err)
	_, err = r.Create(context.Background(), job, Enqueued())
	require.Error(t, err)
}

func TestRunner_RetriesUntilSuccess(t *testing.T) {
	registry := NewRegistry()
	var mu sync.Mutex
	attempts := 0
	registry.Register("test.flaky", func(context.Context, json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	notifier := &recordingNotifier{}
	r := newTestRunner(registry, notifier, 5)
	ctx, stop := runRunner(t, r)
	defer stop()

	job, err := New("test.flaky", struct{}{})
	require.NoError(t, err)
	_, err = r.Create(ctx, job, Enqueued())
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	})
	require.Empty(t, notifier.Subjects())
}

func TestRunner_ExhaustedRetriesRaiseAlert(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test.doomed", func(context.Context, json.RawMessage) error {
		return errors.New("permanent")
	})

	notifier := &recordingNotifier{}
	r := newTestRunner(registry, notifier, 2)
	ctx, stop := runRunner(t, r)
	defer stop()

	job, err := New("test.doomed", struct{}{})
	require.NoError(t, err)
	_, err = r.Create(ctx, job, Enqueued())
	require.NoError(t, err)

	waitFor(t, func() bool { return len(notifier.Subjects()) == 1 })
	require.Contains(t, notifier.Subjects()[0], "test.doomed")
}

func TestRunner_ScheduledJobRunsAfterDelay(t *testing.T) {
	registry := NewRegistry()
	var mu sync.Mutex
	ran := false
	registry.Register("test.later", func(context.Context, json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		ran = true
		return nil
	})

	r := newTestRunner(registry, &recordingNotifier{}, 1)
	ctx, stop := runRunner(t, r)
	defer stop()

	job, err := New("test.later", struct{}{})
	require.NoError(t, err)
	_, err = r.Create(ctx, job, Scheduled(10*time.Millisecond))
	require.NoError(t, err)

	depth, _ := r.Depth(context.Background())
	require.Equal(t, 1, depth, "scheduled jobs count as pending")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	})
}

func TestRunner_ScheduledJobAfterShutdownIsDropped(t *testing.T) {
	registry := NewRegistry()
	registry.Register("test.late", func(context.Context, json.RawMessage) error {
		t.Error("job must not run after shutdown")
		return nil
	})

	notifier := &recordingNotifier{}
	r := newTestRunner(registry, notifier, 1)
	// Unbuffered queue: after shutdown nothing drains it, so the timer
	// goroutine can only get out via the done channel.
	r.queue = make(chan Job)
	_, stop := runRunner(t, r)

	job, err := New("test.late", nil)
	require.NoError(t, err)
	_, err = r.Create(context.Background(), job, Scheduled(100*time.Millisecond))
	require.NoError(t, err)

	// Stop before the timer fires. The timer goroutine must not hang on the
	// queue send; it drops the job and settles the pending count.
	stop()
	waitFor(t, func() bool {
		depth, err := r.Depth(context.Background())
		return err == nil && depth == 0
	})
}
