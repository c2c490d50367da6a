package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyError struct{ retryable bool }

func (e *flakyError) Error() string   { return "flaky" }
func (e *flakyError) Transient() bool { return e.retryable }

// stubHandler fails the first failures calls with err, then succeeds.
type stubHandler struct {
	mu       sync.Mutex
	failures int
	err      error
	runs     []Job
}

func (h *stubHandler) Run(ctx context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, job)
	if len(h.runs) <= h.failures {
		return h.err
	}
	return nil
}

func (h *stubHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

func (h *stubHandler) lastAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs[len(h.runs)-1].Attempt
}

func newTestDispatcher(t *testing.T, h Handler, queueSize int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(h, 2, queueSize, 3)
	d.baseDelay = time.Millisecond
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherRunsJob(t *testing.T) {
	h := &stubHandler{}
	d := newTestDispatcher(t, h, 4)

	require.True(t, d.Enqueue(Job{Kind: KindSyncPulls, RepoID: 1}))

	require.Eventually(t, func() bool {
		return h.runCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	h := &stubHandler{failures: 2, err: &flakyError{retryable: true}}
	d := newTestDispatcher(t, h, 4)

	require.True(t, d.Enqueue(Job{Kind: KindSyncCommits, RepoID: 1}))

	require.Eventually(t, func() bool {
		return h.runCount() == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.lastAttempt())
}

func TestDispatcherStopsAfterMaxAttempts(t *testing.T) {
	h := &stubHandler{failures: 100, err: &flakyError{retryable: true}}
	d := newTestDispatcher(t, h, 4)

	require.True(t, d.Enqueue(Job{Kind: KindSyncCommits, RepoID: 1}))

	require.Eventually(t, func() bool {
		return h.runCount() == 3
	}, time.Second, 5*time.Millisecond)

	// No further retries are scheduled once the ceiling is hit.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, h.runCount())
}

func TestDispatcherDoesNotRetryTerminalFailure(t *testing.T) {
	h := &stubHandler{failures: 100, err: errors.New("boom")}
	d := newTestDispatcher(t, h, 4)

	require.True(t, d.Enqueue(Job{Kind: KindFullRefresh, RepoID: 1}))

	require.Eventually(t, func() bool {
		return h.runCount() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.runCount())
}

func TestDispatcherDoesNotRetryNonTransientClassifiedError(t *testing.T) {
	h := &stubHandler{failures: 100, err: &flakyError{retryable: false}}
	d := newTestDispatcher(t, h, 4)

	require.True(t, d.Enqueue(Job{Kind: KindSyncIssues, RepoID: 1}))

	require.Eventually(t, func() bool {
		return h.runCount() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.runCount())
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	// No workers started, so the queue never drains.
	d := NewDispatcher(&stubHandler{}, 1, 1, 3)

	assert.True(t, d.Enqueue(Job{Kind: KindSyncPulls, RepoID: 1}))
	assert.False(t, d.Enqueue(Job{Kind: KindSyncPulls, RepoID: 2}))
}

func TestRetryDelayGrows(t *testing.T) {
	d := NewDispatcher(&stubHandler{}, 1, 1, 5)
	d.baseDelay = time.Second

	first := d.retryDelay(1)
	third := d.retryDelay(3)
	assert.Greater(t, third, first)
	assert.LessOrEqual(t, third, 5*time.Minute)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&flakyError{retryable: true}))
	assert.False(t, isRetryable(&flakyError{retryable: false}))
	assert.False(t, isRetryable(errors.New("plain")))
	assert.True(t, isRetryable(wrapErr(&flakyError{retryable: true})))
}

func wrapErr(err error) error {
	return &wrappedErr{err: err}
}

type wrappedErr struct{ err error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }
