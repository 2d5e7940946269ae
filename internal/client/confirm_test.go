package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featurevotes/internal/models"
)

type scriptedConfirmAPI struct {
	mu      sync.Mutex
	calls   int
	respond func(call int) (*models.VoteConfirmation, error)
	gate    chan struct{}
}

func (s *scriptedConfirmAPI) Confirm(ctx context.Context, checkoutID string) (*models.VoteConfirmation, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.respond(call)
}

func (s *scriptedConfirmAPI) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestConfirmer(api ConfirmAPI) (*Confirmer, *PendingStore, *sleepRecorder) {
	pending := NewPendingStore(discardLogger(), newMemoryKV())
	c := NewConfirmer(discardLogger(), api, pending)
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, pending, rec
}

func TestConfirmer_AcceptedClearsPending(t *testing.T) {
	api := &scriptedConfirmAPI{respond: func(int) (*models.VoteConfirmation, error) {
		return &models.VoteConfirmation{Accepted: true, Inserted: true}, nil
	}}
	c, pending, rec := newTestConfirmer(api)
	pending.Record("chk_1", "p1")

	assert.True(t, c.Confirm(context.Background(), "chk_1"))
	assert.Equal(t, 1, api.Calls())
	assert.Empty(t, rec.delays)
	assert.Empty(t, pending.List())
}

func TestConfirmer_RetryCap(t *testing.T) {
	api := &scriptedConfirmAPI{respond: func(int) (*models.VoteConfirmation, error) {
		return nil, fmt.Errorf("%w: request failed (503)", ErrTransient)
	}}
	c, pending, rec := newTestConfirmer(api)
	pending.Record("chk_1", "p1")

	assert.False(t, c.Confirm(context.Background(), "chk_1"))
	assert.Equal(t, 10, api.Calls())

	ms := time.Millisecond
	assert.Equal(t, []time.Duration{
		500 * ms, 1000 * ms, 2000 * ms, 4000 * ms, 8000 * ms,
		10000 * ms, 10000 * ms, 10000 * ms, 10000 * ms,
	}, rec.delays)

	var total time.Duration
	for _, d := range rec.delays {
		total += d
	}
	assert.Equal(t, 55500*ms, total)

	// Exhaustion keeps the record for a later recovery pass.
	assert.Len(t, pending.List(), 1)
}

func TestConfirmer_NotYetPaidRetries(t *testing.T) {
	api := &scriptedConfirmAPI{respond: func(call int) (*models.VoteConfirmation, error) {
		if call < 3 {
			return &models.VoteConfirmation{Accepted: false, Status: models.CheckoutStatusPendingPayment}, nil
		}
		return &models.VoteConfirmation{Accepted: true}, nil
	}}
	c, _, rec := newTestConfirmer(api)

	assert.True(t, c.Confirm(context.Background(), "chk_1"))
	assert.Equal(t, 3, api.Calls())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, rec.delays)
}

func TestConfirmer_PermanentFailureStopsImmediately(t *testing.T) {
	api := &scriptedConfirmAPI{respond: func(int) (*models.VoteConfirmation, error) {
		return nil, fmt.Errorf("%w: checkout not found (404)", ErrPermanent)
	}}
	c, pending, rec := newTestConfirmer(api)
	pending.Record("chk_1", "p1")

	assert.False(t, c.Confirm(context.Background(), "chk_1"))
	assert.Equal(t, 1, api.Calls())
	assert.Empty(t, rec.delays)
	assert.Empty(t, pending.List())
}

func TestConfirmer_CancelledContextStops(t *testing.T) {
	api := &scriptedConfirmAPI{respond: func(int) (*models.VoteConfirmation, error) {
		return nil, errors.New("connection reset")
	}}
	c, pending, _ := newTestConfirmer(api)
	pending.Record("chk_1", "p1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.Confirm(ctx, "chk_1"))
	assert.Zero(t, api.Calls())
	assert.Len(t, pending.List(), 1)
}

func TestConfirmer_CoalescesConcurrentCalls(t *testing.T) {
	gate := make(chan struct{})
	api := &scriptedConfirmAPI{gate: gate, respond: func(int) (*models.VoteConfirmation, error) {
		return &models.VoteConfirmation{Accepted: true}, nil
	}}
	c, _, _ := newTestConfirmer(api)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		started  sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			if c.Confirm(context.Background(), "chk_1") {
				accepted.Add(1)
			}
		}()
	}
	started.Wait()
	// Let the callers pile up on the in-flight attempt before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(5), accepted.Load())
	assert.Equal(t, 1, api.Calls())

	// The in-flight entry is released once the attempt settles.
	require.True(t, c.Confirm(context.Background(), "chk_1"))
	assert.Equal(t, 2, api.Calls())
}

// blockingConfirmAPI holds every call until release closes or the call's ctx
// ends, and remembers how the last call finished.
type blockingConfirmAPI struct {
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	calls   int
	lastErr error
}

func (b *blockingConfirmAPI) Confirm(ctx context.Context, checkoutID string) (*models.VoteConfirmation, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}

	var err error
	select {
	case <-b.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return &models.VoteConfirmation{Accepted: true, Inserted: true}, nil
}

func (b *blockingConfirmAPI) snapshot() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.lastErr
}

func (c *Confirmer) waiters(checkoutID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[checkoutID]; ok {
		return f.waiters
	}
	return 0
}

func TestConfirmer_CallerCancelDoesNotFailOthers(t *testing.T) {
	api := &blockingConfirmAPI{started: make(chan struct{}, 1), release: make(chan struct{})}
	c, pending, _ := newTestConfirmer(api)
	pending.Record("chk_1", "p1")

	ctxA, cancelA := context.WithCancel(context.Background())
	resultA := make(chan bool, 1)
	go func() { resultA <- c.Confirm(ctxA, "chk_1") }()
	<-api.started

	resultB := make(chan bool, 1)
	go func() { resultB <- c.Confirm(context.Background(), "chk_1") }()
	require.Eventually(t, func() bool { return c.waiters("chk_1") == 2 }, time.Second, time.Millisecond)

	cancelA()
	assert.False(t, <-resultA)
	assert.Equal(t, 1, c.waiters("chk_1"))

	close(api.release)
	assert.True(t, <-resultB)

	calls, lastErr := api.snapshot()
	assert.Equal(t, 1, calls)
	assert.NoError(t, lastErr)
	assert.Empty(t, pending.List())
	assert.Zero(t, c.waiters("chk_1"))
}

func TestConfirmer_LastCallerLeavingStopsAttempt(t *testing.T) {
	api := &blockingConfirmAPI{started: make(chan struct{}, 1), release: make(chan struct{})}
	c, pending, _ := newTestConfirmer(api)
	pending.Record("chk_1", "p1")

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool, 1)
	go func() { result <- c.Confirm(ctx, "chk_1") }()
	<-api.started

	cancel()
	assert.False(t, <-result)
	require.Eventually(t, func() bool {
		_, err := api.snapshot()
		return errors.Is(err, context.Canceled)
	}, time.Second, time.Millisecond)
	assert.Len(t, pending.List(), 1)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
