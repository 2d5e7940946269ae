package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"featurevotes/internal/models"
)

type SessionState string

const (
	StatePickingAmount   SessionState = "picking-amount"
	StateAwaitingInvoice SessionState = "awaiting-invoice"
	StateInvoiceShown    SessionState = "invoice-shown"
	StatePaid            SessionState = "paid"
	StateExpired         SessionState = "expired"
)

const (
	defaultPollInterval      = 750 * time.Millisecond
	defaultCountdownInterval = time.Second
)

// ErrSessionCancelled is returned by a Start that was cancelled or superseded
// while its checkout was being created.
var ErrSessionCancelled = errors.New("checkout cancelled")

// CheckoutAPI is what a Session needs from the server.
type CheckoutAPI interface {
	CreateCheckout(ctx context.Context, productID string, amountSats int64) (*models.FeatureCheckout, error)
	CheckoutState(ctx context.Context, checkoutID string) (*models.CheckoutState, error)
}

// Session drives one vote at a time from amount selection to paid or expired.
// Polling runs only between Start and Cancel and only while visible.
type Session struct {
	api       CheckoutAPI
	confirmer VoteConfirmer
	pending   *PendingStore
	logger    *log.Logger

	pollInterval      time.Duration
	countdownInterval time.Duration
	now               func() time.Time

	mu        sync.Mutex
	state     SessionState
	checkout  *models.FeatureCheckout
	visible   bool
	resume    chan struct{}
	gen       uint64
	abort     context.CancelFunc
	cancel    context.CancelFunc
	done      chan struct{}
	observers []func(SessionState, *models.FeatureCheckout)
}

func NewSession(logger *log.Logger, api CheckoutAPI, confirmer VoteConfirmer, pending *PendingStore) *Session {
	return &Session{
		api:               api,
		confirmer:         confirmer,
		pending:           pending,
		logger:            logger,
		pollInterval:      defaultPollInterval,
		countdownInterval: defaultCountdownInterval,
		now:               time.Now,
		state:             StatePickingAmount,
		visible:           true,
		resume:            make(chan struct{}, 1),
	}
}

// Observe registers fn for every state transition. fn runs on the session's
// goroutine; it must not block or call Cancel.
func (s *Session) Observe(fn func(SessionState, *models.FeatureCheckout)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Checkout() *models.FeatureCheckout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkout
}

// Done is closed when the current polling loop exits. It is nil before the
// first successful Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// SetVisible gates polling. Becoming visible triggers an immediate poll.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	was := s.visible
	s.visible = visible
	s.mu.Unlock()

	if visible && !was {
		select {
		case s.resume <- struct{}{}:
		default:
		}
	}
}

// Start creates a checkout and begins polling it. A running or pending
// checkout is cancelled first. On failure the session returns to
// picking-amount.
func (s *Session) Start(ctx context.Context, productID string, amountSats int64) (*models.FeatureCheckout, error) {
	s.Cancel()

	createCtx, abort := context.WithCancel(ctx)
	defer abort()

	s.mu.Lock()
	gen := s.gen
	s.state = StateAwaitingInvoice
	s.abort = abort
	s.mu.Unlock()
	s.notify(StateAwaitingInvoice)

	checkout, err := s.api.CreateCheckout(createCtx, productID, amountSats)

	s.mu.Lock()
	if s.gen != gen {
		// Cancel already moved the session on; the invoice was never shown.
		s.mu.Unlock()
		if err == nil {
			s.logger.Printf("Poll: dropping checkout %s created after cancel", checkout.CheckoutID)
		}
		return nil, ErrSessionCancelled
	}
	s.abort = nil
	if err != nil {
		s.state = StatePickingAmount
		s.mu.Unlock()
		s.notify(StatePickingAmount)
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.state = StateInvoiceShown
	s.checkout = checkout
	s.cancel = cancel
	s.done = done
	s.pending.Record(checkout.CheckoutID, productID)
	s.mu.Unlock()

	s.notify(StateInvoiceShown)
	go s.run(loopCtx, cancel, checkout, done)
	return checkout, nil
}

// Cancel stops polling and waits for the loop to exit. A Start still waiting
// for its checkout is abandoned and the session returns to picking-amount.
// Safe to call at any time, including more than once.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.gen++
	abort, cancel, done := s.abort, s.cancel, s.done
	s.abort, s.cancel = nil, nil
	if abort != nil {
		s.state = StatePickingAmount
	}
	s.mu.Unlock()

	if abort != nil {
		abort()
		s.notify(StatePickingAmount)
	}
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) transition(state SessionState, checkout *models.FeatureCheckout) {
	s.mu.Lock()
	s.state = state
	if checkout != nil {
		s.checkout = checkout
	}
	s.mu.Unlock()
	s.notify(state)
}

func (s *Session) notify(state SessionState) {
	s.mu.Lock()
	current := s.checkout
	observers := append([]func(SessionState, *models.FeatureCheckout){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(state, current)
	}
}

func (s *Session) isVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, checkout *models.FeatureCheckout, done chan struct{}) {
	defer close(done)
	defer cancel()

	expiresAt, err := time.Parse(time.RFC3339Nano, checkout.ExpiresAt)
	if err != nil {
		s.logger.Printf("Poll: checkout %s has unreadable expiry %q", checkout.CheckoutID, checkout.ExpiresAt)
	}

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	countdown := time.NewTicker(s.countdownInterval)
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-countdown.C:
			if !expiresAt.IsZero() && !s.now().Before(expiresAt) {
				s.finish(ctx, StateExpired)
				return
			}
		case <-poll.C:
			if !s.isVisible() {
				continue
			}
			if s.poll(ctx, checkout.CheckoutID) {
				return
			}
		case <-s.resume:
			if s.poll(ctx, checkout.CheckoutID) {
				return
			}
		}
	}
}

// poll reports whether the session reached a terminal state.
func (s *Session) poll(ctx context.Context, checkoutID string) bool {
	state, err := s.api.CheckoutState(ctx, checkoutID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("Poll: status for %s failed: %v", checkoutID, err)
		}
		return false
	}

	if state.Expired {
		s.finish(ctx, StateExpired)
		return true
	}
	if state.Paid || state.AmountSatsReceived > 0 {
		if s.confirmer.Confirm(ctx, checkoutID) {
			s.finish(ctx, StatePaid)
			return true
		}
	}
	return false
}

func (s *Session) finish(ctx context.Context, state SessionState) {
	if ctx.Err() != nil {
		return
	}
	s.transition(state, nil)
}
