package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"featurevotes/internal/models"
)

const (
	maxConfirmAttempts  = 10
	initialConfirmDelay = 500 * time.Millisecond
	maxConfirmDelay     = 10 * time.Second
)

// ConfirmAPI is the server call behind Confirmer.
type ConfirmAPI interface {
	Confirm(ctx context.Context, checkoutID string) (*models.VoteConfirmation, error)
}

// VoteConfirmer turns a paid checkout into a recorded vote.
type VoteConfirmer interface {
	Confirm(ctx context.Context, checkoutID string) bool
}

// Confirmer retries vote confirmation with capped exponential backoff.
// Concurrent calls for the same checkout share one attempt, which runs until
// the last of its callers gives up.
type Confirmer struct {
	api     ConfirmAPI
	pending *PendingStore
	logger  *log.Logger
	group   singleflight.Group
	sleep   func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	flights map[string]*confirmFlight
}

type confirmFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewConfirmer(logger *log.Logger, api ConfirmAPI, pending *PendingStore) *Confirmer {
	return &Confirmer{
		api:     api,
		pending: pending,
		logger:  logger,
		sleep:   sleepContext,
		flights: make(map[string]*confirmFlight),
	}
}

// Confirm reports whether the server accepted the vote. The pending record is
// cleared on acceptance and on permanent rejection, and kept when attempts
// run out. A cancelled ctx returns false without stopping an attempt other
// callers are still waiting on.
func (c *Confirmer) Confirm(ctx context.Context, checkoutID string) bool {
	if ctx.Err() != nil {
		return false
	}
	flight := c.join(ctx, checkoutID)
	defer c.leave(checkoutID, flight)

	ch := c.group.DoChan(checkoutID, func() (interface{}, error) {
		return c.attempt(flight.ctx, checkoutID), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (c *Confirmer) join(ctx context.Context, checkoutID string) *confirmFlight {
	c.mu.Lock()
	defer c.mu.Unlock()
	flight, ok := c.flights[checkoutID]
	if !ok {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		flight = &confirmFlight{ctx: flightCtx, cancel: cancel}
		c.flights[checkoutID] = flight
	}
	flight.waiters++
	return flight
}

// leave cancels the shared attempt once nobody is waiting on it. Forget makes
// the next caller start fresh instead of joining the abandoned attempt.
func (c *Confirmer) leave(checkoutID string, flight *confirmFlight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	flight.waiters--
	if flight.waiters > 0 {
		return
	}
	delete(c.flights, checkoutID)
	c.group.Forget(checkoutID)
	flight.cancel()
}

func (c *Confirmer) attempt(ctx context.Context, checkoutID string) bool {
	delay := initialConfirmDelay

	for attempt := 1; attempt <= maxConfirmAttempts; attempt++ {
		result, err := c.api.Confirm(ctx, checkoutID)
		switch {
		case errors.Is(err, ErrPermanent):
			c.logger.Printf("Confirm: checkout %s rejected: %v", checkoutID, err)
			c.pending.Remove(checkoutID)
			return false
		case err != nil:
			c.logger.Printf("Confirm: attempt %d for %s failed: %v", attempt, checkoutID, err)
		case result.Accepted:
			c.pending.Remove(checkoutID)
			return true
		}

		if attempt == maxConfirmAttempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return false
		}
		delay *= 2
		if delay > maxConfirmDelay {
			delay = maxConfirmDelay
		}
	}

	c.logger.Printf("Confirm: giving up on %s after %d attempts", checkoutID, maxConfirmAttempts)
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
