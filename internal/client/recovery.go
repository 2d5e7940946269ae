package client

import (
	"context"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const recoveryConcurrency = 4

// RecoverPending confirms every pending checkout left over from an earlier
// run and returns how many were recorded. onRecovered runs once when at least
// one vote was recovered.
func RecoverPending(ctx context.Context, logger *log.Logger, pending *PendingStore, confirmer VoteConfirmer, onRecovered func(recovered int)) int {
	records := pending.List()
	if len(records) == 0 {
		return 0
	}
	logger.Printf("Recovery: confirming %d pending checkout(s)", len(records))

	var recovered atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryConcurrency)
	for _, r := range records {
		checkoutID := r.CheckoutID
		g.Go(func() error {
			if confirmer.Confirm(gctx, checkoutID) {
				recovered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(recovered.Load())
	logger.Printf("Recovery: recovered %d of %d", n, len(records))
	if n > 0 && onRecovered != nil {
		onRecovered(n)
	}
	return n
}
