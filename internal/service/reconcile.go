package service

import (
	"context"
	"fmt"
	"strings"

	"featurevotes/internal/models"
	"featurevotes/internal/votes"
)

// Reconcile replays the confirm rules over many checkouts, recording votes the
// live path missed. With no ids it walks every checkout the collaborator
// knows. Only paid checkouts for feature products are counted as found.
func (s *VoteService) Reconcile(ctx context.Context, checkoutIDs []string) (*models.ReconcileReport, error) {
	features, fromCache, err := s.featureProductIndex(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &models.ReconcileReport{}

	var checkouts []models.Checkout
	if len(checkoutIDs) == 0 {
		checkouts, err = s.collaborator.ListCheckouts(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list_checkouts: %v", ErrUpstream, err)
		}
	} else {
		checkouts = s.fetchCheckouts(ctx, checkoutIDs, report)
	}

	var candidates []models.Checkout
	for _, c := range checkouts {
		if !votes.IsPaid(&c) {
			continue
		}
		productID, ok := votes.ExtractProductID(&c)
		if !ok {
			if len(checkoutIDs) > 0 {
				report.SkippedInvalid++
			}
			continue
		}
		if _, ok := features[productID]; !ok && fromCache {
			// The cached catalog may predate this product.
			if fresh, _, err := s.featureProductIndex(ctx, false); err != nil {
				s.logger.Printf("Reconcile: catalog refetch failed: %v", err)
			} else {
				features = fresh
			}
			fromCache = false
		}
		if _, ok := features[productID]; !ok {
			if len(checkoutIDs) > 0 {
				report.SkippedInvalid++
			}
			continue
		}
		candidates = append(candidates, c)
	}
	report.Found = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	recorded, err := s.ledger.RecordedCheckoutIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load recorded checkouts: %w", err)
	}

	for i := range candidates {
		checkout := &candidates[i]
		if recorded[checkout.ID] {
			report.AlreadyRecorded++
			continue
		}

		entry, err := s.voteFromCheckout(checkout, features)
		if err != nil {
			s.logger.Printf("Reconcile: skipping %s: %v", checkout.ID, err)
			report.SkippedInvalid++
			continue
		}

		inserted, err := s.ledger.InsertVote(ctx, entry)
		if err != nil {
			s.logger.Printf("Reconcile: failed to insert %s: %v", checkout.ID, err)
			report.Failed++
			continue
		}
		if inserted {
			report.Inserted++
			s.logger.Printf("Reconcile: inserted checkout=%s product=%s sats=%d",
				entry.CheckoutID, entry.ProductID, entry.SettledSats)
		} else {
			report.AlreadyRecorded++
		}
	}

	s.logger.Printf("Reconcile: found=%d already=%d inserted=%d skipped=%d failed=%d",
		report.Found, report.AlreadyRecorded, report.Inserted, report.SkippedInvalid, report.Failed)
	return report, nil
}

// fetchCheckouts loads explicit ids one by one. Missing checkouts count as
// skipped; transport failures count as failed so a later sweep retries them.
func (s *VoteService) fetchCheckouts(ctx context.Context, checkoutIDs []string, report *models.ReconcileReport) []models.Checkout {
	seen := make(map[string]bool, len(checkoutIDs))
	checkouts := make([]models.Checkout, 0, len(checkoutIDs))

	for _, id := range checkoutIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		checkout, err := s.collaborator.GetCheckout(ctx, id)
		if err != nil {
			s.logger.Printf("Reconcile: get_checkout %s failed: %v", id, err)
			report.Failed++
			continue
		}
		if checkout == nil {
			report.SkippedInvalid++
			continue
		}
		checkouts = append(checkouts, *checkout)
	}
	return checkouts
}
