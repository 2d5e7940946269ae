package service

import (
	"context"
	"fmt"

	"featurevotes/internal/models"
	"featurevotes/internal/votes"
)

// Leaderboard merges the feature catalog with ledger totals. Products without
// votes are listed with zero totals.
func (s *VoteService) Leaderboard(ctx context.Context) (*models.Leaderboard, error) {
	products, err := s.FeatureProducts(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	totals, err := s.ledger.VoteTotals(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load vote totals: %w", err)
	}

	prefix := s.productPrefix()
	features := make([]models.LeaderboardFeature, 0, len(products))
	for _, p := range products {
		feature := models.LeaderboardFeature{
			ProductID:   p.ID,
			Name:        votes.DisplayName(p.Name, prefix),
			Description: p.Description,
		}
		if total, ok := totals[p.ID]; ok {
			feature.TotalSats = total.TotalSats
			feature.VoteCount = total.VoteCount
			feature.LastVoteAt = total.LastVoteAt
		}
		features = append(features, feature)
	}
	votes.SortLeaderboard(features)

	return &models.Leaderboard{
		GeneratedAt: s.now().UTC(),
		Features:    features,
	}, nil
}
