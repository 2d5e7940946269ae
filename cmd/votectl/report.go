package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"featurevotes/internal/client"
	"featurevotes/internal/config"
	"featurevotes/internal/models"
)

func leaderboardCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show features ranked by sats voted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			board, err := client.NewAPIClient(cfg.VotesAPIURL, nil).Leaderboard(ctx)
			if err != nil {
				return fmt.Errorf("failed to load leaderboard: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(board)
			}
			printLeaderboard(cmd.OutOrStdout(), board)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func printLeaderboard(w io.Writer, board *models.Leaderboard) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tFEATURE\tSATS\tVOTES\tPRODUCT")
	for i, f := range board.Features {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", i+1, f.Name, f.TotalSats, f.VoteCount, f.ProductID)
	}
	tw.Flush()
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [checkout-id...]",
		Short: "Record paid checkouts that never reached the ledger",
		Long: `Ask the server to re-run vote confirmation over checkouts.

With no ids every checkout known to the payment provider is examined.
Checkouts already in the ledger are skipped. RECONCILE_SECRET must match
the server's.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			api := client.NewAPIClient(cfg.VotesAPIURL, nil)
			api.SetReconcileSecret(cfg.ReconcileSecret)
			report, err := api.Reconcile(ctx, args)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found=%d already=%d inserted=%d skipped=%d failed=%d\n",
				report.Found, report.AlreadyRecorded, report.Inserted, report.SkippedInvalid, report.Failed)
			return nil
		},
	}
}
