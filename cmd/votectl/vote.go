package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"featurevotes/internal/client"
	"featurevotes/internal/config"
	"featurevotes/internal/models"
)

var satPresets = []int64{1000, 5000, 10000, 25000, 100000}

func voteCmd() *cobra.Command {
	var (
		sats   int64
		preset int
	)

	cmd := &cobra.Command{
		Use:   "vote [product-id]",
		Short: "Pay a Lightning invoice to vote for a feature",
		Long: `Create a checkout for a feature, print its invoice and wait for payment.

Without a product id the votable features and the sat presets are listed.
Pending checkouts from earlier runs are confirmed before a new one starts.

Examples:
  votectl vote prod_payjoin --preset 2
  votectl vote prod_payjoin --sats 2100`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger := newLogger()
			api, pending, confirmer, closeKV := clientDeps(cfg, logger)
			defer closeKV()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(args) == 0 {
				return listFeatures(ctx, out, api)
			}

			amount, err := chooseAmount(sats, preset)
			if err != nil {
				return err
			}

			if n := client.RecoverPending(ctx, logger, pending, confirmer, nil); n > 0 {
				fmt.Fprintf(out, "Recovered %d vote(s) from an earlier session\n", n)
			}

			session := client.NewSession(logger, api, confirmer, pending)
			session.Observe(func(state client.SessionState, checkout *models.FeatureCheckout) {
				switch state {
				case client.StateAwaitingInvoice:
					fmt.Fprintln(out, "Requesting invoice...")
				case client.StateInvoiceShown:
					fmt.Fprintf(out, "\nPay %d sats to:\n\n%s\n\nExpires at %s. Waiting for payment (Ctrl-C to cancel).\n",
						checkout.AmountSats, checkout.Invoice, checkout.ExpiresAt)
				case client.StatePaid:
					fmt.Fprintln(out, "Payment received, vote recorded.")
				case client.StateExpired:
					fmt.Fprintln(out, "Invoice expired before payment.")
				}
			})

			if _, err := session.Start(ctx, args[0], amount); err != nil {
				return fmt.Errorf("failed to create checkout: %w", err)
			}

			select {
			case <-session.Done():
			case <-ctx.Done():
				session.Cancel()
				fmt.Fprintln(out, "Cancelled. Run `votectl recover` later if you paid.")
				return nil
			}

			if session.State() == client.StatePaid {
				refreshLeaderboard(out, api)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&sats, "sats", 0, "custom amount in sats")
	cmd.Flags().IntVar(&preset, "preset", 1, fmt.Sprintf("preset amount, 1-%d", len(satPresets)))
	return cmd
}

func chooseAmount(sats int64, preset int) (int64, error) {
	if sats > 0 {
		return sats, nil
	}
	if sats < 0 {
		return 0, fmt.Errorf("--sats must be greater than 0")
	}
	if preset < 1 || preset > len(satPresets) {
		return 0, fmt.Errorf("--preset must be between 1 and %d", len(satPresets))
	}
	return satPresets[preset-1], nil
}

func listFeatures(ctx context.Context, out io.Writer, api *client.APIClient) error {
	board, err := api.Leaderboard(ctx)
	if err != nil {
		return fmt.Errorf("failed to load features: %w", err)
	}
	printLeaderboard(out, board)

	labels := make([]string, len(satPresets))
	for i, p := range satPresets {
		labels[i] = fmt.Sprintf("%d) %d", i+1, p)
	}
	fmt.Fprintf(out, "\nPresets: %s\n", strings.Join(labels, "  "))
	return nil
}

func refreshLeaderboard(out io.Writer, api *client.APIClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	board, err := api.Leaderboard(ctx)
	if err != nil {
		fmt.Fprintf(out, "warning: could not refresh leaderboard: %v\n", err)
		return
	}
	fmt.Fprintln(out)
	printLeaderboard(out, board)
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Confirm votes for checkouts paid in an earlier session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger := newLogger()
			api, pending, confirmer, closeKV := clientDeps(cfg, logger)
			defer closeKV()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			records := pending.List()
			if len(records) == 0 {
				fmt.Fprintln(out, "No pending checkouts.")
				return nil
			}

			n := client.RecoverPending(ctx, logger, pending, confirmer, func(int) {
				refreshLeaderboard(out, api)
			})
			fmt.Fprintf(out, "Recovered %d of %d pending checkout(s)\n", n, len(records))
			return nil
		},
	}
}
