package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"featurevotes/internal/client"
	"featurevotes/internal/config"
	"featurevotes/internal/store"
)

var Version = "dev"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:           "votectl",
		Short:         "votectl - vote on roadmap features with sats",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(recoverCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.Ltime)
}

// clientDeps wires the buyer-side pipeline. The returned close func releases
// the pending store file.
func clientDeps(cfg *config.Config, logger *log.Logger) (*client.APIClient, *client.PendingStore, *client.Confirmer, func()) {
	api := client.NewAPIClient(cfg.VotesAPIURL, nil)

	var kv client.KV
	closeKV := func() {}
	bolt, err := store.OpenBoltKV(cfg.PendingStorePath)
	if err != nil {
		// Voting still works; only crash recovery is lost.
		fmt.Fprintf(os.Stderr, "warning: pending checkouts will not be remembered: %v\n", err)
	} else {
		kv = bolt
		closeKV = func() {
			if err := bolt.Close(); err != nil {
				logger.Printf("Error closing pending store: %v", err)
			}
		}
	}

	pending := client.NewPendingStore(logger, kv)
	return api, pending, client.NewConfirmer(logger, api, pending), closeKV
}
