package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/syncer"
)

var syncFlags struct {
	integration string
	dryRun      bool
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync accounts and transactions from integrations",
	Long: `Sync accounts and transactions from configured integrations.

Incremental syncs fetch from seven days before the last successful sync
to absorb provider-side re-posts. A failing integration is reported in
its result and does not abort the others.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logEvent(logging.Event{Event: "sync_started", Command: "sync"})

		repo, err := getRepo()
		if err != nil {
			return err
		}
		svc := syncer.NewService(repo)
		result, err := svc.Sync(cmd.Context(), syncFlags.integration, syncFlags.dryRun)
		if err != nil {
			logEvent(logging.Event{Event: "sync_failed", ErrorMessage: err.Error()})
			return err
		}

		for _, sr := range result.Results {
			if sr.Error != "" {
				logEvent(logging.Event{Event: "sync_failed", Integration: sr.Integration, ErrorMessage: sr.Error})
			} else {
				logEvent(logging.Event{Event: "sync_completed", Integration: sr.Integration})
			}
			for _, failure := range sr.AutoTagFailures {
				logEvent(logging.Event{
					Event:        "auto_tag_rule_failed",
					Integration:  sr.Integration,
					ErrorMessage: failure.RuleName + ": " + failure.Error,
				})
			}
		}

		if jsonOut {
			return printJSON(result)
		}
		if syncFlags.dryRun {
			fmt.Println("DRY RUN - no changes applied")
			fmt.Println()
		}
		for _, sr := range result.Results {
			if sr.Error != "" {
				fmt.Printf("Error: %s - %s\n", sr.Integration, sr.Error)
				continue
			}
			fmt.Printf("Synced: %s\n", sr.Integration)
			fmt.Printf("  Accounts synced: %d\n", sr.AccountsSynced)
			if sr.SyncType == "incremental" {
				fmt.Printf("  Syncing transactions since %s (with 7-day overlap)\n", sr.StartDate)
			} else {
				fmt.Printf("  Date range: %s to %s\n", sr.StartDate, sr.EndDate)
			}
			fmt.Printf("  Transactions: %d discovered, %d new, %d skipped\n",
				sr.TransactionStats.Discovered, sr.TransactionStats.New, sr.TransactionStats.Skipped)
			for _, failure := range sr.AutoTagFailures {
				fmt.Printf("  Rule failed: %s (%s)\n", failure.RuleName, failure.Error)
			}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncFlags.integration, "integration", "i", "", "sync only this integration")
	syncCmd.Flags().BoolVar(&syncFlags.dryRun, "dry-run", false, "fetch and report without writing")
	rootCmd.AddCommand(syncCmd)
}
