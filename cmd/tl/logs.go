package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/types"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the event log",
}

var logsLimit int

var logsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent events",
	RunE: func(_ *cobra.Command, _ []string) error {
		if logStore == nil {
			return types.E(types.KindIO, "log store unavailable")
		}
		entries, err := logStore.Recent(logsLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(entries)
		}
		for _, e := range entries {
			ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
			fmt.Printf("%s  %-20s %s\n", ts, e.Event, e.Command)
		}
		return nil
	},
}

var logsErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show recent error events",
	RunE: func(_ *cobra.Command, _ []string) error {
		if logStore == nil {
			return types.E(types.KindIO, "log store unavailable")
		}
		entries, err := logStore.Errors(logsLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(entries)
		}
		for _, e := range entries {
			ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
			fmt.Printf("%s  %-20s %s\n", ts, e.Event, e.ErrorMessage)
		}
		return nil
	},
}

var logsKeepDays int

var logsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete events older than the retention window",
	RunE: func(_ *cobra.Command, _ []string) error {
		if logStore == nil {
			return types.E(types.KindIO, "log store unavailable")
		}
		cutoff := time.Now().AddDate(0, 0, -logsKeepDays).UnixMilli()
		n, err := logStore.DeleteBefore(cutoff)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]int{"deleted": n})
		}
		fmt.Printf("Deleted %d log entries\n", n)
		return nil
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export <dest>",
	Short: "Checkpoint and copy the log database",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if logStore == nil {
			return types.E(types.KindIO, "log store unavailable")
		}
		if err := logStore.Export(args[0]); err != nil {
			return err
		}
		if !jsonOut {
			fmt.Printf("Exported logs to %s\n", args[0])
		}
		return nil
	},
}

func init() {
	logsRecentCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "entries to show")
	logsErrorsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "entries to show")
	logsCleanupCmd.Flags().IntVar(&logsKeepDays, "keep-days", 90, "retention window in days")
	logsCmd.AddCommand(logsRecentCmd, logsErrorsCmd, logsCleanupCmd, logsExportCmd)
	rootCmd.AddCommand(logsCmd)
}
