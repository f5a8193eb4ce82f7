package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/diag"
	"github.com/treeline-money/treeline/internal/importer"
	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/types"
)

var watchAccount string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch imports/ and ingest CSV files as they appear",
	Long: `Watch the imports/ drop-zone. Every CSV file that appears is imported
into the given account with header auto-detection, then archived to
imports/imported/. Existing files are ingested on startup.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, err := getRepo()
		if err != nil {
			return err
		}
		accountID, err := repo.ResolveAccount(watchAccount)
		if err != nil {
			return err
		}
		importsDir, err := config.ImportsDir()
		if err != nil {
			return err
		}
		svc := importer.NewService(repo)

		ingest := func(path string) {
			if !strings.EqualFold(filepath.Ext(path), ".csv") {
				return
			}
			mappings := detectColumnsFromFile(path)
			if mappings.Date == "" {
				mappings.Date = "Date"
			}
			if mappings.Amount == "" && mappings.Debit == "" && mappings.Credit == "" {
				mappings.Amount = "Amount"
			}
			result, err := svc.ImportFile(path, accountID, mappings, importer.Options{
				ImportOptions: types.ImportOptions{NumberFormat: "us"},
			}, false)
			if err != nil {
				diag.Logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("import failed")
				logEvent(logging.Event{Event: "import_failed", Command: "watch", ErrorMessage: err.Error()})
				return
			}
			dest := filepath.Join(importsDir, "imported", filepath.Base(path))
			if err := os.Rename(path, dest); err != nil {
				diag.Logger.Warn().Err(err).Msg("archiving imported file")
			}
			logEvent(logging.Event{Event: "import_completed", Command: "watch"})
			fmt.Printf("Imported %s: %d new, %d skipped\n",
				filepath.Base(path), result.Imported, result.Skipped)
		}

		// Ingest anything already waiting.
		entries, err := os.ReadDir(importsDir)
		if err != nil {
			return types.WrapErr(types.KindIO, err, "reading imports directory")
		}
		for _, e := range entries {
			if !e.IsDir() {
				ingest(filepath.Join(importsDir, e.Name()))
			}
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return types.WrapErr(types.KindIO, err, "creating watcher")
		}
		defer watcher.Close()
		if err := watcher.Add(importsDir); err != nil {
			return types.WrapErr(types.KindIO, err, "watching %s", importsDir)
		}
		fmt.Printf("Watching %s (ctrl-c to stop)\n", importsDir)

		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
					// Give the writer a moment to finish the file.
					time.Sleep(200 * time.Millisecond)
					ingest(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				diag.Logger.Warn().Err(err).Msg("watcher error")
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchAccount, "account", "a", "", "target account (name or UUID)")
	_ = watchCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(watchCmd)
}
