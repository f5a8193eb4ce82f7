package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/diag"
	"github.com/treeline-money/treeline/internal/encryption"
	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
	"github.com/treeline-money/treeline/internal/update"
)

// Version is the CLI release version (CalVer).
const Version = "26.7.100"

var (
	jsonOut bool
	verbose bool

	shared   = duckdb.NewShared()
	logStore *logging.Store
)

var rootCmd = &cobra.Command{
	Use:           "tl",
	Short:         "Local-first personal finance data engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		diag.Setup(dir, verbose)
		store, err := logging.NewStore(dir, "cli", Version)
		if err != nil {
			// Telemetry must never block the actual command.
			diag.Logger.Warn().Err(err).Msg("log store unavailable")
		} else {
			logStore = store
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics")
}

// Execute runs the CLI and returns the process exit code: 0 on success,
// 1 on any surfaced error.
func Execute() int {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		printError(err)
		return 1
	}
	if cmd != nil && cmd.Name() != "update" {
		printUpdateNotice()
	}
	return 0
}

func printError(err error) {
	kind := types.KindOf(err)
	if jsonOut {
		payload := map[string]any{
			"error": map[string]string{"kind": kind.String(), "message": err.Error()},
		}
		data, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stderr, string(data))
		return
	}
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
}

func printUpdateNotice() {
	path, err := config.UpdateStatePath()
	if err != nil {
		return
	}
	if notice := update.Notice(path, Version); notice != "" {
		fmt.Fprintln(os.Stderr, notice)
	}
}

// getRepo resolves the active database (demo mode, encryption key) and
// returns the shared repository handle.
func getRepo() (*duckdb.Repo, error) {
	dbPath, err := config.DBPath()
	if err != nil {
		return nil, err
	}
	metaPath, err := config.EncryptionMetaPath()
	if err != nil {
		return nil, err
	}
	key, err := encryption.ResolveSessionKey(metaPath, config.DBKey(), config.DBPassword())
	if err != nil {
		return nil, err
	}
	return shared.Get(dbPath, key)
}

// logEvent records a telemetry event, ignoring log-store failures.
func logEvent(e logging.Event) {
	if logStore == nil {
		return
	}
	if err := logStore.Log(e); err != nil {
		diag.Logger.Debug().Err(err).Msg("log event dropped")
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
