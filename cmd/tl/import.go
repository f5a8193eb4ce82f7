package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/csvparse"
	"github.com/treeline-money/treeline/internal/importer"
	"github.com/treeline-money/treeline/internal/logging"
	"github.com/treeline-money/treeline/internal/settings"
	"github.com/treeline-money/treeline/internal/types"
)

var importFlags struct {
	account       string
	dateCol       string
	amountCol     string
	descCol       string
	debitCol      string
	creditCol     string
	balanceCol    string
	flipSigns     bool
	debitNegative bool
	skipRows      int
	numberFormat  string
	anchorBalance float64
	anchorDate    string
	profile       string
	saveProfile   string
	dryRun        bool
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import transactions from a CSV file",
	Long: `Import transactions from a CSV file into an account.

Use "-" as the file to read CSV from stdin. Column mappings resolve in
order: explicit flags, then the --profile, then header auto-detection.
Re-importing the same file is safe: duplicate rows are skipped by the
count-delta policy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logEvent(logging.Event{Event: "import_started", Command: "import"})

		repo, err := getRepo()
		if err != nil {
			return err
		}
		path, cleanup, err := resolveImportFile(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		accountID, err := repo.ResolveAccount(importFlags.account)
		if err != nil {
			return err
		}

		settingsPath, err := config.SettingsPath()
		if err != nil {
			return err
		}
		store := settings.NewStore(settingsPath)

		mappings, opts, err := resolveImportConfig(store, path)
		if err != nil {
			return err
		}

		svc := importer.NewService(repo)
		result, err := svc.ImportFile(path, accountID, mappings, opts, importFlags.dryRun)
		if err != nil {
			logEvent(logging.Event{Event: "import_failed", Command: "import", ErrorMessage: err.Error()})
			return err
		}

		if importFlags.saveProfile != "" && !importFlags.dryRun {
			err := store.SaveProfile(types.ImportProfile{
				Name:           importFlags.saveProfile,
				ColumnMappings: mappings,
				Options:        opts.ImportOptions,
			})
			if err != nil {
				return err
			}
		}
		logEvent(logging.Event{Event: "import_completed", Command: "import"})

		if jsonOut {
			return printJSON(result)
		}
		printImportResult(path, result)
		return nil
	},
}

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importFlags.account, "account", "a", "", "target account (name or UUID)")
	f.StringVar(&importFlags.dateCol, "date-column", "", "CSV column holding the date")
	f.StringVar(&importFlags.amountCol, "amount-column", "", "CSV column holding the amount")
	f.StringVar(&importFlags.descCol, "description-column", "", "CSV column holding the description")
	f.StringVar(&importFlags.debitCol, "debit-column", "", "CSV column holding debits")
	f.StringVar(&importFlags.creditCol, "credit-column", "", "CSV column holding credits")
	f.StringVar(&importFlags.balanceCol, "balance-column", "", "CSV column holding a running balance")
	f.BoolVar(&importFlags.flipSigns, "flip-signs", false, "negate every amount (credit-card exports)")
	f.BoolVar(&importFlags.debitNegative, "debit-negative", false, "negate values from the debit column")
	f.IntVar(&importFlags.skipRows, "skip-rows", 0, "leading rows to skip before the header")
	f.StringVar(&importFlags.numberFormat, "number-format", "us", "number format: us, eu, eu_space")
	f.Float64Var(&importFlags.anchorBalance, "anchor-balance", 0, "known balance for preview reconstruction")
	f.StringVar(&importFlags.anchorDate, "anchor-date", "", "date of the anchor balance (YYYY-MM-DD)")
	f.StringVar(&importFlags.profile, "profile", "", "apply a saved import profile")
	f.StringVar(&importFlags.saveProfile, "save-profile", "", "save the resolved mappings under this name")
	f.BoolVar(&importFlags.dryRun, "dry-run", false, "preview without writing")
	_ = importCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(importCmd)
}

// resolveImportFile supports stdin via "-" by spooling to a temp file.
func resolveImportFile(arg string) (string, func(), error) {
	if arg != "-" {
		if _, err := os.Stat(arg); err != nil {
			return "", nil, types.E(types.KindNotFound, "file not found: %s", arg)
		}
		return arg, func() {}, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", nil, types.WrapErr(types.KindIO, err, "reading CSV from stdin")
	}
	if len(data) == 0 {
		return "", nil, types.E(types.KindParse, "no CSV data received from stdin")
	}
	tmp := filepath.Join(os.TempDir(), "treeline_import_stdin.csv")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", nil, types.WrapErr(types.KindIO, err, "spooling stdin")
	}
	return tmp, func() { _ = os.Remove(tmp) }, nil
}

// resolveImportConfig merges flags, the named profile, and header
// auto-detection, in that priority order.
func resolveImportConfig(store *settings.Store, path string) (types.ColumnMappings, importer.Options, error) {
	var profile *types.ImportProfile
	if importFlags.profile != "" {
		p, err := store.GetProfile(importFlags.profile)
		if err != nil {
			return types.ColumnMappings{}, importer.Options{}, err
		}
		profile = p
	}

	detected := detectColumnsFromFile(path)

	pick := func(flag string, fromProfile func(*types.ImportProfile) string, auto string, fallback string) string {
		if flag != "" {
			return flag
		}
		if profile != nil {
			if v := fromProfile(profile); v != "" {
				return v
			}
		}
		if auto != "" {
			return auto
		}
		return fallback
	}

	mappings := types.ColumnMappings{
		Date: pick(importFlags.dateCol,
			func(p *types.ImportProfile) string { return p.ColumnMappings.Date }, detected.Date, "Date"),
		Amount: pick(importFlags.amountCol,
			func(p *types.ImportProfile) string { return p.ColumnMappings.Amount }, detected.Amount, "Amount"),
		Description: pick(importFlags.descCol,
			func(p *types.ImportProfile) string { return p.ColumnMappings.Description }, detected.Description, ""),
		Debit: pick(importFlags.debitCol,
			func(p *types.ImportProfile) string { return p.ColumnMappings.Debit }, detected.Debit, ""),
		Credit: pick(importFlags.creditCol,
			func(p *types.ImportProfile) string { return p.ColumnMappings.Credit }, detected.Credit, ""),
		Balance: pick(importFlags.balanceCol,
			func(p *types.ImportProfile) string { return p.ColumnMappings.Balance }, detected.Balance, ""),
	}

	opts := importer.Options{
		ImportOptions: types.ImportOptions{
			FlipSigns:     importFlags.flipSigns,
			DebitNegative: importFlags.debitNegative,
			SkipRows:      importFlags.skipRows,
			NumberFormat:  importFlags.numberFormat,
		},
	}
	if profile != nil {
		opts.FlipSigns = opts.FlipSigns || profile.Options.FlipSigns
		opts.DebitNegative = opts.DebitNegative || profile.Options.DebitNegative
		if opts.SkipRows == 0 {
			opts.SkipRows = profile.Options.SkipRows
		}
		if importFlags.numberFormat == "us" && profile.Options.NumberFormat != "" {
			opts.NumberFormat = profile.Options.NumberFormat
		}
	}

	if importFlags.anchorDate != "" {
		d, err := time.Parse("2006-01-02", importFlags.anchorDate)
		if err != nil {
			return mappings, opts, types.E(types.KindParse,
				"invalid anchor date %q, expected YYYY-MM-DD", importFlags.anchorDate)
		}
		opts.AnchorDate = &d
		b := decimal.NewFromFloat(importFlags.anchorBalance)
		opts.AnchorBalance = &b
	}
	return mappings, opts, nil
}

func detectColumnsFromFile(path string) types.ColumnMappings {
	f, err := os.Open(path)
	if err != nil {
		return types.ColumnMappings{}
	}
	defer f.Close()
	p := &csvparse.Parser{Options: types.ImportOptions{SkipRows: importFlags.skipRows}}
	header, _, err := p.ReadHeader(f)
	if err != nil {
		return types.ColumnMappings{}
	}
	return csvparse.DetectColumns(header)
}

func printImportResult(path string, result *importer.Result) {
	if result.DryRun {
		fmt.Printf("Preview %s\n\n", path)
		for _, row := range result.Transactions {
			if row.Balance != "" {
				fmt.Printf("  %s  %10s  %-30s  %10s\n", row.Date, row.Amount, row.Description, row.Balance)
			} else {
				fmt.Printf("  %s  %10s  %s\n", row.Date, row.Amount, row.Description)
			}
		}
		fmt.Printf("\n  Discovered: %d transactions | Skipped: %d (invalid rows)\n", result.Discovered, result.Skipped)
		fmt.Println("\n  Dry run — no changes applied.")
		return
	}
	fmt.Printf("Imported %s\n\n", path)
	fmt.Printf("  Discovered:  %d transactions\n", result.Discovered)
	fmt.Printf("  Skipped:     %d (duplicates/invalid)\n", result.Skipped)
	fmt.Printf("  Imported:    %d transactions\n", result.Imported)
	if result.BalanceSnapshotsCreated > 0 {
		fmt.Printf("  Snapshots:   %d balance snapshots\n", result.BalanceSnapshotsCreated)
	}
	fmt.Printf("\n  Batch: %s\n", result.BatchID)
}
