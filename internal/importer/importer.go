// Package importer orchestrates CSV ingestion: parse, count-delta dedup,
// bulk insert, and balance-snapshot derivation.
package importer

import (
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/csvparse"
	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

// Options extends the persisted import options with per-invocation
// preview parameters.
type Options struct {
	types.ImportOptions
	AnchorBalance *decimal.Decimal
	AnchorDate    *time.Time
}

// PreviewRow is one parsed row rendered for dry-run display.
type PreviewRow struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Balance     string `json:"balance,omitempty"`
}

// Result summarizes one import run.
type Result struct {
	BatchID                 uuid.UUID    `json:"batch_id"`
	Discovered              int          `json:"discovered"`
	Skipped                 int          `json:"skipped"`
	Imported                int          `json:"imported"`
	BalanceSnapshotsCreated int          `json:"balance_snapshots_created"`
	DryRun                  bool         `json:"dry_run"`
	Transactions            []PreviewRow `json:"transactions,omitempty"`
}

// Service runs CSV imports against the repository.
type Service struct {
	Repo *duckdb.Repo
}

// NewService creates an import service.
func NewService(repo *duckdb.Repo) *Service {
	return &Service{Repo: repo}
}

// ImportFile ingests one CSV file into the given account. When dryRun is
// set nothing is persisted and the result carries preview rows.
func (s *Service) ImportFile(path string, accountID uuid.UUID, mappings types.ColumnMappings, opts Options, dryRun bool) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "opening %s", path)
	}
	defer f.Close()

	parser := &csvparse.Parser{Mappings: mappings, Options: opts.ImportOptions}
	records, parseSkipped, err := parser.Parse(f, accountID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		BatchID:    uuid.New(),
		Discovered: len(records),
		Skipped:    parseSkipped,
		DryRun:     dryRun,
	}

	if dryRun {
		result.Transactions = buildPreview(records, opts)
		return result, nil
	}

	toInsert, duplicates, err := s.dedupe(records)
	if err != nil {
		return nil, err
	}
	result.Skipped += duplicates

	rows := make([]*types.Transaction, len(toInsert))
	batch := result.BatchID
	for i, rec := range toInsert {
		rows[i] = &types.Transaction{
			ID:             uuid.New(),
			AccountID:      accountID,
			Amount:         rec.Amount,
			Date:           rec.Date,
			Description:    rec.Description,
			CSVFingerprint: rec.Fingerprint,
			ImportBatchID:  &batch,
		}
	}
	inserted, err := s.Repo.BulkInsertTransactions(rows)
	if err != nil {
		return nil, err
	}
	result.Imported = inserted

	snapshots := deriveSnapshots(records, accountID)
	if len(snapshots) > 0 {
		n, err := s.Repo.BulkInsertBalanceSnapshots(snapshots)
		if err != nil {
			return nil, err
		}
		result.BalanceSnapshotsCreated = n
	}
	return result, nil
}

// dedupe applies the count-delta policy: for each fingerprint, insert
// max(0, file_count - db_count) rows; the rest are duplicates. Re-import
// of an identical file inserts nothing; deleting k of n identical rows and
// re-importing reinstates exactly k.
func (s *Service) dedupe(records []csvparse.Record) (insert []csvparse.Record, duplicates int, err error) {
	if len(records) == 0 {
		return nil, 0, nil
	}
	fps := make([]string, 0, len(records))
	seen := map[string]bool{}
	for _, r := range records {
		if !seen[r.Fingerprint] {
			seen[r.Fingerprint] = true
			fps = append(fps, r.Fingerprint)
		}
	}
	dbCounts, err := s.Repo.GetCSVFingerprintCounts(fps)
	if err != nil {
		return nil, 0, err
	}
	insert, duplicates = planDelta(records, dbCounts)
	return insert, duplicates, nil
}

// planDelta selects, in file order, the rows to insert so that each
// fingerprint's database count reaches max(db_count, file_count).
func planDelta(records []csvparse.Record, dbCounts map[string]int) (insert []csvparse.Record, duplicates int) {
	remaining := map[string]int{}
	for _, r := range records {
		remaining[r.Fingerprint]++
	}
	for fp := range remaining {
		remaining[fp] -= dbCounts[fp]
	}
	for _, r := range records {
		if remaining[r.Fingerprint] > 0 {
			remaining[r.Fingerprint]--
			insert = append(insert, r)
		} else {
			duplicates++
		}
	}
	return insert, duplicates
}

// deriveSnapshots emits one CSV snapshot per calendar day that carries a
// balance: the last row of the day wins, stamped at 23:59:59.999999.
func deriveSnapshots(records []csvparse.Record, accountID uuid.UUID) []*types.BalanceSnapshot {
	lastByDay := map[string]decimal.Decimal{}
	dayTimes := map[string]time.Time{}
	for _, r := range records {
		if r.Balance == nil {
			continue
		}
		key := r.Date.Format("2006-01-02")
		lastByDay[key] = *r.Balance
		dayTimes[key] = r.Date
	}
	if len(lastByDay) == 0 {
		return nil
	}
	keys := make([]string, 0, len(lastByDay))
	for k := range lastByDay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*types.BalanceSnapshot, 0, len(keys))
	for _, k := range keys {
		d := dayTimes[k]
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		ts := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999999000, time.UTC)
		out = append(out, &types.BalanceSnapshot{
			ID:        uuid.New(),
			AccountID: accountID,
			Balance:   lastByDay[k],
			Timestamp: ts,
			Day:       &day,
			Source:    types.SnapshotSourceCSV,
		})
	}
	return out
}

// buildPreview renders records for dry-run display, reconstructing a
// running balance from the anchor when one is given.
func buildPreview(records []csvparse.Record, opts Options) []PreviewRow {
	ordered := make([]csvparse.Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	var balances []decimal.Decimal
	if opts.AnchorBalance != nil && opts.AnchorDate != nil {
		balances = reconstructBalances(ordered, *opts.AnchorBalance, *opts.AnchorDate)
	}

	out := make([]PreviewRow, len(ordered))
	for i, r := range ordered {
		row := PreviewRow{
			Date:        r.Date.Format("2006-01-02"),
			Amount:      r.Amount.StringFixed(2),
			Description: r.Description,
		}
		switch {
		case r.Balance != nil:
			row.Balance = r.Balance.StringFixed(2)
		case balances != nil:
			row.Balance = balances[i].StringFixed(2)
		}
		out[i] = row
	}
	return out
}

// reconstructBalances computes a balance-after-row column from a known
// balance at a known date. The anchor is the balance after the last row
// on the anchor date; with no rows on or before it, it is the opening
// balance before the first row.
func reconstructBalances(ordered []csvparse.Record, anchor decimal.Decimal, anchorDate time.Time) []decimal.Decimal {
	prefix := make([]decimal.Decimal, len(ordered))
	running := decimal.Zero
	for i, r := range ordered {
		running = running.Add(r.Amount)
		prefix[i] = running
	}
	anchorSum := decimal.Zero
	for i, r := range ordered {
		if !r.Date.After(anchorDate) {
			anchorSum = prefix[i]
		}
	}
	out := make([]decimal.Decimal, len(ordered))
	for i := range ordered {
		out[i] = anchor.Sub(anchorSum).Add(prefix[i])
	}
	return out
}
