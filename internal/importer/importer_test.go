package importer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/csvparse"
)

func rec(fp string, amount string, day int) csvparse.Record {
	return csvparse.Record{
		Date:        time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString(amount),
		Fingerprint: fp,
	}
}

func TestPlanDeltaFreshImport(t *testing.T) {
	records := []csvparse.Record{rec("a", "1", 1), rec("b", "2", 2), rec("c", "3", 3)}
	insert, dups := planDelta(records, map[string]int{})
	if len(insert) != 3 || dups != 0 {
		t.Errorf("insert=%d dups=%d, want 3/0", len(insert), dups)
	}
}

func TestPlanDeltaFullReimport(t *testing.T) {
	records := []csvparse.Record{rec("a", "1", 1), rec("b", "2", 2)}
	insert, dups := planDelta(records, map[string]int{"a": 1, "b": 1})
	if len(insert) != 0 || dups != 2 {
		t.Errorf("insert=%d dups=%d, want 0/2", len(insert), dups)
	}
}

func TestPlanDeltaPartialOverlap(t *testing.T) {
	// CSV2 = B,C,D,E after CSV1 = A,B,C already imported.
	records := []csvparse.Record{rec("b", "1", 1), rec("c", "2", 2), rec("d", "3", 3), rec("e", "4", 4)}
	insert, dups := planDelta(records, map[string]int{"a": 1, "b": 1, "c": 1})
	if len(insert) != 2 || dups != 2 {
		t.Errorf("insert=%d dups=%d, want 2/2", len(insert), dups)
	}
}

func TestPlanDeltaIdenticalRows(t *testing.T) {
	three := []csvparse.Record{rec("x", "-25.50", 15), rec("x", "-25.50", 15), rec("x", "-25.50", 15)}

	// First import: all three go in.
	insert, dups := planDelta(three, map[string]int{})
	if len(insert) != 3 || dups != 0 {
		t.Fatalf("first import: insert=%d dups=%d", len(insert), dups)
	}
	// Re-import with all three present: nothing goes in.
	insert, dups = planDelta(three, map[string]int{"x": 3})
	if len(insert) != 0 || dups != 3 {
		t.Fatalf("re-import: insert=%d dups=%d", len(insert), dups)
	}
	// After deleting two of three, re-import reinstates exactly two.
	insert, dups = planDelta(three, map[string]int{"x": 1})
	if len(insert) != 2 || dups != 1 {
		t.Fatalf("after deletion: insert=%d dups=%d", len(insert), dups)
	}
}

func TestPlanDeltaDBAhead(t *testing.T) {
	// More copies in the DB than in the file: nothing to insert.
	records := []csvparse.Record{rec("x", "1", 1)}
	insert, dups := planDelta(records, map[string]int{"x": 5})
	if len(insert) != 0 || dups != 1 {
		t.Errorf("insert=%d dups=%d, want 0/1", len(insert), dups)
	}
}

func TestDeriveSnapshotsLastRowWins(t *testing.T) {
	account := uuid.New()
	b1 := decimal.RequireFromString("100")
	b2 := decimal.RequireFromString("75")
	b3 := decimal.RequireFromString("50")
	records := []csvparse.Record{
		{Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Balance: &b1},
		{Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Balance: &b2},
		{Date: time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), Balance: &b3},
	}
	snaps := deriveSnapshots(records, account)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want one per day", len(snaps))
	}
	if !snaps[0].Balance.Equal(b2) {
		t.Errorf("day 1 balance = %s, want the last row's 75", snaps[0].Balance)
	}
	ts := snaps[0].Timestamp
	if ts.Hour() != 23 || ts.Minute() != 59 || ts.Second() != 59 || ts.Nanosecond() != 999999000 {
		t.Errorf("snapshot timestamp = %v, want 23:59:59.999999", ts)
	}
	if snaps[0].Source != "csv_import" {
		t.Errorf("source = %q", snaps[0].Source)
	}
}

func TestDeriveSnapshotsNoBalances(t *testing.T) {
	if snaps := deriveSnapshots([]csvparse.Record{rec("a", "1", 1)}, uuid.New()); len(snaps) != 0 {
		t.Errorf("snapshots = %d, want 0", len(snaps))
	}
}

func TestReconstructBalances(t *testing.T) {
	records := []csvparse.Record{
		rec("a", "100.00", 15),
		rec("b", "-25.50", 16),
		rec("c", "-15.00", 17),
	}
	anchor := decimal.RequireFromString("1000.00")
	anchorDate := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	balances := reconstructBalances(records, anchor, anchorDate)
	// Anchor is the balance after the last row on Jan 16.
	if !balances[1].Equal(anchor) {
		t.Errorf("balance at anchor = %s, want 1000", balances[1])
	}
	if !balances[0].Equal(decimal.RequireFromString("1025.50")) {
		t.Errorf("balance before anchor = %s, want 1025.50", balances[0])
	}
	if !balances[2].Equal(decimal.RequireFromString("985.00")) {
		t.Errorf("balance after anchor = %s, want 985.00", balances[2])
	}
}

func TestReconstructBalancesAnchorBeforeAll(t *testing.T) {
	records := []csvparse.Record{rec("a", "10.00", 15)}
	anchor := decimal.RequireFromString("100.00")
	balances := reconstructBalances(records, anchor, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !balances[0].Equal(decimal.RequireFromString("110.00")) {
		t.Errorf("balance = %s, want opening + amount = 110", balances[0])
	}
}
