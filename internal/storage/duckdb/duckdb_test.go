package duckdb

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

func setupTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "treeline.duckdb"), "")
	if err != nil {
		t.Fatalf("creating test repo: %v", err)
	}
	return repo
}

func testAccount(t *testing.T, repo *Repo, name string) uuid.UUID {
	t.Helper()
	account := &types.Account{Name: name, Currency: "USD"}
	if err := repo.CreateAccount(account); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return account.ID
}

func testTx(accountID uuid.UUID, amount string, day int) *types.Transaction {
	return &types.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    decimal.RequireFromString(amount),
		Date:      time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestMigrationIdempotence(t *testing.T) {
	repo := setupTestRepo(t)
	// New already migrated once; run several more times.
	for i := 0; i < 3; i++ {
		if err := repo.Migrate(); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	names, err := repo.AppliedMigrations()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			t.Errorf("migration %q recorded twice", n)
		}
		seen[n] = true
	}
	if !seen["000_migrations.sql"] || !seen["002_transactions.sql"] {
		t.Errorf("applied set incomplete: %v", names)
	}
}

func TestAccountCRUD(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	account, err := repo.GetAccount(id)
	if err != nil {
		t.Fatal(err)
	}
	if account.Name != "Checking" || account.Currency != "USD" {
		t.Errorf("account = %+v", account)
	}

	byName, err := repo.GetAccountByName("Checking")
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != id {
		t.Error("lookup by name returned a different account")
	}

	if _, err := repo.GetAccount(uuid.New()); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("missing account = %v, want NotFound", err)
	}

	resolved, err := repo.ResolveAccount(id.String())
	if err != nil || resolved != id {
		t.Errorf("resolve by uuid = %v, %v", resolved, err)
	}
	resolved, err = repo.ResolveAccount("Checking")
	if err != nil || resolved != id {
		t.Errorf("resolve by name = %v, %v", resolved, err)
	}
}

func TestBulkInsertAndCount(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	rows := []*types.Transaction{
		testTx(id, "100.00", 15),
		testTx(id, "-25.50", 16),
		testTx(id, "-15.00", 17),
	}
	rows[0].Description = "Paycheck"
	n, err := repo.BulkInsertTransactions(rows)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("inserted = %d, want 3", n)
	}
	count, err := repo.CountTransactions(id)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	list, err := repo.ListTransactions(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("listed %d", len(list))
	}
	// Newest first.
	if list[0].Date.Format("2006-01-02") != "2024-01-17" {
		t.Errorf("first listed date = %s", list[0].Date)
	}
}

func TestProviderIDConflictSkipped(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	a := testTx(id, "10.00", 1)
	a.BridgeTxID = "bridge-1"
	if n, err := repo.BulkInsertTransactions([]*types.Transaction{a}); err != nil || n != 1 {
		t.Fatalf("first insert n=%d err=%v", n, err)
	}

	b := testTx(id, "10.00", 1)
	b.BridgeTxID = "bridge-1"
	n, err := repo.BulkInsertTransactions([]*types.Transaction{b})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("duplicate bridge id inserted %d rows, want 0", n)
	}

	dups, err := repo.CheckDuplicateBridgeIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(dups) != 0 {
		t.Errorf("duplicates diagnostic = %v, want empty", dups)
	}
}

func TestInsertTransactionsReturnsExactIDs(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	seed := testTx(id, "5.00", 2)
	seed.BridgeTxID = "bridge-mid"
	if _, err := repo.InsertTransactions([]*types.Transaction{seed}); err != nil {
		t.Fatal(err)
	}

	// The conflicting row sits in the middle of the batch: the returned
	// set must be the rows that actually landed, not a positional prefix.
	a := testTx(id, "1.00", 1)
	a.BridgeTxID = "bridge-a"
	dup := testTx(id, "5.00", 2)
	dup.BridgeTxID = "bridge-mid"
	b := testTx(id, "3.00", 3)
	b.BridgeTxID = "bridge-b"

	inserted, err := repo.InsertTransactions([]*types.Transaction{a, dup, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(inserted) != 2 {
		t.Fatalf("inserted = %d ids, want 2", len(inserted))
	}
	got := map[uuid.UUID]bool{}
	for _, u := range inserted {
		got[u] = true
	}
	if !got[a.ID] || !got[b.ID] {
		t.Errorf("inserted = %v, want exactly {%s, %s}", inserted, a.ID, b.ID)
	}
	if got[dup.ID] {
		t.Error("conflicting row reported as inserted")
	}
}

func TestChunkedLookupsCrossBoundary(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	// 600 matching ids in the database, 700 inputs: the lookup must
	// cross the 500-chunk boundary and return exactly 600.
	var rows []*types.Transaction
	for i := 0; i < 600; i++ {
		tx := testTx(id, "1.00", 1+i%28)
		tx.AggregatorTxID = fmt.Sprintf("agg-%04d", i)
		rows = append(rows, tx)
	}
	if _, err := repo.BulkInsertTransactions(rows); err != nil {
		t.Fatal(err)
	}

	var query []string
	for i := 0; i < 700; i++ {
		query = append(query, fmt.Sprintf("agg-%04d", i))
	}
	existing, err := repo.GetExistingAggregatorIDs(query)
	if err != nil {
		t.Fatal(err)
	}
	if len(existing) != 600 {
		t.Errorf("existing = %d, want exactly 600", len(existing))
	}
}

func TestFingerprintCounts(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	rows := []*types.Transaction{testTx(id, "1.00", 1), testTx(id, "1.00", 1), testTx(id, "2.00", 2)}
	rows[0].CSVFingerprint = "fp-a"
	rows[1].CSVFingerprint = "fp-a"
	rows[2].CSVFingerprint = "fp-b"
	if _, err := repo.BulkInsertTransactions(rows); err != nil {
		t.Fatal(err)
	}

	counts, err := repo.GetCSVFingerprintCounts([]string{"fp-a", "fp-b", "fp-absent"})
	if err != nil {
		t.Fatal(err)
	}
	if counts["fp-a"] != 2 || counts["fp-b"] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if _, ok := counts["fp-absent"]; ok {
		t.Error("absent fingerprints must be omitted")
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Doomed")
	keep := testAccount(t, repo, "Kept")

	if _, err := repo.BulkInsertTransactions([]*types.Transaction{
		testTx(id, "1.00", 1), testTx(id, "2.00", 2), testTx(keep, "3.00", 3),
	}); err != nil {
		t.Fatal(err)
	}
	snaps := []*types.BalanceSnapshot{{
		AccountID: id,
		Balance:   decimal.RequireFromString("100"),
		Timestamp: time.Date(2024, 1, 1, 23, 59, 59, 999999000, time.UTC),
		Source:    types.SnapshotSourceCSV,
	}}
	if _, err := repo.BulkInsertBalanceSnapshots(snaps); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteAccount(id); err != nil {
		t.Fatal(err)
	}

	if n, _ := repo.CountTransactions(id); n != 0 {
		t.Errorf("orphan transactions: %d", n)
	}
	if n, _ := repo.CountBalanceSnapshots(id); n != 0 {
		t.Errorf("orphan snapshots: %d", n)
	}
	if _, err := repo.GetAccount(id); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("deleted account lookup = %v", err)
	}
	if n, _ := repo.CountTransactions(keep); n != 1 {
		t.Errorf("other account affected: %d", n)
	}
}

func TestSnapshotUpsertPerDay(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 1, 15, 23, 59, 59, 999999000, time.UTC)

	first := []*types.BalanceSnapshot{{
		AccountID: id, Balance: decimal.RequireFromString("100"),
		Timestamp: ts, Day: &day, Source: types.SnapshotSourceCSV,
	}}
	if _, err := repo.BulkInsertBalanceSnapshots(first); err != nil {
		t.Fatal(err)
	}
	second := []*types.BalanceSnapshot{{
		AccountID: id, Balance: decimal.RequireFromString("250"),
		Timestamp: ts, Day: &day, Source: types.SnapshotSourceCSV,
	}}
	if _, err := repo.BulkInsertBalanceSnapshots(second); err != nil {
		t.Fatal(err)
	}

	snaps, err := repo.ListBalanceSnapshots(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want the day upserted to one", len(snaps))
	}
	if !snaps[0].Balance.Equal(decimal.RequireFromString("250")) {
		t.Errorf("balance = %s, want the newer 250", snaps[0].Balance)
	}
}

func TestProviderSnapshotsCoexistWithinDay(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	rows := []*types.BalanceSnapshot{
		{AccountID: id, Balance: decimal.RequireFromString("10"),
			Timestamp: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), Source: types.SnapshotSourceProvider},
		{AccountID: id, Balance: decimal.RequireFromString("20"),
			Timestamp: time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC), Source: types.SnapshotSourceProvider},
	}
	if _, err := repo.BulkInsertBalanceSnapshots(rows); err != nil {
		t.Fatal(err)
	}
	snaps, err := repo.ListBalanceSnapshots(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Errorf("provider snapshots = %d, want both kept", len(snaps))
	}
}

func TestAutoTagRuleApply(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")

	coffee := testTx(id, "-4.50", 10)
	coffee.Description = "Blue Bottle Coffee"
	rent := testTx(id, "-2000.00", 1)
	rent.Description = "Rent Payment"
	if _, err := repo.BulkInsertTransactions([]*types.Transaction{coffee, rent}); err != nil {
		t.Fatal(err)
	}

	modified, err := repo.BulkApplyTagsToMatching(
		[]uuid.UUID{coffee.ID, rent.ID},
		"description ILIKE '%coffee%'",
		[]string{"coffee", "fun"})
	if err != nil {
		t.Fatal(err)
	}
	if len(modified) != 1 || modified[0] != coffee.ID {
		t.Fatalf("modified = %v, want just the coffee transaction", modified)
	}

	got, err := repo.GetTransaction(coffee.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v", got.Tags)
	}

	// Re-applying adds nothing new: tags are deduplicated.
	if _, err := repo.BulkApplyTagsToMatching(
		[]uuid.UUID{coffee.ID}, "description ILIKE '%coffee%'", []string{"coffee"}); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetTransaction(coffee.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags after re-apply = %v", got.Tags)
	}
}

func TestAutoTagRuleBadConditionFails(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")
	tx := testTx(id, "-1.00", 1)
	if _, err := repo.BulkInsertTransactions([]*types.Transaction{tx}); err != nil {
		t.Fatal(err)
	}
	_, err := repo.BulkApplyTagsToMatching([]uuid.UUID{tx.ID}, "no_such_column = 1", []string{"x"})
	if err == nil {
		t.Error("expected a binder error from a bad condition")
	}
}

func TestRuleCRUD(t *testing.T) {
	repo := setupTestRepo(t)
	rule := &types.AutoTagRule{
		Name:         "coffee",
		Enabled:      true,
		SQLCondition: "description ILIKE '%coffee%'",
		Tags:         []string{"coffee"},
	}
	if err := repo.CreateAutoTagRule(rule); err != nil {
		t.Fatal(err)
	}
	enabled, err := repo.GetEnabledAutoTagRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 1 || enabled[0].Name != "coffee" || len(enabled[0].Tags) != 1 {
		t.Errorf("enabled = %+v", enabled)
	}
	if err := repo.SetAutoTagRuleEnabled(rule.ID, false); err != nil {
		t.Fatal(err)
	}
	enabled, err = repo.GetEnabledAutoTagRules()
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 0 {
		t.Errorf("disabled rule still returned: %+v", enabled)
	}
	if err := repo.DeleteAutoTagRule(rule.ID); err != nil {
		t.Fatal(err)
	}
}

func TestIntegrationLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	in := &types.Integration{
		Name:    types.ProviderBridge,
		Config:  `{"access_url":"https://bridge.example/token"}`,
		Enabled: true,
	}
	if err := repo.UpsertIntegration(in); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetIntegration(types.ProviderBridge)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSuccessfulSync != nil {
		t.Error("fresh integration has no sync time")
	}
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.SetLastSuccessfulSync(types.ProviderBridge, at); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetIntegration(types.ProviderBridge)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSuccessfulSync == nil || !got.LastSuccessfulSync.Equal(at) {
		t.Errorf("last sync = %v", got.LastSuccessfulSync)
	}
}

func TestExecuteQueryRejectsWrites(t *testing.T) {
	repo := setupTestRepo(t)
	if _, err := repo.ExecuteQuery("DELETE FROM sys_transactions"); err == nil {
		t.Error("write must be rejected by the read path")
	}
	if _, err := repo.ExecuteQuery("SELECT 1; DROP TABLE accounts"); err == nil {
		t.Error("mixed statements must be rejected by the read path")
	}
	result, err := repo.ExecuteQuery("SELECT COUNT(*) AS n FROM accounts")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Columns) != 1 || len(result.Rows) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteSQLAllowsMaintenance(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.ExecuteSQL("CHECKPOINT"); err != nil {
		t.Errorf("CHECKPOINT: %v", err)
	}
	if err := repo.ExecuteSQL("VACUUM"); err != nil {
		t.Errorf("VACUUM: %v", err)
	}
}

func TestExecuteSQLWithParams(t *testing.T) {
	repo := setupTestRepo(t)
	id := testAccount(t, repo, "Checking")
	err := repo.ExecuteSQLWithParams(
		"UPDATE accounts SET institution = ? WHERE id = ?",
		[]Param{ParamString("Test Bank"), ParamString(id.String())})
	if err != nil {
		t.Fatal(err)
	}
	account, err := repo.GetAccount(id)
	if err != nil {
		t.Fatal(err)
	}
	if account.Institution != "Test Bank" {
		t.Errorf("institution = %q", account.Institution)
	}
}

func TestSharedContextInvalidation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "treeline.duckdb")
	shared := NewShared()

	a, err := shared.Get(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := shared.Get(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same key should reuse the cached repo")
	}
	shared.Invalidate()
	c, err := shared.Get(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Error("invalidate should force a rebuild")
	}
}
