package syncer

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

// fakeDoer serves canned JSON per URL substring.
type fakeDoer struct {
	responses map[string]string
	status    int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	for key, body := range f.responses {
		if strings.Contains(req.URL.String(), key) {
			return &http.Response{
				StatusCode: status,
				Status:     http.StatusText(status),
				Body:       io.NopCloser(strings.NewReader(body)),
			}, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     "Not Found",
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

const bridgeBody = `{
  "accounts": [
    {
      "id": "acct-1",
      "name": "Everyday Checking",
      "currency": "USD",
      "balance": "1250.00",
      "balance-date": 1705312800,
      "org": {"name": "Test Bank"},
      "transactions": [
        {"id": "tx-1", "posted": 1705276800, "amount": "-25.50", "description": "Grocery Store"},
        {"id": "tx-2", "posted": 1705363200, "amount": "100.00", "description": "Paycheck"}
      ]
    }
  ]
}`

func setupSyncService(t *testing.T) *Service {
	t.Helper()
	repo, err := duckdb.New(filepath.Join(t.TempDir(), "treeline.duckdb"), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertIntegration(&types.Integration{
		Name:    types.ProviderBridge,
		Config:  `{"access_url":"https://bridge.example/claimed"}`,
		Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	svc := NewService(repo)
	svc.Factory = func(in *types.Integration) (Provider, error) {
		return NewBridgeClient(in.Config, &fakeDoer{responses: map[string]string{"bridge.example": bridgeBody}})
	}
	return svc
}

func TestSyncFirstPass(t *testing.T) {
	svc := setupSyncService(t)
	result, err := svc.Sync(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("results = %d", len(result.Results))
	}
	ir := result.Results[0]
	if ir.Error != "" {
		t.Fatalf("error = %s", ir.Error)
	}
	if ir.SyncType != "full" {
		t.Errorf("sync type = %s, want full on first pass", ir.SyncType)
	}
	if ir.AccountsSynced != 1 {
		t.Errorf("accounts = %d", ir.AccountsSynced)
	}
	if ir.TransactionStats.Discovered != 2 || ir.TransactionStats.New != 2 {
		t.Errorf("stats = %+v", ir.TransactionStats)
	}
}

func TestSyncIdempotence(t *testing.T) {
	svc := setupSyncService(t)
	// Five back-to-back syncs of the same window: no duplicates.
	for i := 0; i < 5; i++ {
		result, err := svc.Sync(context.Background(), "", false)
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		ir := result.Results[0]
		if ir.Error != "" {
			t.Fatalf("sync %d error: %s", i, ir.Error)
		}
		if i > 0 && ir.TransactionStats.New != 0 {
			t.Errorf("sync %d inserted %d new rows, want 0", i, ir.TransactionStats.New)
		}
	}
	dups, err := svc.Repo.CheckDuplicateBridgeIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(dups) != 0 {
		t.Errorf("duplicate bridge ids: %v", dups)
	}
	accounts, err := svc.Repo.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Errorf("accounts = %d, want the one upserted account", len(accounts))
	}
	total, _ := svc.Repo.CountTransactions(accounts[0].ID)
	if total != 2 {
		t.Errorf("transactions = %d, want 2", total)
	}
}

func TestSecondSyncIsIncremental(t *testing.T) {
	svc := setupSyncService(t)
	if _, err := svc.Sync(context.Background(), "", false); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Sync(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Results[0].SyncType != "incremental" {
		t.Errorf("second sync type = %s", result.Results[0].SyncType)
	}
}

func TestFailedIntegrationDoesNotAbort(t *testing.T) {
	svc := setupSyncService(t)
	// Add a second integration whose provider always fails.
	if err := svc.Repo.UpsertIntegration(&types.Integration{
		Name:    types.ProviderAggregator,
		Config:  `{"api_key":"k","base_url":"https://agg.example"}`,
		Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	base := svc.Factory
	svc.Factory = func(in *types.Integration) (Provider, error) {
		if in.Name == types.ProviderAggregator {
			return nil, types.E(types.KindNetwork, "aggregator unreachable")
		}
		return base(in)
	}

	result, err := svc.Sync(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("results = %d", len(result.Results))
	}
	var okCount, errCount int
	for _, ir := range result.Results {
		if ir.Error == "" {
			okCount++
		} else {
			errCount++
		}
	}
	if okCount != 1 || errCount != 1 {
		t.Errorf("ok=%d err=%d, want the failure isolated", okCount, errCount)
	}
}

func TestSyncDryRun(t *testing.T) {
	svc := setupSyncService(t)
	result, err := svc.Sync(context.Background(), "", true)
	if err != nil {
		t.Fatal(err)
	}
	ir := result.Results[0]
	if ir.TransactionStats.Discovered != 2 || ir.TransactionStats.New != 0 {
		t.Errorf("dry-run stats = %+v", ir.TransactionStats)
	}
	accounts, _ := svc.Repo.ListAccounts()
	if len(accounts) != 0 {
		t.Errorf("dry run persisted %d accounts", len(accounts))
	}
}

func TestSyncUnknownIntegration(t *testing.T) {
	svc := setupSyncService(t)
	if _, err := svc.Sync(context.Background(), "nope", false); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestAutoTagRunsOnNewRows(t *testing.T) {
	svc := setupSyncService(t)
	if err := svc.Repo.CreateAutoTagRule(&types.AutoTagRule{
		Name:         "groceries",
		Enabled:      true,
		SQLCondition: "description ILIKE '%grocery%'",
		Tags:         []string{"groceries"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Sync(context.Background(), "", false); err != nil {
		t.Fatal(err)
	}
	accounts, _ := svc.Repo.ListAccounts()
	list, err := svc.Repo.ListTransactions(accounts[0].ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	tagged := 0
	for _, tx := range list {
		if len(tx.Tags) > 0 {
			tagged++
		}
	}
	if tagged != 1 {
		t.Errorf("tagged = %d, want just the grocery row", tagged)
	}
}

func TestRuleFailureIsSanitized(t *testing.T) {
	svc := setupSyncService(t)
	if err := svc.Repo.CreateAutoTagRule(&types.AutoTagRule{
		Name:         "broken",
		Enabled:      true,
		SQLCondition: "no_such_column LIKE '%secret-pattern%'",
		Tags:         []string{"x"},
	}); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Sync(context.Background(), "", false)
	if err != nil {
		t.Fatal(err)
	}
	ir := result.Results[0]
	if ir.Error != "" {
		t.Fatalf("rule failure must not fail the sync: %s", ir.Error)
	}
	if len(ir.AutoTagFailures) != 1 {
		t.Fatalf("failures = %+v", ir.AutoTagFailures)
	}
	if strings.Contains(ir.AutoTagFailures[0].Error, "secret-pattern") {
		t.Error("sanitized failure leaked the rule's SQL")
	}
}
