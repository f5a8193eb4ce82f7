package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/tags"
	"github.com/treeline-money/treeline/internal/types"
)

// Incremental syncs reach back seven days past the last successful sync;
// the overlap absorbs provider-side re-posts and late-settlement edits.
const overlapDays = 7

// fullWindowDays is the fetch window when no prior sync is recorded.
const fullWindowDays = 365

// TransactionStats counts one integration's transaction outcomes.
type TransactionStats struct {
	Discovered int `json:"discovered"`
	New        int `json:"new"`
	Skipped    int `json:"skipped"`
}

// IntegrationResult is the per-integration outcome of a sync pass.
type IntegrationResult struct {
	Integration      string             `json:"integration"`
	SyncType         string             `json:"sync_type"`
	StartDate        string             `json:"start_date"`
	EndDate          string             `json:"end_date"`
	AccountsSynced   int                `json:"accounts_synced"`
	TransactionStats TransactionStats   `json:"transaction_stats"`
	AutoTagFailures  []tags.RuleFailure `json:"auto_tag_failures,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// Result is a whole sync pass. A failed integration is recorded in its
// entry; it never aborts the others.
type Result struct {
	Results []IntegrationResult `json:"results"`
}

// ProviderFactory builds a Provider for an integration config.
type ProviderFactory func(integration *types.Integration) (Provider, error)

// DefaultProviderFactory recognizes the two shipped protocols.
func DefaultProviderFactory(in *types.Integration) (Provider, error) {
	switch in.Name {
	case types.ProviderBridge:
		return NewBridgeClient(in.Config, nil)
	case types.ProviderAggregator:
		return NewAggregatorClient(in.Config, nil)
	default:
		return nil, types.E(types.KindConfig, "unknown integration '%s'", in.Name)
	}
}

// Service orchestrates provider syncs.
type Service struct {
	Repo    *duckdb.Repo
	Tags    *tags.Service
	Factory ProviderFactory
}

// NewService creates a sync service with the default provider factory.
func NewService(repo *duckdb.Repo) *Service {
	return &Service{
		Repo:    repo,
		Tags:    tags.NewService(repo),
		Factory: DefaultProviderFactory,
	}
}

// Sync runs every enabled integration (or just the named one). dryRun
// fetches and reports without writing.
func (s *Service) Sync(ctx context.Context, only string, dryRun bool) (*Result, error) {
	integrations, err := s.Repo.ListIntegrations()
	if err != nil {
		return nil, err
	}
	result := &Result{}
	for _, in := range integrations {
		if only != "" && in.Name != only {
			continue
		}
		if !in.Enabled {
			continue
		}
		ir := s.syncOne(ctx, in, dryRun)
		result.Results = append(result.Results, ir)
	}
	if only != "" && len(result.Results) == 0 {
		return nil, types.E(types.KindNotFound, "integration '%s' not found or disabled", only)
	}
	return result, nil
}

func (s *Service) syncOne(ctx context.Context, in *types.Integration, dryRun bool) IntegrationResult {
	now := time.Now().UTC()
	syncType := "full"
	start := now.AddDate(0, 0, -fullWindowDays)
	if in.LastSuccessfulSync != nil {
		syncType = "incremental"
		start = in.LastSuccessfulSync.AddDate(0, 0, -overlapDays)
	}
	ir := IntegrationResult{
		Integration: in.Name,
		SyncType:    syncType,
		StartDate:   start.Format("2006-01-02"),
		EndDate:     now.Format("2006-01-02"),
	}

	provider, err := s.Factory(in)
	if err != nil {
		ir.Error = err.Error()
		return ir
	}

	// Fetch with no lock held; the lock is only for the inserts below.
	remoteAccounts, err := provider.FetchAccounts(ctx)
	if err != nil {
		ir.Error = err.Error()
		return ir
	}
	remoteTxs, err := provider.FetchTransactions(ctx, start, now)
	if err != nil {
		ir.Error = err.Error()
		return ir
	}
	ir.TransactionStats.Discovered = len(remoteTxs)

	if dryRun {
		ir.AccountsSynced = len(remoteAccounts)
		return ir
	}

	accountIDs := map[string]uuid.UUID{}
	for _, ra := range remoteAccounts {
		acct := &types.Account{
			Name:              ra.Name,
			AccountType:       ra.AccountType,
			Currency:          ra.Currency,
			Provider:          provider.Name(),
			ProviderAccountID: ra.NativeID,
			ProviderName:      ra.Name,
			ProviderCurrency:  ra.Currency,
			ProviderBalance:   ra.Balance,
			ProviderSyncedAt:  &now,
		}
		id, err := s.Repo.UpsertProviderAccount(acct)
		if err != nil {
			ir.Error = err.Error()
			return ir
		}
		accountIDs[ra.NativeID] = id
		ir.AccountsSynced++
	}

	inserted, skipped, err := s.insertNew(provider.Name(), remoteTxs, accountIDs)
	if err != nil {
		ir.Error = err.Error()
		return ir
	}
	ir.TransactionStats.New = len(inserted)
	ir.TransactionStats.Skipped = skipped

	if len(inserted) > 0 {
		tagResult, err := s.Tags.ApplyAutoTagRules(inserted)
		if err != nil {
			ir.Error = err.Error()
			return ir
		}
		ir.AutoTagFailures = tagResult.FailedRules
	}

	if err := s.Repo.SetLastSuccessfulSync(in.Name, now); err != nil {
		ir.Error = err.Error()
	}
	return ir
}

// insertNew drops transactions whose provider native id already exists
// (looked up in 500-id chunks) and bulk inserts the remainder.
func (s *Service) insertNew(providerName string, remote []RemoteTransaction, accountIDs map[string]uuid.UUID) (inserted []uuid.UUID, skipped int, err error) {
	if len(remote) == 0 {
		return nil, 0, nil
	}
	nativeIDs := make([]string, 0, len(remote))
	for _, t := range remote {
		nativeIDs = append(nativeIDs, t.NativeID)
	}

	var existing map[string]bool
	switch providerName {
	case types.ProviderBridge:
		existing, err = s.Repo.GetExistingBridgeIDs(nativeIDs)
	case types.ProviderAggregator:
		existing, err = s.Repo.GetExistingAggregatorIDs(nativeIDs)
	default:
		return nil, 0, types.E(types.KindConfig, "unknown provider '%s'", providerName)
	}
	if err != nil {
		return nil, 0, err
	}

	var rows []*types.Transaction
	for _, t := range remote {
		if existing[t.NativeID] {
			skipped++
			continue
		}
		accountID, ok := accountIDs[t.AccountNativeID]
		if !ok {
			skipped++
			continue
		}
		row := &types.Transaction{
			ID:          uuid.New(),
			AccountID:   accountID,
			Amount:      t.Amount,
			Date:        t.Date,
			Description: t.Description,
		}
		if providerName == types.ProviderBridge {
			row.BridgeTxID = t.NativeID
		} else {
			row.AggregatorTxID = t.NativeID
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, skipped, nil
	}
	// The unique index absorbs any id that raced in after the lookup;
	// RETURNING tells us exactly which rows landed.
	inserted, err = s.Repo.InsertTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	skipped += len(rows) - len(inserted)
	return inserted, skipped, nil
}
