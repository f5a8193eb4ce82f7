// Package types defines the domain entities shared across the engine.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider names recognized by the sync service.
const (
	ProviderBridge     = "bridge"     // US/Canada bridge protocol
	ProviderAggregator = "aggregator" // global API-key aggregator
)

// Snapshot sources.
const (
	SnapshotSourceCSV      = "csv_import"
	SnapshotSourceProvider = "provider"
	SnapshotSourceManual   = "manual"
)

// Account is a financial account. Provider fields record provenance for
// synced accounts and are empty for CSV-only or manual accounts.
type Account struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	AccountType string           `json:"account_type,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
	Institution string           `json:"institution,omitempty"`

	Provider          string           `json:"provider,omitempty"`
	ProviderAccountID string           `json:"provider_account_id,omitempty"`
	ProviderName      string           `json:"provider_name,omitempty"`
	ProviderCurrency  string           `json:"provider_currency,omitempty"`
	ProviderBalance   *decimal.Decimal `json:"provider_balance,omitempty"`
	ProviderSyncedAt  *time.Time       `json:"provider_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is a single ledger entry. Exactly one provenance
// discriminator (BridgeTxID, AggregatorTxID, or CSVFingerprint+BatchID)
// is set for records from a known source; manual records have none.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`

	BridgeTxID     string     `json:"bridge_tx_id,omitempty"`
	AggregatorTxID string     `json:"aggregator_tx_id,omitempty"`
	CSVFingerprint string     `json:"csv_fingerprint,omitempty"`
	ImportBatchID  *uuid.UUID `json:"import_batch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BalanceSnapshot is a point-in-time account balance. CSV-derived snapshots
// carry a Day and are unique per (account, day); provider snapshots leave
// Day unset and may coexist within a day.
type BalanceSnapshot struct {
	ID        uuid.UUID       `json:"id"`
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
	Day       *time.Time      `json:"day,omitempty"`
	Source    string          `json:"source"`
}

// AutoTagRule adds tags to transactions matching a SQL WHERE fragment.
// Rules are additive and all-matching.
type AutoTagRule struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	SQLCondition string    `json:"sql_condition"`
	Tags         []string  `json:"tags"`
}

// Integration is a configured sync provider.
type Integration struct {
	Name               string     `json:"name"`
	Config             string     `json:"config"` // provider-specific JSON blob
	Enabled            bool       `json:"enabled"`
	LastSuccessfulSync *time.Time `json:"last_successful_sync,omitempty"`
}

// ColumnMappings names the CSV columns an import reads from.
// Amount may be replaced by the Debit/Credit pair.
type ColumnMappings struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Debit       string `json:"debit,omitempty"`
	Credit      string `json:"credit,omitempty"`
	Balance     string `json:"balance,omitempty"`
}

// ImportOptions tune CSV parsing for a given bank's export format.
type ImportOptions struct {
	FlipSigns     bool   `json:"flip_signs"`
	DebitNegative bool   `json:"debit_negative"`
	SkipRows      int    `json:"skip_rows"`
	NumberFormat  string `json:"number_format"` // "us", "eu", "eu_space"
}

// ImportProfile is a named, persisted column-mapping + options tuple.
type ImportProfile struct {
	Name           string         `json:"name"`
	ColumnMappings ColumnMappings `json:"column_mappings"`
	Options        ImportOptions  `json:"options"`
}
