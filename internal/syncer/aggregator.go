package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

// AggregatorConfig is the stored config blob for the global aggregator:
// an API key and the service base URL.
type AggregatorConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// AggregatorClient syncs via the API-key aggregator protocol. Accounts
// and transactions are separate endpoints.
type AggregatorClient struct {
	cfg    AggregatorConfig
	client Doer
}

// NewAggregatorClient builds an aggregator client from an integration
// config blob.
func NewAggregatorClient(configJSON string, client Doer) (*AggregatorClient, error) {
	var cfg AggregatorConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, types.WrapErr(types.KindConfig, err, "parsing aggregator config")
	}
	if cfg.APIKey == "" {
		return nil, types.E(types.KindConfig, "aggregator integration is missing api_key")
	}
	if cfg.BaseURL == "" {
		return nil, types.E(types.KindConfig, "aggregator integration is missing base_url")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &AggregatorClient{cfg: cfg, client: client}, nil
}

// Name implements Provider.
func (c *AggregatorClient) Name() string { return types.ProviderAggregator }

type aggregatorAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Currency    string `json:"currency_code"`
	Balance     string `json:"balance"`
	BalanceDate string `json:"balance_date"` // RFC 3339
	Institution string `json:"institution_name"`
}

type aggregatorTransaction struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	MadeOn      string `json:"made_on"` // YYYY-MM-DD
	Description string `json:"description"`
}

func (c *AggregatorClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return types.WrapErr(types.KindNetwork, err, "building aggregator request")
	}
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	body, err := fetchWithRetry(ctx, c.client, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.WrapErr(types.KindParse, err, "decoding aggregator response")
	}
	return nil
}

// FetchAccounts implements Provider.
func (c *AggregatorClient) FetchAccounts(ctx context.Context) ([]RemoteAccount, error) {
	var payload struct {
		Data []aggregatorAccount `json:"data"`
	}
	if err := c.get(ctx, "/accounts", &payload); err != nil {
		return nil, err
	}
	out := make([]RemoteAccount, 0, len(payload.Data))
	for _, a := range payload.Data {
		ra := RemoteAccount{
			NativeID:    a.ID,
			Name:        a.Name,
			AccountType: a.Type,
			Currency:    a.Currency,
		}
		if a.Balance != "" {
			if d, err := decimal.NewFromString(a.Balance); err == nil {
				ra.Balance = &d
			}
		}
		if a.BalanceDate != "" {
			if t, err := time.Parse(time.RFC3339, a.BalanceDate); err == nil {
				t = t.UTC()
				ra.BalanceAt = &t
			}
		}
		out = append(out, ra)
	}
	return out, nil
}

// FetchTransactions implements Provider.
func (c *AggregatorClient) FetchTransactions(ctx context.Context, since, until time.Time) ([]RemoteTransaction, error) {
	var payload struct {
		Data []aggregatorTransaction `json:"data"`
	}
	path := fmt.Sprintf("/transactions?from_date=%s&to_date=%s",
		since.Format("2006-01-02"), until.Format("2006-01-02"))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	out := make([]RemoteTransaction, 0, len(payload.Data))
	for _, t := range payload.Data {
		amount, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return nil, types.WrapErr(types.KindParse, err, "decoding aggregator amount %q", t.Amount)
		}
		date, err := time.Parse("2006-01-02", t.MadeOn)
		if err != nil {
			return nil, types.WrapErr(types.KindParse, err, "decoding aggregator date %q", t.MadeOn)
		}
		out = append(out, RemoteTransaction{
			NativeID:        t.ID,
			AccountNativeID: t.AccountID,
			Amount:          amount,
			Date:            date,
			Description:     t.Description,
		})
	}
	return out, nil
}
