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

// BridgeConfig is the stored config blob for the US/Canada bridge
// protocol: a single claimed access URL with embedded credentials.
type BridgeConfig struct {
	AccessURL string `json:"access_url"`
}

// BridgeClient syncs via the bridge protocol. One request returns
// accounts with their transactions for a date window.
type BridgeClient struct {
	cfg    BridgeConfig
	client Doer
}

// NewBridgeClient builds a bridge client from an integration config blob.
func NewBridgeClient(configJSON string, client Doer) (*BridgeClient, error) {
	var cfg BridgeConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, types.WrapErr(types.KindConfig, err, "parsing bridge config")
	}
	if cfg.AccessURL == "" {
		return nil, types.E(types.KindConfig, "bridge integration is missing access_url")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &BridgeClient{cfg: cfg, client: client}, nil
}

// Name implements Provider.
func (c *BridgeClient) Name() string { return types.ProviderBridge }

type bridgeAccountSet struct {
	Accounts []bridgeAccount `json:"accounts"`
}

type bridgeAccount struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Currency     string              `json:"currency"`
	Balance      string              `json:"balance"`
	BalanceDate  int64               `json:"balance-date"`
	Org          bridgeOrg           `json:"org"`
	Transactions []bridgeTransaction `json:"transactions"`
}

type bridgeOrg struct {
	Name string `json:"name"`
}

type bridgeTransaction struct {
	ID          string `json:"id"`
	Posted      int64  `json:"posted"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (c *BridgeClient) fetch(ctx context.Context, since, until time.Time, withTransactions bool) (*bridgeAccountSet, error) {
	url := fmt.Sprintf("%s/accounts?start-date=%d&end-date=%d",
		c.cfg.AccessURL, since.Unix(), until.Unix())
	if !withTransactions {
		url += "&balances-only=1"
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, types.WrapErr(types.KindNetwork, err, "building bridge request")
	}
	body, err := fetchWithRetry(ctx, c.client, req)
	if err != nil {
		return nil, err
	}
	var set bridgeAccountSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, types.WrapErr(types.KindParse, err, "decoding bridge response")
	}
	return &set, nil
}

// FetchAccounts implements Provider.
func (c *BridgeClient) FetchAccounts(ctx context.Context) ([]RemoteAccount, error) {
	now := time.Now().UTC()
	set, err := c.fetch(ctx, now.AddDate(0, 0, -1), now, false)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteAccount, 0, len(set.Accounts))
	for _, a := range set.Accounts {
		out = append(out, remoteAccountFromBridge(a))
	}
	return out, nil
}

// FetchTransactions implements Provider.
func (c *BridgeClient) FetchTransactions(ctx context.Context, since, until time.Time) ([]RemoteTransaction, error) {
	set, err := c.fetch(ctx, since, until, true)
	if err != nil {
		return nil, err
	}
	var out []RemoteTransaction
	for _, a := range set.Accounts {
		for _, t := range a.Transactions {
			amount, err := decimal.NewFromString(t.Amount)
			if err != nil {
				return nil, types.WrapErr(types.KindParse, err, "decoding bridge amount %q", t.Amount)
			}
			out = append(out, RemoteTransaction{
				NativeID:        t.ID,
				AccountNativeID: a.ID,
				Amount:          amount,
				Date:            time.Unix(t.Posted, 0).UTC(),
				Description:     t.Description,
			})
		}
	}
	return out, nil
}

func remoteAccountFromBridge(a bridgeAccount) RemoteAccount {
	out := RemoteAccount{
		NativeID: a.ID,
		Name:     a.Name,
		Currency: a.Currency,
	}
	if a.Org.Name != "" && out.Name == "" {
		out.Name = a.Org.Name
	}
	if a.Balance != "" {
		if d, err := decimal.NewFromString(a.Balance); err == nil {
			out.Balance = &d
		}
	}
	if a.BalanceDate > 0 {
		t := time.Unix(a.BalanceDate, 0).UTC()
		out.BalanceAt = &t
	}
	return out
}
