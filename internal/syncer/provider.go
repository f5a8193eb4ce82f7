// Package syncer pulls accounts and transactions from the two recognized
// provider protocols and lands them in the repository. Network I/O always
// happens outside the database lock: fetch first, then acquire the lock
// for the bulk insert.
package syncer

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

// RemoteAccount is a provider's view of an account.
type RemoteAccount struct {
	NativeID    string
	Name        string
	AccountType string
	Currency    string
	Balance     *decimal.Decimal
	BalanceAt   *time.Time
}

// RemoteTransaction is a provider's view of a transaction.
type RemoteTransaction struct {
	NativeID        string
	AccountNativeID string
	Amount          decimal.Decimal
	Date            time.Time
	Description     string
}

// Provider is the narrow interface both sync protocols implement.
type Provider interface {
	Name() string
	FetchAccounts(ctx context.Context) ([]RemoteAccount, error)
	FetchTransactions(ctx context.Context, since, until time.Time) ([]RemoteTransaction, error)
}

// Doer issues HTTP requests; tests substitute fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxFetchRetries = 3

// fetchWithRetry performs req with exponential backoff on transport
// errors and 5xx responses, returning the final body.
func fetchWithRetry(ctx context.Context, client Doer, req *http.Request) ([]byte, error) {
	var body []byte
	op := func() error {
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return types.E(types.KindNetwork, "provider returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(types.E(types.KindNetwork, "provider returned %s", resp.Status))
		}
		body = data
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if types.KindOf(err) == types.KindNetwork {
			return nil, err
		}
		return nil, types.WrapErr(types.KindNetwork, err, "fetching from provider")
	}
	return body, nil
}
