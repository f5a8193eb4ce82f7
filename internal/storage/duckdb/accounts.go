package duckdb

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/treeline-money/treeline/internal/types"
)

const accountColumns = `CAST(id AS VARCHAR), name, account_type, currency,
	CAST(balance AS VARCHAR), institution, provider, provider_account_id,
	provider_name, provider_currency, CAST(provider_balance AS VARCHAR),
	provider_synced_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*types.Account, error) {
	var (
		a                          types.Account
		id                         string
		acctType, currency         sql.NullString
		balance, institution       sql.NullString
		provider, providerID       sql.NullString
		providerName, providerCur  sql.NullString
		providerBalance            sql.NullString
		providerSyncedAt           sql.NullTime
	)
	err := row.Scan(&id, &a.Name, &acctType, &currency, &balance, &institution,
		&provider, &providerID, &providerName, &providerCur, &providerBalance,
		&providerSyncedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, types.WrapErr(types.KindDB, err, "decoding account id %q", id)
	}
	a.AccountType = acctType.String
	a.Currency = currency.String
	a.Institution = institution.String
	a.Provider = provider.String
	a.ProviderAccountID = providerID.String
	a.ProviderName = providerName.String
	a.ProviderCurrency = providerCur.String
	a.ProviderSyncedAt = timePtr(providerSyncedAt)
	if a.Balance, err = decPtr(balance); err != nil {
		return nil, err
	}
	if a.ProviderBalance, err = decPtr(providerBalance); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account, assigning an id when none is set.
func (r *Repo) CreateAccount(a *types.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	return r.WithWrite(func(db *sql.DB) error {
		var balance any
		if a.Balance != nil {
			balance = a.Balance.StringFixed(4)
		}
		_, err := db.Exec(`
			INSERT INTO accounts (
				id, name, account_type, currency, balance, institution,
				provider, provider_account_id, provider_name,
				provider_currency, provider_synced_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, CAST(? AS DECIMAL(18,4)), ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID.String(), a.Name, nullStr(a.AccountType), nullStr(a.Currency),
			balance, nullStr(a.Institution), nullStr(a.Provider),
			nullStr(a.ProviderAccountID), nullStr(a.ProviderName),
			nullStr(a.ProviderCurrency), a.ProviderSyncedAt, now, now)
		if err != nil {
			return wrapDBError("creating account", err)
		}
		return nil
	})
}

// GetAccount returns the account with the given id, or NotFound.
func (r *Repo) GetAccount(id uuid.UUID) (*types.Account, error) {
	var account *types.Account
	err := r.WithRead(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
		a, err := scanAccount(row)
		if err == sql.ErrNoRows {
			return types.E(types.KindNotFound, "account %s not found", id)
		}
		if err != nil {
			return wrapDBError("reading account", err)
		}
		account = a
		return nil
	})
	return account, err
}

// GetAccountByName returns the account with the given display name.
func (r *Repo) GetAccountByName(name string) (*types.Account, error) {
	var account *types.Account
	err := r.WithRead(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE name = ?`, name)
		a, err := scanAccount(row)
		if err == sql.ErrNoRows {
			return types.E(types.KindNotFound, "account '%s' not found", name)
		}
		if err != nil {
			return wrapDBError("reading account", err)
		}
		account = a
		return nil
	})
	return account, err
}

// ResolveAccount accepts a UUID string or a display name and returns the
// account id.
func (r *Repo) ResolveAccount(ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if _, err := r.GetAccount(id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}
	a, err := r.GetAccountByName(ref)
	if err != nil {
		return uuid.Nil, err
	}
	return a.ID, nil
}

// ListAccounts returns all accounts ordered by name.
func (r *Repo) ListAccounts() ([]*types.Account, error) {
	var accounts []*types.Account
	err := r.WithRead(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY name`)
		if err != nil {
			return wrapDBError("listing accounts", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				return wrapDBError("scanning account", err)
			}
			accounts = append(accounts, a)
		}
		return rows.Err()
	})
	return accounts, err
}

// UpsertProviderAccount creates or refreshes an account keyed on
// (provider, provider native id) and returns the internal id.
func (r *Repo) UpsertProviderAccount(a *types.Account) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.WithWrite(func(db *sql.DB) error {
		var existing string
		err := db.QueryRow(
			`SELECT CAST(id AS VARCHAR) FROM accounts WHERE provider = ? AND provider_account_id = ?`,
			a.Provider, a.ProviderAccountID,
		).Scan(&existing)
		now := time.Now().UTC()
		var providerBalance any
		if a.ProviderBalance != nil {
			providerBalance = a.ProviderBalance.StringFixed(4)
		}
		switch {
		case err == sql.ErrNoRows:
			id = uuid.New()
			_, err := db.Exec(`
				INSERT INTO accounts (
					id, name, account_type, currency, balance, institution,
					provider, provider_account_id, provider_name,
					provider_currency, provider_balance, provider_synced_at,
					created_at, updated_at
				) VALUES (?, ?, ?, ?, CAST(? AS DECIMAL(18,4)), ?, ?, ?, ?, ?,
					CAST(? AS DECIMAL(18,4)), ?, ?, ?)`,
				id.String(), a.Name, nullStr(a.AccountType), nullStr(a.Currency),
				providerBalance, nullStr(a.Institution), a.Provider,
				a.ProviderAccountID, nullStr(a.ProviderName),
				nullStr(a.ProviderCurrency), providerBalance, now, now, now)
			if err != nil {
				return wrapDBError("inserting provider account", err)
			}
			return nil
		case err != nil:
			return wrapDBError("looking up provider account", err)
		default:
			id, err = uuid.Parse(existing)
			if err != nil {
				return types.WrapErr(types.KindDB, err, "decoding account id %q", existing)
			}
			_, uerr := db.Exec(`
				UPDATE accounts SET
					provider_name = ?, provider_currency = ?,
					provider_balance = CAST(? AS DECIMAL(18,4)),
					balance = CAST(? AS DECIMAL(18,4)),
					provider_synced_at = ?, updated_at = ?
				WHERE id = ?`,
				nullStr(a.ProviderName), nullStr(a.ProviderCurrency),
				providerBalance, providerBalance, now, now, id.String())
			if uerr != nil {
				return wrapDBError("updating provider account", uerr)
			}
			return nil
		}
	})
	return id, err
}

// UpdateAccountBalance sets the account's last-known balance.
func (r *Repo) UpdateAccountBalance(id uuid.UUID, balance decimal.Decimal) error {
	return r.WithWrite(func(db *sql.DB) error {
		res, err := db.Exec(
			`UPDATE accounts SET balance = CAST(? AS DECIMAL(18,4)), updated_at = ? WHERE id = ?`,
			balance.StringFixed(4), time.Now().UTC(), id.String())
		if err != nil {
			return wrapDBError("updating balance", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "account %s not found", id)
		}
		return nil
	})
}

// DeleteAccount removes the account and every transaction and snapshot
// that belongs to it, in a single transaction. No orphans remain.
func (r *Repo) DeleteAccount(id uuid.UUID) error {
	return r.WithWrite(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return wrapDBError("starting delete transaction", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.Exec(`DELETE FROM sys_balance_snapshots WHERE account_id = ?`, id.String()); err != nil {
			return wrapDBError("deleting snapshots", err)
		}
		if _, err := tx.Exec(`DELETE FROM sys_transactions WHERE account_id = ?`, id.String()); err != nil {
			return wrapDBError("deleting transactions", err)
		}
		res, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, id.String())
		if err != nil {
			return wrapDBError("deleting account", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "account %s not found", id)
		}
		if err := tx.Commit(); err != nil {
			return wrapDBError("committing delete", err)
		}
		return nil
	})
}
