package duckdb

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/treeline-money/treeline/internal/types"
)

// BulkInsertBalanceSnapshots upserts CSV-derived snapshots keyed on
// (account, calendar day): an existing snapshot for the same day is
// replaced by the incoming balance. Provider and manual snapshots are
// inserted as-is. Returns the number of rows written.
func (r *Repo) BulkInsertBalanceSnapshots(rows []*types.BalanceSnapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	written := 0
	err := r.WithWrite(func(db *sql.DB) error {
		for _, s := range rows {
			if s.ID == uuid.Nil {
				s.ID = uuid.New()
			}
			var day any
			if s.Source == types.SnapshotSourceCSV {
				d := dayOf(s.Timestamp)
				if s.Day != nil {
					d = dayOf(*s.Day)
				}
				day = d.Format("2006-01-02")
			}
			res, err := db.Exec(`
				INSERT INTO sys_balance_snapshots (
					id, account_id, balance, snapshot_ts, snapshot_day, source
				) VALUES (?, ?, CAST(? AS DECIMAL(18,4)), ?, CAST(? AS DATE), ?)
				ON CONFLICT (account_id, snapshot_day) DO UPDATE SET
					balance = excluded.balance,
					snapshot_ts = excluded.snapshot_ts`,
				s.ID.String(), s.AccountID.String(), s.Balance.StringFixed(4),
				s.Timestamp, day, s.Source)
			if err != nil {
				return wrapDBError("inserting balance snapshot", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ListBalanceSnapshots returns snapshots for an account, newest first.
func (r *Repo) ListBalanceSnapshots(accountID uuid.UUID, limit int) ([]*types.BalanceSnapshot, error) {
	var out []*types.BalanceSnapshot
	err := r.WithRead(func(db *sql.DB) error {
		q := `SELECT CAST(id AS VARCHAR), CAST(account_id AS VARCHAR),
			CAST(balance AS VARCHAR), snapshot_ts, snapshot_day, source
			FROM sys_balance_snapshots WHERE account_id = ?
			ORDER BY snapshot_ts DESC`
		args := []any{accountID.String()}
		if limit > 0 {
			q += ` LIMIT ?`
			args = append(args, limit)
		}
		rows, err := db.Query(q, args...)
		if err != nil {
			return wrapDBError("listing snapshots", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				s       types.BalanceSnapshot
				id, aid string
				balance string
				day     sql.NullTime
			)
			if err := rows.Scan(&id, &aid, &balance, &s.Timestamp, &day, &s.Source); err != nil {
				return wrapDBError("scanning snapshot", err)
			}
			var perr error
			if s.ID, perr = uuid.Parse(id); perr != nil {
				return types.WrapErr(types.KindDB, perr, "decoding snapshot id %q", id)
			}
			if s.AccountID, perr = uuid.Parse(aid); perr != nil {
				return types.WrapErr(types.KindDB, perr, "decoding account id %q", aid)
			}
			if s.Balance, perr = decFromString(balance); perr != nil {
				return perr
			}
			s.Day = timePtr(day)
			out = append(out, &s)
		}
		return rows.Err()
	})
	return out, err
}

// CountBalanceSnapshots returns the snapshot count for an account.
func (r *Repo) CountBalanceSnapshots(accountID uuid.UUID) (int, error) {
	var n int
	err := r.WithRead(func(db *sql.DB) error {
		return db.QueryRow(
			`SELECT COUNT(*) FROM sys_balance_snapshots WHERE account_id = ?`,
			accountID.String()).Scan(&n)
	})
	if err != nil {
		return 0, wrapDBError("counting snapshots", err)
	}
	return n, nil
}
