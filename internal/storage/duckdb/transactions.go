package duckdb

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/treeline-money/treeline/internal/types"
)

const txColumns = `CAST(id AS VARCHAR), CAST(account_id AS VARCHAR),
	CAST(amount AS VARCHAR), tx_date, description,
	array_to_string(tags, chr(31)), bridge_tx_id, aggregator_tx_id,
	csv_fingerprint, CAST(import_batch_id AS VARCHAR), created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*types.Transaction, error) {
	var (
		t              types.Transaction
		id, accountID  string
		amount         string
		description    sql.NullString
		tags           sql.NullString
		bridgeID       sql.NullString
		aggregatorID   sql.NullString
		fingerprint    sql.NullString
		batchID        sql.NullString
	)
	err := row.Scan(&id, &accountID, &amount, &t.Date, &description, &tags,
		&bridgeID, &aggregatorID, &fingerprint, &batchID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, types.WrapErr(types.KindDB, err, "decoding transaction id %q", id)
	}
	if t.AccountID, err = uuid.Parse(accountID); err != nil {
		return nil, types.WrapErr(types.KindDB, err, "decoding account id %q", accountID)
	}
	if t.Amount, err = decFromString(amount); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.Tags = splitTags(tags.String)
	t.BridgeTxID = bridgeID.String
	t.AggregatorTxID = aggregatorID.String
	t.CSVFingerprint = fingerprint.String
	if batchID.Valid {
		b, err := uuid.Parse(batchID.String)
		if err != nil {
			return nil, types.WrapErr(types.KindDB, err, "decoding batch id %q", batchID.String)
		}
		t.ImportBatchID = &b
	}
	return &t, nil
}

// insertBatchSize bounds multi-row VALUES statements.
const insertBatchSize = 200

// InsertTransactions inserts rows with ON CONFLICT DO NOTHING keyed on
// the provenance unique indexes, and returns the ids actually inserted.
// A provenance id that races in from another process mid-batch drops only
// that row; the returned set is exact, not inferred from a count. Rows
// without provider ids (CSV and manual) never conflict; their dedup is
// the import service's count-delta policy.
func (r *Repo) InsertTransactions(rows []*types.Transaction) ([]uuid.UUID, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	var inserted []uuid.UUID
	err := r.WithWrite(func(db *sql.DB) error {
		for start := 0; start < len(rows); start += insertBatchSize {
			end := start + insertBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			ids, err := insertTransactionChunk(db, rows[start:end])
			if err != nil {
				return err
			}
			inserted = append(inserted, ids...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// BulkInsertTransactions is InsertTransactions for callers that only need
// the inserted count.
func (r *Repo) BulkInsertTransactions(rows []*types.Transaction) (int, error) {
	ids, err := r.InsertTransactions(rows)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func insertTransactionChunk(db *sql.DB, rows []*types.Transaction) ([]uuid.UUID, error) {
	const valueTuple = `(?, ?, CAST(? AS DECIMAL(18,4)), CAST(? AS DATE), ?, ` +
		`CAST(? AS VARCHAR[]), ?, ?, ?, ?, ?)`
	stmt := `INSERT INTO sys_transactions (
		id, account_id, amount, tx_date, description, tags,
		bridge_tx_id, aggregator_tx_id, csv_fingerprint, import_batch_id, created_at
	) VALUES `
	args := make([]any, 0, len(rows)*11)
	now := time.Now().UTC()
	for i, t := range rows {
		if i > 0 {
			stmt += ", "
		}
		stmt += valueTuple
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		var batch any
		if t.ImportBatchID != nil {
			batch = t.ImportBatchID.String()
		}
		args = append(args,
			t.ID.String(), t.AccountID.String(), t.Amount.StringFixed(4),
			t.Date.Format("2006-01-02"), nullStr(t.Description),
			sqlListParam(t.Tags), nullStr(t.BridgeTxID),
			nullStr(t.AggregatorTxID), nullStr(t.CSVFingerprint), batch, now)
	}
	stmt += " ON CONFLICT DO NOTHING RETURNING CAST(id AS VARCHAR)"
	result, err := db.Query(stmt, args...)
	if err != nil {
		return nil, wrapDBError("bulk inserting transactions", err)
	}
	defer result.Close()
	var inserted []uuid.UUID
	for result.Next() {
		var id string
		if err := result.Scan(&id); err != nil {
			return nil, wrapDBError("scanning inserted id", err)
		}
		u, perr := uuid.Parse(id)
		if perr != nil {
			return nil, types.WrapErr(types.KindDB, perr, "decoding inserted id %q", id)
		}
		inserted = append(inserted, u)
	}
	if err := result.Err(); err != nil {
		return nil, wrapDBError("bulk inserting transactions", err)
	}
	return inserted, nil
}

// sqlListParam renders tags as a DuckDB list literal string for a
// CAST(? AS VARCHAR[]) parameter slot.
func sqlListParam(tags []string) string {
	return sqlStringList(tags)
}

// GetTransaction returns one transaction by id.
func (r *Repo) GetTransaction(id uuid.UUID) (*types.Transaction, error) {
	var out *types.Transaction
	err := r.WithRead(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT `+txColumns+` FROM sys_transactions WHERE id = ?`, id.String())
		t, err := scanTransaction(row)
		if err == sql.ErrNoRows {
			return types.E(types.KindNotFound, "transaction %s not found", id)
		}
		if err != nil {
			return wrapDBError("reading transaction", err)
		}
		out = t
		return nil
	})
	return out, err
}

// ListTransactions returns transactions for an account, newest first.
// limit <= 0 means no limit.
func (r *Repo) ListTransactions(accountID uuid.UUID, limit int) ([]*types.Transaction, error) {
	var out []*types.Transaction
	err := r.WithRead(func(db *sql.DB) error {
		q := `SELECT ` + txColumns + ` FROM sys_transactions WHERE account_id = ? ORDER BY tx_date DESC, created_at DESC`
		args := []any{accountID.String()}
		if limit > 0 {
			q += ` LIMIT ?`
			args = append(args, limit)
		}
		rows, err := db.Query(q, args...)
		if err != nil {
			return wrapDBError("listing transactions", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				return wrapDBError("scanning transaction", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteTransactions removes transactions by id and returns the count removed.
func (r *Repo) DeleteTransactions(ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	deleted := 0
	err := r.WithWrite(func(db *sql.DB) error {
		for _, chunk := range chunked(strs, lookupChunkSize) {
			res, err := db.Exec(
				`DELETE FROM sys_transactions WHERE id IN (`+placeholders(len(chunk))+`)`,
				anySlice(chunk)...)
			if err != nil {
				return wrapDBError("deleting transactions", err)
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}
		return nil
	})
	return deleted, err
}

// UpdateTransactionTags replaces the tag list of one transaction.
func (r *Repo) UpdateTransactionTags(id uuid.UUID, tags []string) error {
	return r.WithWrite(func(db *sql.DB) error {
		res, err := db.Exec(
			`UPDATE sys_transactions SET tags = CAST(? AS VARCHAR[]) WHERE id = ?`,
			sqlListParam(tags), id.String())
		if err != nil {
			return wrapDBError("updating tags", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "transaction %s not found", id)
		}
		return nil
	})
}

// existingIDs runs a chunked IN lookup over column and unions the results.
func (r *Repo) existingIDs(column string, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	err := r.WithRead(func(db *sql.DB) error {
		for _, chunk := range chunked(ids, lookupChunkSize) {
			rows, err := db.Query(
				`SELECT `+column+` FROM sys_transactions WHERE `+column+` IN (`+placeholders(len(chunk))+`)`,
				anySlice(chunk)...)
			if err != nil {
				return wrapDBError("looking up existing ids", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return wrapDBError("scanning id", err)
				}
				out[id] = true
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return wrapDBError("looking up existing ids", err)
			}
			rows.Close()
		}
		return nil
	})
	return out, err
}

// GetExistingBridgeIDs returns which of the given bridge native ids are
// already present. Lookups are chunked at 500 ids per statement.
func (r *Repo) GetExistingBridgeIDs(ids []string) (map[string]bool, error) {
	return r.existingIDs("bridge_tx_id", ids)
}

// GetExistingAggregatorIDs returns which of the given aggregator native
// ids are already present.
func (r *Repo) GetExistingAggregatorIDs(ids []string) (map[string]bool, error) {
	return r.existingIDs("aggregator_tx_id", ids)
}

// GetExistingCSVFingerprints returns which of the given fingerprints exist.
func (r *Repo) GetExistingCSVFingerprints(fps []string) (map[string]bool, error) {
	return r.existingIDs("csv_fingerprint", fps)
}

// GetCSVFingerprintCounts returns the current row count per fingerprint.
// Fingerprints absent from the database are omitted from the map.
func (r *Repo) GetCSVFingerprintCounts(fps []string) (map[string]int, error) {
	out := map[string]int{}
	if len(fps) == 0 {
		return out, nil
	}
	err := r.WithRead(func(db *sql.DB) error {
		for _, chunk := range chunked(fps, lookupChunkSize) {
			rows, err := db.Query(
				`SELECT csv_fingerprint, COUNT(*) FROM sys_transactions
				 WHERE csv_fingerprint IN (`+placeholders(len(chunk))+`)
				 GROUP BY csv_fingerprint`,
				anySlice(chunk)...)
			if err != nil {
				return wrapDBError("counting fingerprints", err)
			}
			for rows.Next() {
				var fp string
				var n int
				if err := rows.Scan(&fp, &n); err != nil {
					rows.Close()
					return wrapDBError("scanning fingerprint count", err)
				}
				out[fp] = n
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return wrapDBError("counting fingerprints", err)
			}
			rows.Close()
		}
		return nil
	})
	return out, err
}

// checkDuplicates returns provenance ids appearing more than once.
// A healthy database returns an empty slice.
func (r *Repo) checkDuplicates(column string) ([]string, error) {
	var dups []string
	err := r.WithRead(func(db *sql.DB) error {
		rows, err := db.Query(
			`SELECT ` + column + ` FROM sys_transactions
			 WHERE ` + column + ` IS NOT NULL
			 GROUP BY ` + column + ` HAVING COUNT(*) > 1`)
		if err != nil {
			return wrapDBError("checking duplicates", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return wrapDBError("scanning duplicate", err)
			}
			dups = append(dups, id)
		}
		return rows.Err()
	})
	return dups, err
}

// CheckDuplicateBridgeIDs is a diagnostic over the bridge unique invariant.
func (r *Repo) CheckDuplicateBridgeIDs() ([]string, error) {
	return r.checkDuplicates("bridge_tx_id")
}

// CheckDuplicateAggregatorIDs is a diagnostic over the aggregator unique
// invariant.
func (r *Repo) CheckDuplicateAggregatorIDs() ([]string, error) {
	return r.checkDuplicates("aggregator_tx_id")
}

// CountTransactions returns the number of transactions for an account, or
// all transactions when accountID is uuid.Nil.
func (r *Repo) CountTransactions(accountID uuid.UUID) (int, error) {
	var n int
	err := r.WithRead(func(db *sql.DB) error {
		if accountID == uuid.Nil {
			return db.QueryRow(`SELECT COUNT(*) FROM sys_transactions`).Scan(&n)
		}
		return db.QueryRow(
			`SELECT COUNT(*) FROM sys_transactions WHERE account_id = ?`,
			accountID.String()).Scan(&n)
	})
	if err != nil {
		return 0, wrapDBError("counting transactions", err)
	}
	return n, nil
}
