package duckdb

import (
	"database/sql"
	"time"

	"github.com/treeline-money/treeline/internal/sqlscan"
	"github.com/treeline-money/treeline/internal/types"
)

// QueryResult holds the rows produced by a user query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Param is one positional statement parameter as a tagged variant.
type Param struct {
	value any
}

// ParamString tags a string value.
func ParamString(s string) Param { return Param{value: s} }

// ParamInt tags an integer value.
func ParamInt(i int64) Param { return Param{value: i} }

// ParamFloat tags a floating-point value.
func ParamFloat(f float64) Param { return Param{value: f} }

// ParamBool tags a boolean value.
func ParamBool(b bool) Param { return Param{value: b} }

// ParamTime tags a timestamp value.
func ParamTime(t time.Time) Param { return Param{value: t} }

// ParamNull tags SQL NULL.
func ParamNull() Param { return Param{value: nil} }

// ExecuteQuery runs a read-only query. Anything that is not purely a read
// is rejected before it reaches the engine.
func (r *Repo) ExecuteQuery(query string) (*QueryResult, error) {
	ro, err := sqlscan.IsReadOnly(query)
	if err != nil {
		return nil, err
	}
	if !ro {
		return nil, types.E(types.KindPermission, "only read-only queries are allowed here; use 'tl sql' for writes")
	}
	var result *QueryResult
	err = r.WithRead(func(db *sql.DB) error {
		res, err := collectRows(db, query)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// ExecuteQueryReadonly is ExecuteQuery with the database additionally
// attached read-only, as defense in depth for external callers.
func (r *Repo) ExecuteQueryReadonly(query string) (*QueryResult, error) {
	ro, err := sqlscan.IsReadOnly(query)
	if err != nil {
		return nil, err
	}
	if !ro {
		return nil, types.E(types.KindPermission, "only read-only queries are allowed here")
	}
	var result *QueryResult
	err = r.lock.WithLock(func() error {
		db, err := Open(r.dbPath, r.hexKey, true)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		res, err := collectRows(db, query)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// ExecuteSQL runs write-capable SQL. CHECKPOINT and VACUUM are permitted.
func (r *Repo) ExecuteSQL(stmt string) error {
	return r.WithWrite(func(db *sql.DB) error {
		if _, err := db.Exec(stmt); err != nil {
			return wrapDBError("executing SQL", err)
		}
		return nil
	})
}

// ExecuteSQLWithParams runs write-capable SQL with positional ? parameters.
func (r *Repo) ExecuteSQLWithParams(stmt string, params []Param) error {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.value
	}
	return r.WithWrite(func(db *sql.DB) error {
		if _, err := db.Exec(stmt, args...); err != nil {
			return wrapDBError("executing SQL", err)
		}
		return nil
	})
}

func collectRows(db *sql.DB, query string) (*QueryResult, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, wrapDBError("executing query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, wrapDBError("reading columns", err)
	}
	result := &QueryResult{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrapDBError("scanning row", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("reading rows", err)
	}
	return result, nil
}
