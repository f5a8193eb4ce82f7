// Package duckdb implements the repository over a single DuckDB file.
// Every operation acquires the sidecar file lock, opens a fresh connection,
// performs its work, and (for writes) checkpoints before releasing. No
// connection ever outlives the lock that guards it.
package duckdb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/treeline-money/treeline/internal/storage"
	"github.com/treeline-money/treeline/internal/types"
)

// lookupChunkSize bounds IN-list sizes; the engine rejects very long lists.
const lookupChunkSize = 500

// Repo is the typed repository over the analytical database file.
type Repo struct {
	dbPath string
	hexKey string // empty when the database is not encrypted
	lock   *storage.Lock
}

// New creates a repository for dbPath and applies pending migrations.
// hexKey attaches the database with an encryption key when non-empty.
func New(dbPath, hexKey string) (*Repo, error) {
	r := &Repo{
		dbPath: dbPath,
		hexKey: hexKey,
		lock:   storage.NewLock(dbPath),
	}
	if err := r.Migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

// DBPath returns the database file path the repository operates on.
func (r *Repo) DBPath() string { return r.dbPath }

// Lock returns the repository's sidecar lock.
func (r *Repo) Lock() *storage.Lock { return r.lock }

// Open opens a short-lived connection to a treeline database. Extension
// autoloading is disabled: it causes platform-specific load failures.
// Encrypted files are attached with the key on an in-memory instance.
// Callers own the handle and must Close it before releasing any lock.
func Open(dbPath, hexKey string, readOnly bool) (*sql.DB, error) {
	opts := "autoinstall_known_extensions=false&autoload_known_extensions=false"
	if hexKey == "" {
		dsn := dbPath + "?" + opts
		if readOnly {
			dsn += "&access_mode=read_only"
		}
		db, err := sql.Open("duckdb", dsn)
		if err != nil {
			return nil, types.WrapErr(types.KindDB, err, "opening database %s", dbPath)
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}

	db, err := sql.Open("duckdb", "?"+opts)
	if err != nil {
		return nil, types.WrapErr(types.KindDB, err, "opening in-memory instance")
	}
	db.SetMaxOpenConns(1)
	attach := fmt.Sprintf("ATTACH %s AS treeline (ENCRYPTION_KEY %s",
		sqlString(dbPath), sqlString(hexKey))
	if readOnly {
		attach += ", READ_ONLY"
	}
	attach += ")"
	if _, err := db.Exec(attach); err != nil {
		_ = db.Close()
		return nil, types.WrapErr(types.KindAuth, err, "attaching encrypted database %s", dbPath)
	}
	if _, err := db.Exec("USE treeline"); err != nil {
		_ = db.Close()
		return nil, types.WrapErr(types.KindDB, err, "selecting attached database")
	}
	return db, nil
}

// WithRead runs fn with a fresh connection while holding the lock.
func (r *Repo) WithRead(fn func(db *sql.DB) error) error {
	return r.withConn(false, fn)
}

// WithWrite runs fn with a fresh connection while holding the lock and
// checkpoints before release, so no other operation ever observes a state
// between a write and its WAL flush.
func (r *Repo) WithWrite(fn func(db *sql.DB) error) error {
	return r.withConn(true, fn)
}

func (r *Repo) withConn(write bool, fn func(db *sql.DB) error) error {
	return r.lock.WithLock(func() error {
		db, err := Open(r.dbPath, r.hexKey, false)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := fn(db); err != nil {
			return err
		}
		if write {
			if _, err := db.Exec("CHECKPOINT"); err != nil {
				return wrapDBError("checkpoint", err)
			}
		}
		return nil
	})
}

// wrapDBError classifies an engine error under the DbError kind.
func wrapDBError(op string, err error) error {
	return types.WrapErr(types.KindDB, err, "%s", op)
}

// sqlString renders a single-quoted SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlStringList renders a DuckDB VARCHAR[] literal from tags.
func sqlStringList(items []string) string {
	if len(items) == 0 {
		return "[]::VARCHAR[]"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = sqlString(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// placeholders renders "?, ?, ..." for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// chunked splits items into slices of at most size elements.
func chunked(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// anySlice widens a string slice for variadic query arguments.
func anySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
