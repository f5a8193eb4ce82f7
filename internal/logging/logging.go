// Package logging is the structured event store: a second database file
// (logs.duckdb) with its own sidecar lock, so external tools can query
// logs while the app runs. No user financial data is ever written here.
package logging

import (
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/treeline-money/treeline/internal/storage"
	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

// idCounter disambiguates events logged within the same millisecond.
var idCounter atomic.Uint64

// generateID packs milliseconds since epoch into the upper 48 bits and a
// within-millisecond counter into the lower 16.
func generateID() uint64 {
	ms := uint64(time.Now().UnixMilli())
	counter := idCounter.Add(1) & 0xFFFF
	return (ms << 16) | counter
}

func detectPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows", "linux":
		return runtime.GOOS
	default:
		return "unknown"
	}
}

// Event is one log event to record. Only the name is required.
type Event struct {
	Event        string `json:"event"`
	Integration  string `json:"integration,omitempty"`
	Page         string `json:"page,omitempty"`
	Command      string `json:"command,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// Entry is a log event as stored.
type Entry struct {
	ID           uint64 `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	EntryPoint   string `json:"entry_point"`
	AppVersion   string `json:"app_version"`
	Platform     string `json:"platform"`
	Event        string `json:"event"`
	Integration  string `json:"integration,omitempty"`
	Page         string `json:"page,omitempty"`
	Command      string `json:"command,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// Store writes and queries the logging database.
type Store struct {
	dbPath     string
	lock       *storage.Lock
	entryPoint string
	appVersion string
	platform   string
}

const schema = `
CREATE TABLE IF NOT EXISTS sys_logs (
    id BIGINT PRIMARY KEY,
    timestamp BIGINT NOT NULL,
    entry_point TEXT NOT NULL,
    app_version TEXT NOT NULL,
    platform TEXT NOT NULL,
    event TEXT NOT NULL,
    integration TEXT,
    page TEXT,
    command TEXT,
    error_message TEXT,
    error_details TEXT
);`

// NewStore opens (creating if needed) logs.duckdb in dir and ensures the
// schema exists.
func NewStore(dir, entryPoint, appVersion string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapErr(types.KindIO, err, "creating log directory")
	}
	dbPath := filepath.Join(dir, "logs.duckdb")
	s := &Store{
		dbPath:     dbPath,
		lock:       storage.NewLock(dbPath),
		entryPoint: entryPoint,
		appVersion: appVersion,
		platform:   detectPlatform(),
	}
	if err := s.withWrite(func(db *sql.DB) error {
		if _, err := db.Exec(schema); err != nil {
			return types.WrapErr(types.KindSchema, err, "creating log schema")
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// DBPath returns the logging database file path.
func (s *Store) DBPath() string { return s.dbPath }

func (s *Store) withRead(fn func(db *sql.DB) error) error {
	return s.lock.WithLock(func() error {
		db, err := duckdb.Open(s.dbPath, "", false)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db)
	})
}

func (s *Store) withWrite(fn func(db *sql.DB) error) error {
	return s.lock.WithLock(func() error {
		db, err := duckdb.Open(s.dbPath, "", false)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := fn(db); err != nil {
			return err
		}
		_, _ = db.Exec("CHECKPOINT")
		return nil
	})
}

// Log records one event.
func (s *Store) Log(e Event) error {
	return s.withWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sys_logs (
				id, timestamp, entry_point, app_version, platform,
				event, integration, page, command, error_message, error_details
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(generateID()), time.Now().UnixMilli(), s.entryPoint,
			s.appVersion, s.platform, e.Event,
			nullable(e.Integration), nullable(e.Page), nullable(e.Command),
			nullable(e.ErrorMessage), nullable(e.ErrorDetails))
		if err != nil {
			return types.WrapErr(types.KindDB, err, "inserting log event")
		}
		return nil
	})
}

// LogEvent records an event with just a name.
func (s *Store) LogEvent(name string) error {
	return s.Log(Event{Event: name})
}

// LogCommand records a CLI command execution.
func (s *Store) LogCommand(command string) error {
	return s.Log(Event{Event: "command_executed", Command: command})
}

// LogError records a failure. Callers pass sanitized messages only.
func (s *Store) LogError(event, message, details string) error {
	return s.Log(Event{Event: event, ErrorMessage: message, ErrorDetails: details})
}

const entryColumns = `id, timestamp, entry_point, app_version, platform,
	event, integration, page, command, error_message, error_details`

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                          Entry
		id                         int64
		integration, page, command sql.NullString
		errMsg, errDetails         sql.NullString
	)
	if err := rows.Scan(&id, &e.Timestamp, &e.EntryPoint, &e.AppVersion,
		&e.Platform, &e.Event, &integration, &page, &command, &errMsg, &errDetails); err != nil {
		return nil, err
	}
	e.ID = uint64(id)
	e.Integration = integration.String
	e.Page = page.String
	e.Command = command.String
	e.ErrorMessage = errMsg.String
	e.ErrorDetails = errDetails.String
	return &e, nil
}

func (s *Store) query(where string, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.withRead(func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT `+entryColumns+` FROM sys_logs `+where+`
			ORDER BY timestamp DESC LIMIT ?`, limit)
		if err != nil {
			return types.WrapErr(types.KindDB, err, "querying logs")
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return types.WrapErr(types.KindDB, err, "scanning log entry")
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// Recent returns the most recent entries.
func (s *Store) Recent(limit int) ([]*Entry, error) {
	return s.query("", limit)
}

// Errors returns the most recent entries carrying an error message.
func (s *Store) Errors(limit int) ([]*Entry, error) {
	return s.query("WHERE error_message IS NOT NULL", limit)
}

// DeleteBefore removes entries older than the given unix-millisecond
// timestamp and returns the count removed.
func (s *Store) DeleteBefore(timestampMS int64) (int, error) {
	deleted := 0
	err := s.withWrite(func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM sys_logs WHERE timestamp < ?`, timestampMS)
		if err != nil {
			return types.WrapErr(types.KindDB, err, "deleting log entries")
		}
		n, _ := res.RowsAffected()
		deleted = int(n)
		return nil
	})
	return deleted, err
}

// Export checkpoints the log database and copies it to destPath.
func (s *Store) Export(destPath string) error {
	return s.withWrite(func(db *sql.DB) error {
		if _, err := db.Exec("CHECKPOINT"); err != nil {
			return types.WrapErr(types.KindDB, err, "checkpointing log database")
		}
		data, err := os.ReadFile(s.dbPath)
		if err != nil {
			return types.WrapErr(types.KindIO, err, "reading log database")
		}
		if err := os.WriteFile(destPath, data, 0o644); err != nil {
			return types.WrapErr(types.KindIO, err, "writing export")
		}
		return nil
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
