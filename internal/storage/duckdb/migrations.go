package duckdb

import (
	"database/sql"
	"embed"
	"sort"

	"github.com/treeline-money/treeline/internal/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const bootstrapMigration = "000_migrations.sql"

// migrationList returns the compiled-in migrations ordered by name.
func migrationList() ([][2]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, types.WrapErr(types.KindSchema, err, "reading embedded migrations")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([][2]string, 0, len(names))
	for _, name := range names {
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, types.WrapErr(types.KindSchema, err, "reading migration %s", name)
		}
		out = append(out, [2]string{name, string(body)})
	}
	return out, nil
}

// Migrate applies pending migrations in order. It is idempotent: each
// script runs at most once, recorded in sys_migrations. Concurrent callers
// serialize on the lock and converge on the same applied set.
func (r *Repo) Migrate() error {
	list, err := migrationList()
	if err != nil {
		return err
	}
	return r.WithWrite(func(db *sql.DB) error {
		return applyMigrations(db, list)
	})
}

func applyMigrations(db *sql.DB, list [][2]string) error {
	var tableExists bool
	err := db.QueryRow(
		`SELECT COUNT(*) > 0 FROM information_schema.tables WHERE table_name = 'sys_migrations'`,
	).Scan(&tableExists)
	if err != nil {
		return types.WrapErr(types.KindSchema, err, "checking migrations table")
	}

	if !tableExists {
		for _, m := range list {
			if m[0] != bootstrapMigration {
				continue
			}
			if _, err := db.Exec(m[1]); err != nil {
				return types.WrapErr(types.KindSchema, err, "bootstrapping migrations table")
			}
			if _, err := db.Exec(`INSERT INTO sys_migrations (name) VALUES (?)`, m[0]); err != nil {
				return types.WrapErr(types.KindSchema, err, "recording bootstrap migration")
			}
		}
	}

	applied := map[string]bool{}
	rows, err := db.Query(`SELECT name FROM sys_migrations`)
	if err != nil {
		return types.WrapErr(types.KindSchema, err, "listing applied migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return types.WrapErr(types.KindSchema, err, "scanning migration name")
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return types.WrapErr(types.KindSchema, err, "listing applied migrations")
	}
	rows.Close()

	for _, m := range list {
		if m[0] == bootstrapMigration || applied[m[0]] {
			continue
		}
		if _, err := db.Exec(m[1]); err != nil {
			return types.WrapErr(types.KindSchema, err, "applying migration %s", m[0])
		}
		if _, err := db.Exec(`INSERT INTO sys_migrations (name) VALUES (?)`, m[0]); err != nil {
			return types.WrapErr(types.KindSchema, err, "recording migration %s", m[0])
		}
	}
	return nil
}

// AppliedMigrations returns the names recorded in sys_migrations.
func (r *Repo) AppliedMigrations() ([]string, error) {
	var names []string
	err := r.WithRead(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT name FROM sys_migrations ORDER BY name`)
		if err != nil {
			return wrapDBError("listing migrations", err)
		}
		defer rows.Close()
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return wrapDBError("scanning migration", err)
			}
			names = append(names, n)
		}
		return rows.Err()
	})
	return names, err
}
