package duckdb

import (
	"database/sql"
	"time"

	"github.com/treeline-money/treeline/internal/types"
)

// UpsertIntegration stores or replaces an integration's config blob.
func (r *Repo) UpsertIntegration(in *types.Integration) error {
	return r.WithWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sys_integrations (name, config, enabled, last_successful_sync)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				config = excluded.config,
				enabled = excluded.enabled`,
			in.Name, in.Config, in.Enabled, in.LastSuccessfulSync)
		if err != nil {
			return wrapDBError("upserting integration", err)
		}
		return nil
	})
}

// GetIntegration returns the named integration, or NotFound.
func (r *Repo) GetIntegration(name string) (*types.Integration, error) {
	var out *types.Integration
	err := r.WithRead(func(db *sql.DB) error {
		var (
			in   types.Integration
			last sql.NullTime
		)
		err := db.QueryRow(
			`SELECT name, config, enabled, last_successful_sync FROM sys_integrations WHERE name = ?`,
			name).Scan(&in.Name, &in.Config, &in.Enabled, &last)
		if err == sql.ErrNoRows {
			return types.E(types.KindNotFound, "integration '%s' not found", name)
		}
		if err != nil {
			return wrapDBError("reading integration", err)
		}
		in.LastSuccessfulSync = timePtr(last)
		out = &in
		return nil
	})
	return out, err
}

// ListIntegrations returns every configured integration.
func (r *Repo) ListIntegrations() ([]*types.Integration, error) {
	var out []*types.Integration
	err := r.WithRead(func(db *sql.DB) error {
		rows, err := db.Query(
			`SELECT name, config, enabled, last_successful_sync FROM sys_integrations ORDER BY name`)
		if err != nil {
			return wrapDBError("listing integrations", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				in   types.Integration
				last sql.NullTime
			)
			if err := rows.Scan(&in.Name, &in.Config, &in.Enabled, &last); err != nil {
				return wrapDBError("scanning integration", err)
			}
			in.LastSuccessfulSync = timePtr(last)
			out = append(out, &in)
		}
		return rows.Err()
	})
	return out, err
}

// SetLastSuccessfulSync records a completed sync for the integration.
func (r *Repo) SetLastSuccessfulSync(name string, at time.Time) error {
	return r.WithWrite(func(db *sql.DB) error {
		res, err := db.Exec(
			`UPDATE sys_integrations SET last_successful_sync = ? WHERE name = ?`,
			at.UTC(), name)
		if err != nil {
			return wrapDBError("recording sync time", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "integration '%s' not found", name)
		}
		return nil
	})
}

// DeleteIntegration removes an integration's configuration.
func (r *Repo) DeleteIntegration(name string) error {
	return r.WithWrite(func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM sys_integrations WHERE name = ?`, name)
		if err != nil {
			return wrapDBError("deleting integration", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.E(types.KindNotFound, "integration '%s' not found", name)
		}
		return nil
	})
}
