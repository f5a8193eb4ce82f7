package plugins

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/treeline-money/treeline/internal/sqlscan"
	"github.com/treeline-money/treeline/internal/storage/duckdb"
	"github.com/treeline-money/treeline/internal/types"
)

// Migration is one plugin schema migration script.
type Migration struct {
	Version int    `json:"version"`
	SQL     string `json:"sql"`
}

// Permissions are the table sets a plugin declares in its manifest.
type Permissions struct {
	Reads  []string `json:"reads"`
	Writes []string `json:"writes"`
}

// Manifest is plugins/<id>/manifest.json.
type Manifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Permissions Permissions `json:"permissions"`
	Migrations  []Migration `json:"migrations,omitempty"`
}

// Manager installs, upgrades, and uninstalls plugins. Each plugin owns
// schema plugin_<id>; its migrations are tracked in
// plugin_<id>.schema_migrations and are append-only.
type Manager struct {
	Repo *duckdb.Repo
	Dir  string // plugins/ directory
}

// NewManager creates a plugin manager.
func NewManager(repo *duckdb.Repo, dir string) *Manager {
	return &Manager{Repo: repo, Dir: dir}
}

// SchemaFor returns the database schema owned by a plugin id.
func SchemaFor(pluginID string) string {
	return "plugin_" + strings.ToLower(pluginID)
}

// ContextFor builds the validator context for an installed plugin.
func (m *Manager) ContextFor(pluginID string) (*Context, error) {
	manifest, err := m.ReadManifest(pluginID)
	if err != nil {
		return nil, err
	}
	return &Context{
		PluginID:     manifest.ID,
		PluginSchema: SchemaFor(manifest.ID),
		AllowedReads: manifest.Permissions.Reads,
		AllowedWrite: manifest.Permissions.Writes,
	}, nil
}

// ReadManifest loads plugins/<id>/manifest.json.
func (m *Manager) ReadManifest(pluginID string) (*Manifest, error) {
	path := filepath.Join(m.Dir, pluginID, "manifest.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, types.E(types.KindNotFound, "plugin '%s' is not installed", pluginID)
	}
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "reading plugin manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, types.WrapErr(types.KindParse, err, "parsing manifest for plugin '%s'", pluginID)
	}
	if manifest.ID == "" {
		return nil, types.E(types.KindParse, "plugin manifest is missing an id")
	}
	return &manifest, nil
}

// List returns the ids of every installed plugin.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "reading plugins directory")
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.Dir, e.Name(), "manifest.json")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Install creates the plugin schema, applies its pending migrations in
// version order, and checkpoints once at the end. Installing an already
// installed plugin applies only the new migrations (upgrade).
func (m *Manager) Install(manifest *Manifest) error {
	schema := SchemaFor(manifest.ID)
	migrations := append([]Migration(nil), manifest.Migrations...)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return m.Repo.WithWrite(func(db *sql.DB) error {
		if _, err := db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(schema))); err != nil {
			return types.WrapErr(types.KindSchema, err, "creating plugin schema")
		}
		if _, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT current_timestamp
			)`, quoteIdent(schema))); err != nil {
			return types.WrapErr(types.KindSchema, err, "creating plugin migrations table")
		}

		applied := map[int]bool{}
		rows, err := db.Query(fmt.Sprintf(`SELECT version FROM %s.schema_migrations`, quoteIdent(schema)))
		if err != nil {
			return types.WrapErr(types.KindSchema, err, "listing plugin migrations")
		}
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return types.WrapErr(types.KindSchema, err, "scanning plugin migration")
			}
			applied[v] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return types.WrapErr(types.KindSchema, err, "listing plugin migrations")
		}
		rows.Close()

		for _, mig := range migrations {
			if applied[mig.Version] {
				continue
			}
			if _, err := db.Exec(mig.SQL); err != nil {
				return types.WrapErr(types.KindSchema, err,
					"applying migration %d for plugin '%s'", mig.Version, manifest.ID)
			}
			if _, err := db.Exec(fmt.Sprintf(
				`INSERT INTO %s.schema_migrations (version) VALUES (?)`, quoteIdent(schema)),
				mig.Version); err != nil {
				return types.WrapErr(types.KindSchema, err, "recording plugin migration")
			}
		}
		// The surrounding WithWrite checkpoints once after the DDL.
		return nil
	})
}

// InstallFromDir reads manifest.json from a source directory, copies the
// plugin files into plugins/<id>/, and runs Install.
func (m *Manager) InstallFromDir(srcDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(srcDir, "manifest.json"))
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "reading manifest from %s", srcDir)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, types.WrapErr(types.KindParse, err, "parsing manifest")
	}
	if manifest.ID == "" {
		return nil, types.E(types.KindParse, "plugin manifest is missing an id")
	}

	dest := filepath.Join(m.Dir, manifest.ID)
	if err := copyDir(srcDir, dest); err != nil {
		return nil, err
	}
	if err := m.Install(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Uninstall drops the plugin schema and removes its files.
func (m *Manager) Uninstall(pluginID string) error {
	if _, err := m.ReadManifest(pluginID); err != nil {
		return err
	}
	schema := SchemaFor(pluginID)
	err := m.Repo.WithWrite(func(db *sql.DB) error {
		if _, err := db.Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, quoteIdent(schema))); err != nil {
			return types.WrapErr(types.KindSchema, err, "dropping plugin schema")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(m.Dir, pluginID)); err != nil {
		return types.WrapErr(types.KindIO, err, "removing plugin files")
	}
	return nil
}

// ExecuteForPlugin validates sql against the plugin's permissions and
// only then executes it. Validation failures never reach the engine.
func (m *Manager) ExecuteForPlugin(pluginID, sqlText string) (*duckdb.QueryResult, error) {
	ctx, err := m.ContextFor(pluginID)
	if err != nil {
		return nil, err
	}
	if err := ValidateQueryPermissions(sqlText, ctx); err != nil {
		return nil, err
	}
	if ro, err := sqlscan.IsReadOnly(sqlText); err == nil && ro {
		return m.Repo.ExecuteQuery(sqlText)
	}
	if err := m.Repo.ExecuteSQL(sqlText); err != nil {
		return nil, err
	}
	return &duckdb.QueryResult{}, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return types.WrapErr(types.KindIO, err, "walking %s", src)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return types.WrapErr(types.KindIO, err, "resolving %s", path)
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return types.WrapErr(types.KindIO, err, "creating %s", target)
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return types.WrapErr(types.KindIO, err, "reading %s", path)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return types.WrapErr(types.KindIO, err, "writing %s", target)
		}
		return nil
	})
}
