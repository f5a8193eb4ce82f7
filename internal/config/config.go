// Package config resolves the treeline root directory, demo mode, and
// environment overrides. It is the only package that reads process
// environment; everything else asks here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvDir overrides the root directory.
	EnvDir = "TREELINE_DIR"
	// EnvDemoMode overrides app.demoMode from settings.json.
	EnvDemoMode = "TREELINE_DEMO_MODE"
	// EnvDBKey supplies a pre-derived hex encryption key.
	EnvDBKey = "TL_DB_KEY"
	// EnvDBPassword supplies a password to derive the key from at startup.
	EnvDBPassword = "TL_DB_PASSWORD"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("json")

	// settings.json lives in the root directory. It may not exist yet;
	// a missing file is not an error, it just means defaults apply.
	settingsPath := filepath.Join(rootDir(), "settings.json")
	if _, err := os.Stat(settingsPath); err == nil {
		v.SetConfigFile(settingsPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", settingsPath, err)
		}
	}

	_ = v.BindEnv("app.demoMode", EnvDemoMode)
	v.SetDefault("app.demoMode", false)
	return nil
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

func rootDir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".treeline"
	}
	return filepath.Join(home, ".treeline")
}

// Dir returns the treeline root directory, creating it if needed.
func Dir() (string, error) {
	dir := rootDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating treeline directory: %w", err)
	}
	return dir, nil
}

// DemoMode reports whether the engine operates on demo.duckdb.
// The TREELINE_DEMO_MODE environment variable overrides settings.json.
func DemoMode() bool {
	ensure()
	if raw := os.Getenv(EnvDemoMode); raw != "" {
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			return true
		default:
			return false
		}
	}
	return v.GetBool("app.demoMode")
}

// DBFileName returns the active database file name.
func DBFileName() string {
	if DemoMode() {
		return "demo.duckdb"
	}
	return "treeline.duckdb"
}

// DBPath returns the full path of the active database file.
func DBPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFileName()), nil
}

// LogsDBPath returns the path of the logging store database.
func LogsDBPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs.duckdb"), nil
}

// SettingsPath returns the path of settings.json.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

// EncryptionMetaPath returns the path of encryption.json.
func EncryptionMetaPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "encryption.json"), nil
}

// BackupsDir returns the backups directory, creating it if needed.
func BackupsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	backups := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backups, 0o755); err != nil {
		return "", fmt.Errorf("creating backups directory: %w", err)
	}
	return backups, nil
}

// ImportsDir returns the CSV drop-zone directory, creating it (and its
// imported/ archive) if needed.
func ImportsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	imports := filepath.Join(dir, "imports")
	if err := os.MkdirAll(filepath.Join(imports, "imported"), 0o755); err != nil {
		return "", fmt.Errorf("creating imports directory: %w", err)
	}
	return imports, nil
}

// PluginsDir returns the plugins directory, creating it if needed.
func PluginsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	plugins := filepath.Join(dir, "plugins")
	if err := os.MkdirAll(plugins, 0o755); err != nil {
		return "", fmt.Errorf("creating plugins directory: %w", err)
	}
	return plugins, nil
}

// UpdateStatePath returns the path of update-state.json.
func UpdateStatePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "update-state.json"), nil
}

// DBKey returns the pre-derived hex encryption key from the environment,
// if one was supplied.
func DBKey() string { return os.Getenv(EnvDBKey) }

// DBPassword returns the startup password from the environment, if set.
func DBPassword() string { return os.Getenv(EnvDBPassword) }

// Reset drops the viper singleton so the next call re-reads settings.json.
// Used by tests.
func Reset() { v = nil }
