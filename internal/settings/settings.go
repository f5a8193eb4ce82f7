// Package settings reads and writes settings.json: app options, plugin
// state, and saved import profiles.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/treeline-money/treeline/internal/types"
)

// App holds top-level application options.
type App struct {
	DemoMode bool `json:"demoMode"`
}

// PluginEntry records an installed plugin in settings.json.
type PluginEntry struct {
	Version string `json:"version"`
	Enabled bool   `json:"enabled"`
}

// Settings is the settings.json document.
type Settings struct {
	App            App                            `json:"app"`
	Plugins        map[string]PluginEntry         `json:"plugins,omitempty"`
	ImportProfiles map[string]types.ImportProfile `json:"importProfiles,omitempty"`
}

// Store reads and writes one settings.json file.
type Store struct {
	path string
}

// NewStore creates a store over the given settings.json path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads settings.json; a missing file yields zero-value settings.
func (s *Store) Load() (*Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, types.WrapErr(types.KindIO, err, "reading settings")
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.WrapErr(types.KindParse, err, "parsing settings.json")
	}
	return &out, nil
}

// Save writes settings.json atomically (write temp, rename).
func (s *Store) Save(settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return types.WrapErr(types.KindIO, err, "encoding settings")
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return types.WrapErr(types.KindIO, err, "creating settings directory")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.WrapErr(types.KindIO, err, "writing settings")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return types.WrapErr(types.KindIO, err, "replacing settings")
	}
	return nil
}

// SaveProfile stores a named import profile.
func (s *Store) SaveProfile(p types.ImportProfile) error {
	cur, err := s.Load()
	if err != nil {
		return err
	}
	if cur.ImportProfiles == nil {
		cur.ImportProfiles = map[string]types.ImportProfile{}
	}
	cur.ImportProfiles[p.Name] = p
	return s.Save(cur)
}

// GetProfile returns a named import profile, or NotFound.
func (s *Store) GetProfile(name string) (*types.ImportProfile, error) {
	cur, err := s.Load()
	if err != nil {
		return nil, err
	}
	p, ok := cur.ImportProfiles[name]
	if !ok {
		return nil, types.E(types.KindNotFound, "import profile '%s' not found", name)
	}
	return &p, nil
}

// DeleteProfile removes a named import profile.
func (s *Store) DeleteProfile(name string) error {
	cur, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := cur.ImportProfiles[name]; !ok {
		return types.E(types.KindNotFound, "import profile '%s' not found", name)
	}
	delete(cur.ImportProfiles, name)
	return s.Save(cur)
}

// ListProfiles returns every saved import profile, in no defined order.
func (s *Store) ListProfiles() ([]types.ImportProfile, error) {
	cur, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]types.ImportProfile, 0, len(cur.ImportProfiles))
	for _, p := range cur.ImportProfiles {
		out = append(out, p)
	}
	return out, nil
}
