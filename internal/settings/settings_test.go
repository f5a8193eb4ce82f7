package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/treeline-money/treeline/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "settings.json"))
}

func TestLoadMissingFile(t *testing.T) {
	s, err := testStore(t).Load()
	if err != nil {
		t.Fatal(err)
	}
	if s.App.DemoMode {
		t.Error("zero settings should not enable demo mode")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := testStore(t)
	in := &Settings{
		App:     App{DemoMode: true},
		Plugins: map[string]PluginEntry{"goals": {Version: "1.0.0", Enabled: true}},
	}
	if err := store.Save(in); err != nil {
		t.Fatal(err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !out.App.DemoMode {
		t.Error("demoMode lost")
	}
	if out.Plugins["goals"].Version != "1.0.0" {
		t.Errorf("plugins = %+v", out.Plugins)
	}
}

func TestProfileLifecycle(t *testing.T) {
	store := testStore(t)
	profile := types.ImportProfile{
		Name: "mybank",
		ColumnMappings: types.ColumnMappings{
			Date:   "Transaction Date",
			Amount: "Amount",
		},
		Options: types.ImportOptions{FlipSigns: true, NumberFormat: "eu"},
	}
	if err := store.SaveProfile(profile); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetProfile("mybank")
	if err != nil {
		t.Fatal(err)
	}
	if got.ColumnMappings.Date != "Transaction Date" || !got.Options.FlipSigns {
		t.Errorf("profile = %+v", got)
	}

	profiles, err := store.ListProfiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 {
		t.Errorf("profiles = %d, want 1", len(profiles))
	}

	if err := store.DeleteProfile("mybank"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetProfile("mybank"); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("deleted profile lookup = %v, want NotFound", err)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	if _, err := testStore(t).GetProfile("absent"); !types.IsKind(err, types.KindNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestCorruptSettingsIsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); !types.IsKind(err, types.KindParse) {
		t.Errorf("err = %v, want ParseError", err)
	}
}
