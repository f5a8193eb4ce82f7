package update

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIsNewer(t *testing.T) {
	cases := []struct {
		current, latest string
		want            bool
	}{
		{"26.2.301", "26.2.302", true},
		{"v26.2.301", "26.2.301", false},
		{"26.2.301", "26.12.1", true},
		{"26.2.302", "26.2.301", false},
		{"26.2.301", "v26.3.1", true},
		{"26.2", "26.2.1", true},
		{"26.2.1", "26.2", false},
		{"1.0.0", "1.0.0", false},
	}
	for _, tc := range cases {
		if got := IsNewer(tc.current, tc.latest); got != tc.want {
			t.Errorf("IsNewer(%q, %q) = %v, want %v", tc.current, tc.latest, got, tc.want)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-state.json")
	now := time.Now().UTC().Truncate(time.Second)
	state := &State{LastCheck: &now, LatestVersion: "26.3.1", NotifiedVersion: "26.3.1"}
	if err := state.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded := LoadState(path)
	if loaded.LatestVersion != "26.3.1" || loaded.NotifiedVersion != "26.3.1" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.LastCheck == nil || !loaded.LastCheck.Equal(now) {
		t.Errorf("lastCheck = %v, want %v", loaded.LastCheck, now)
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	state := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	if state.LatestVersion != "" || state.LastCheck != nil {
		t.Errorf("missing file should load zero state, got %+v", state)
	}
}

func TestLoadStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	state := LoadState(path)
	if state.LatestVersion != "" {
		t.Errorf("corrupt file should load zero state, got %+v", state)
	}
}

func TestNotice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-state.json")
	state := &State{LatestVersion: "27.1.1"}
	if err := state.Save(path); err != nil {
		t.Fatal(err)
	}
	if n := Notice(path, "26.2.301"); n == "" {
		t.Error("expected an update notice")
	}
	if n := Notice(path, "27.1.1"); n != "" {
		t.Errorf("up-to-date should yield no notice, got %q", n)
	}
}
