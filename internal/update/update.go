// Package update tracks the update-check cache and compares CalVer
// release versions.
package update

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/treeline-money/treeline/internal/types"
)

// State is the update-state.json document.
type State struct {
	LastCheck       *time.Time `json:"lastCheck,omitempty"`
	LatestVersion   string     `json:"latestVersion,omitempty"`
	NotifiedVersion string     `json:"notifiedVersion,omitempty"`
}

// LoadState reads update-state.json; a missing or corrupt file yields a
// zero state.
func LoadState(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return &State{}
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return &State{}
	}
	return &s
}

// Save writes update-state.json.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return types.WrapErr(types.KindIO, err, "encoding update state")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.WrapErr(types.KindIO, err, "writing update state")
	}
	return nil
}

// IsNewer reports whether latest is a newer version than current.
// Versions are dotted numeric components with an optional leading "v";
// the first differing component decides, and when all shared components
// are equal the longer version is newer.
func IsNewer(current, latest string) bool {
	cur := parseVersion(current)
	lat := parseVersion(latest)
	for i := 0; i < len(cur) && i < len(lat); i++ {
		if lat[i] > cur[i] {
			return true
		}
		if lat[i] < cur[i] {
			return false
		}
	}
	return len(lat) > len(cur)
}

func parseVersion(v string) []int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Notice returns the "update available" line for stderr when the cached
// state says a version newer than current exists, or "" otherwise.
func Notice(statePath, current string) string {
	s := LoadState(statePath)
	if s.LatestVersion == "" || !IsNewer(current, s.LatestVersion) {
		return ""
	}
	return "A new version of tl is available: " + s.LatestVersion + " (run 'tl update')"
}
