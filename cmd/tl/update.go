package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/treeline-money/treeline/internal/config"
	"github.com/treeline-money/treeline/internal/types"
	"github.com/treeline-money/treeline/internal/update"
)

const githubRepo = "treeline-money/treeline"

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer release",
	RunE: func(_ *cobra.Command, _ []string) error {
		statePath, err := config.UpdateStatePath()
		if err != nil {
			return err
		}
		release, err := fetchLatestRelease()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		state := update.LoadState(statePath)
		state.LastCheck = &now
		state.LatestVersion = release.TagName
		if err := state.Save(statePath); err != nil {
			return err
		}

		newer := update.IsNewer(Version, release.TagName)
		if jsonOut {
			return printJSON(map[string]any{
				"current": Version,
				"latest":  release.TagName,
				"newer":   newer,
				"url":     release.HTMLURL,
			})
		}
		if newer {
			fmt.Printf("A newer version is available: %s (current %s)\n", release.TagName, Version)
			fmt.Printf("  %s\n", release.HTMLURL)
		} else {
			fmt.Printf("tl %s is up to date.\n", Version)
		}
		return nil
	},
}

func fetchLatestRelease() (*githubRelease, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(http.MethodGet,
		"https://api.github.com/repos/"+githubRepo+"/releases/latest", nil)
	if err != nil {
		return nil, types.WrapErr(types.KindNetwork, err, "building release request")
	}
	req.Header.Set("User-Agent", "treeline-cli")
	resp, err := client.Do(req)
	if err != nil {
		return nil, types.WrapErr(types.KindNetwork, err, "fetching release info")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, types.E(types.KindNetwork, "GitHub API returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.WrapErr(types.KindNetwork, err, "reading release response")
	}
	var release githubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, types.WrapErr(types.KindParse, err, "parsing release response")
	}
	return &release, nil
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
