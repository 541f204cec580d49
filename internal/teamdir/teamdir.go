// Package teamdir enumerates the external team directory managed by
// the agent tooling (spec.md §6: ~/.claude/teams/<team>/config.json
// and its inboxes/ subdirectory), generalizing the reference daemon's
// internal/inbox.Resolver directory-driven binding shape from
// "resolve a pane against known runtimes" to "resolve a team name
// against known team directories".
package teamdir

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Summary is what /api/teams/available returns per discovered team.
type Summary struct {
	Name       string `json:"name"`
	ProjectDir string `json:"projectDir,omitempty"`
	Model      string `json:"model,omitempty"`
	InboxCount int    `json:"inboxCount"`
}

type teamConfigFile struct {
	ProjectDir string `json:"projectDir"`
	Model      string `json:"model"`
}

// ListAvailable enumerates teamsDir, filtering to subdirectories that
// contain a readable config.json.
func ListAvailable(teamsDir string) ([]Summary, error) {
	entries, err := os.ReadDir(teamsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		teamDir := filepath.Join(teamsDir, entry.Name())
		cfgPath := filepath.Join(teamDir, "config.json")
		raw, err := os.ReadFile(cfgPath)
		if err != nil {
			continue
		}
		var cfg teamConfigFile
		if err := json.Unmarshal(raw, &cfg); err != nil {
			continue
		}
		inboxCount := 0
		if inboxEntries, err := os.ReadDir(filepath.Join(teamDir, "inboxes")); err == nil {
			inboxCount = len(inboxEntries)
		}
		out = append(out, Summary{
			Name:       entry.Name(),
			ProjectDir: cfg.ProjectDir,
			Model:      cfg.Model,
			InboxCount: inboxCount,
		})
	}
	return out, nil
}

// ConfigPath returns the path to a team's config.json.
func ConfigPath(teamsDir, team string) string {
	return filepath.Join(teamsDir, team, "config.json")
}

// InboxesPath returns the path to a team's inboxes directory.
func InboxesPath(teamsDir, team string) string {
	return filepath.Join(teamsDir, team, "inboxes")
}
