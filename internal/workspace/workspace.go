// Package workspace lays out the per-run directory tree and materialises the
// toolkit repositories into it.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	log "github.com/sirupsen/logrus"
)

// Dirs names the subdirectories of a run workspace.
type Dirs struct {
	Logs    string `yaml:"logs_dir"`
	Git     string `yaml:"git_dir"`
	Results string `yaml:"test_results_dir"`
	Temp    string `yaml:"temp_dir"`
	History string `yaml:"history_dir"`
}

// DefaultDirs returns the standard subdirectory names.
func DefaultDirs() Dirs {
	return Dirs{Logs: "logs", Git: "git", Results: "test_results", Temp: "tmp", History: "history"}
}

func (d Dirs) withDefaults() Dirs {
	def := DefaultDirs()
	if d.Logs == "" {
		d.Logs = def.Logs
	}
	if d.Git == "" {
		d.Git = def.Git
	}
	if d.Results == "" {
		d.Results = def.Results
	}
	if d.Temp == "" {
		d.Temp = def.Temp
	}
	if d.History == "" {
		d.History = def.History
	}
	return d
}

// stampFormat prefixes every run directory.
const stampFormat = "2006_01_02_15_04"

// Workspace is one run's directory tree.
type Workspace struct {
	Root    string
	Logs    string
	Git     string
	Results string
	Temp    string
	History string
}

// Create makes <root>/<YYYY_MM_DD_HH_MM>-<runID> and its subdirectories.
func Create(root string, dirs Dirs, runID string, now time.Time) (*Workspace, error) {
	dirs = dirs.withDefaults()
	base := filepath.Join(root, now.Format(stampFormat)+"-"+runID)
	ws := &Workspace{
		Root:    base,
		Logs:    filepath.Join(base, dirs.Logs),
		Git:     filepath.Join(base, dirs.Git),
		Results: filepath.Join(base, dirs.Results),
		Temp:    filepath.Join(base, dirs.Temp),
		History: filepath.Join(base, dirs.History),
	}
	for _, d := range []string{ws.Logs, ws.Git, ws.Results, ws.Temp, ws.History} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	return ws, nil
}

// RepoDir is the checkout directory of a repository URL: its last path
// element without a .git suffix.
func RepoDir(url string) string {
	name := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// Clone checks out each repository into the git directory and returns the
// checkout paths in order.
func (ws *Workspace) Clone(ctx context.Context, repos []string, logger *log.Entry) ([]string, error) {
	var paths []string
	for _, url := range repos {
		dest := filepath.Join(ws.Git, RepoDir(url))
		logger.WithFields(log.Fields{"repo": url, "dest": dest}).Info("cloning toolkit repository")
		_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
			URL:          url,
			Depth:        1,
			SingleBranch: true,
		})
		if err != nil {
			return paths, fmt.Errorf("clone %s: %w", url, err)
		}
		paths = append(paths, dest)
	}
	return paths, nil
}
