package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/bmtf/internal/logging"
)

func TestCreate(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	ws, err := Create(root, Dirs{Results: "results"}, "abc123", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2024_03_09_14_05-abc123"), ws.Root)
	assert.Equal(t, filepath.Join(ws.Root, "logs"), ws.Logs)
	assert.Equal(t, filepath.Join(ws.Root, "results"), ws.Results)
	for _, d := range []string{ws.Logs, ws.Git, ws.Results, ws.Temp, ws.History} {
		assert.DirExists(t, d)
	}
}

func TestRepoDir(t *testing.T) {
	tests := map[string]string{
		"https://git.example.com/lab/toolkit.git": "toolkit",
		"https://git.example.com/lab/toolkit/":    "toolkit",
		"git@git.example.com:toolkit.git":         "toolkit",
		"/srv/git/bsp-tests":                      "bsp-tests",
	}
	for url, want := range tests {
		assert.Equal(t, want, RepoDir(url), url)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "install.sh"), []byte("#!/bin/sh\n"), 0o755))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("install.sh")
	require.NoError(t, err)
	_, err = wt.Commit("toolkit", &git.CommitOptions{
		Author: &object.Signature{Name: "lab", Email: "lab@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestClone(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("local clones need git-upload-pack")
	}
	src := initRepo(t)
	ws, err := Create(t.TempDir(), Dirs{}, "run", time.Now())
	require.NoError(t, err)

	paths, err := ws.Clone(context.Background(), []string{src}, logging.Discard())
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(ws.Git, filepath.Base(src))}, paths)
	assert.FileExists(t, filepath.Join(paths[0], "install.sh"))
}

func TestCloneFailure(t *testing.T) {
	ws, err := Create(t.TempDir(), Dirs{}, "run", time.Now())
	require.NoError(t, err)

	paths, err := ws.Clone(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, logging.Discard())
	assert.Error(t, err)
	assert.Empty(t, paths)
}
