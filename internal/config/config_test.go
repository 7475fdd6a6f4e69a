package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/buckleypaul/bmtf/internal/board"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Workspace.Logs != "logs" {
		t.Errorf("expected logs dir=logs, got=%s", cfg.Workspace.Logs)
	}
	if cfg.Lab.Reserve != "target {board} -r now-+{lease}" {
		t.Errorf("unexpected reserve template %q", cfg.Lab.Reserve)
	}
	if cfg.Timeouts.Boot != 120*time.Second {
		t.Errorf("expected boot timeout 2m, got=%s", cfg.Timeouts.Boot)
	}
	if cfg.Remote.Transport != "system" {
		t.Errorf("expected system transport, got=%s", cfg.Remote.Transport)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadMerge(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	globalDir := filepath.Join(home, ".config", "bmtf")
	os.MkdirAll(globalDir, 0o755)
	os.WriteFile(filepath.Join(globalDir, "config.yaml"), []byte(`
lab:
  lease: 30M
  reserve_attempts: 5
remote:
  key_file: /keys/lab
`), 0o644)

	dir := t.TempDir()
	explicit := filepath.Join(dir, "lab.yaml")
	os.WriteFile(explicit, []byte(`
board_files_path: descriptors
boards:
  - name: rpi-01
    type: rpi3
    serial_port: /dev/ttyUSB0
timeouts:
  boot: 5m
remote:
  transport: native
policy:
  fail_fast: true
`), 0o644)

	cfg, err := Load(explicit)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Lab.Lease != "30M" || cfg.Lab.ReserveAttempts != 5 {
		t.Errorf("expected lab settings from global config, got lease=%s attempts=%d", cfg.Lab.Lease, cfg.Lab.ReserveAttempts)
	}
	// Unset template keeps its default.
	if cfg.Lab.PowerOn != "target {board} -p on" {
		t.Errorf("expected default power_on, got=%s", cfg.Lab.PowerOn)
	}
	if cfg.Remote.KeyFile != "/keys/lab" || cfg.Remote.Transport != "native" {
		t.Errorf("remote not merged: %+v", cfg.Remote)
	}
	if cfg.Remote.User != "root" {
		t.Errorf("expected default user root, got=%s", cfg.Remote.User)
	}
	if cfg.Timeouts.Boot != 5*time.Minute || cfg.Timeouts.Console != 60*time.Second {
		t.Errorf("timeouts not merged: %+v", cfg.Timeouts)
	}
	if !cfg.Policy.FailFast {
		t.Error("expected fail_fast from explicit config")
	}
	if cfg.BoardFilesPath != filepath.Join(dir, "descriptors") {
		t.Errorf("expected board files path relative to config, got=%s", cfg.BoardFilesPath)
	}
	want := board.Board{Name: "rpi-01", Type: "rpi3", SerialPort: "/dev/ttyUSB0"}
	if len(cfg.Boards) != 1 || cfg.Boards[0] != want {
		t.Errorf("unexpected inventory %+v", cfg.Boards)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("remote:\n  transport: telnet\n"), 0o644)
	if _, err := Load(bad); err == nil {
		t.Error("expected an error for an unknown transport")
	}

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	os.WriteFile(broken, []byte("timeouts: [oops"), 0o644)
	if _, err := Load(broken); err == nil {
		t.Error("expected a parse error")
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Workspace.RootPath = "/srv/bmtf"
	cfg.Timeouts.Prompt = 45 * time.Second
	cfg.Lab.PowerOffOnRelease = true
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Workspace.RootPath != "/srv/bmtf" {
		t.Errorf("expected root path /srv/bmtf, got=%s", loaded.Workspace.RootPath)
	}
	if loaded.Timeouts.Prompt != 45*time.Second {
		t.Errorf("expected prompt timeout 45s, got=%s", loaded.Timeouts.Prompt)
	}
	if !loaded.Lab.PowerOffOnRelease {
		t.Error("expected power_off_on_release to round trip")
	}
}

func TestDerivedSettings(t *testing.T) {
	cfg := Defaults()
	cfg.Remote.SSHOptions = []string{"LogLevel=ERROR"}

	opts := cfg.RemoteOptions()
	if opts.User != "root" || opts.Port != 22 || len(opts.Extra) != 1 {
		t.Errorf("unexpected remote options %+v", opts)
	}
	if cfg.Layout().ResultPattern() != "/home/root/*_test_result" {
		t.Errorf("unexpected result pattern %s", cfg.Layout().ResultPattern())
	}
	if cfg.SessionTimeouts().Prompt != 30*time.Second {
		t.Errorf("unexpected prompt timeout %s", cfg.SessionTimeouts().Prompt)
	}
}
