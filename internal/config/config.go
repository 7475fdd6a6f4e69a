package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/deploy"
	"github.com/buckleypaul/bmtf/internal/lab"
	"github.com/buckleypaul/bmtf/internal/remote"
	"github.com/buckleypaul/bmtf/internal/reserve"
	"github.com/buckleypaul/bmtf/internal/session"
	"github.com/buckleypaul/bmtf/internal/workspace"
)

const (
	DefaultWorkspaceRoot  = "bmtf-workspace"
	DefaultBoardFilesPath = "boards"
	DefaultRemoteTimeout  = 10 * time.Minute
	DefaultReleaseTimeout = 2 * time.Minute
)

// WorkspaceConfig places the per-run workspaces.
type WorkspaceConfig struct {
	RootPath       string `yaml:"root_path,omitempty"`
	workspace.Dirs `yaml:",inline"`
}

// LabConfig configures the lab tooling and reservation retries.
type LabConfig struct {
	lab.Templates     `yaml:",inline"`
	ReserveAttempts   int           `yaml:"reserve_attempts,omitempty"`
	ReserveBackoff    time.Duration `yaml:"reserve_backoff,omitempty"`
	PowerOffOnRelease bool          `yaml:"power_off_on_release,omitempty"`
}

// Timeouts bound console waits and remote operations.
type Timeouts struct {
	Console       time.Duration `yaml:"console,omitempty"`
	Boot          time.Duration `yaml:"boot,omitempty"`
	Prompt        time.Duration `yaml:"prompt,omitempty"`
	RemoteCommand time.Duration `yaml:"remote_command,omitempty"`
	Release       time.Duration `yaml:"release,omitempty"`
}

// RemoteConfig selects and configures the ssh transport.
type RemoteConfig struct {
	Transport    string   `yaml:"transport,omitempty"`
	User         string   `yaml:"user,omitempty"`
	Port         int      `yaml:"port,omitempty"`
	KeyFile      string   `yaml:"key_file,omitempty"`
	KnownHosts   string   `yaml:"known_hosts,omitempty"`
	SSHOptions   []string `yaml:"ssh_options,omitempty"`
	BasePath     string   `yaml:"base_path,omitempty"`
	RepoListPath string   `yaml:"repo_list_path,omitempty"`
}

// Policy decides how per-test failures are handled.
type Policy struct {
	FailFast bool `yaml:"fail_fast,omitempty"`
}

// Config holds all bmtf configuration.
type Config struct {
	Workspace      WorkspaceConfig `yaml:"workspace"`
	BoardFilesPath string          `yaml:"board_files_path,omitempty"`
	Boards         board.Inventory `yaml:"boards,omitempty"`
	Lab            LabConfig       `yaml:"lab"`
	Timeouts       Timeouts        `yaml:"timeouts"`
	Remote         RemoteConfig    `yaml:"remote"`
	Policy         Policy          `yaml:"policy"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Workspace: WorkspaceConfig{
			RootPath: DefaultWorkspaceRoot,
			Dirs:     workspace.DefaultDirs(),
		},
		BoardFilesPath: DefaultBoardFilesPath,
		Lab: LabConfig{
			Templates:       lab.DefaultTemplates(),
			ReserveAttempts: reserve.DefaultAttempts,
			ReserveBackoff:  reserve.DefaultBackoff,
		},
		Timeouts: Timeouts{
			Console:       session.DefaultConsoleTimeout,
			Boot:          session.DefaultBootTimeout,
			Prompt:        session.DefaultPromptTimeout,
			RemoteCommand: DefaultRemoteTimeout,
			Release:       DefaultReleaseTimeout,
		},
		Remote: RemoteConfig{
			Transport:    remote.TransportSystem,
			User:         remote.DefaultUser,
			Port:         remote.DefaultPort,
			BasePath:     deploy.DefaultBasePath,
			RepoListPath: deploy.DefaultRepoListPath,
		},
	}
}

// GlobalPath is the per-user config file.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bmtf", "config.yaml"), nil
}

// Load reads and merges the global config and the explicit config file.
// Order: defaults → global (~/.config/bmtf/config.yaml) → explicit.
// A missing global file is fine; a missing explicit file is an error.
func Load(explicit string) (Config, error) {
	cfg := Defaults()

	if global, err := GlobalPath(); err == nil {
		if err := mergeFromFile(&cfg, global, false); err != nil {
			return cfg, err
		}
	}

	if explicit != "" {
		if err := mergeFromFile(&cfg, explicit, true); err != nil {
			return cfg, err
		}
		// Relative paths in the explicit file are relative to it.
		dir := filepath.Dir(explicit)
		cfg.BoardFilesPath = resolve(dir, cfg.BoardFilesPath)
		cfg.Workspace.RootPath = resolve(dir, cfg.Workspace.RootPath)
	}
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML to path.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings no run could use.
func (c Config) Validate() error {
	switch c.Remote.Transport {
	case remote.TransportSystem, remote.TransportNative:
	default:
		return fmt.Errorf("remote.transport must be %q or %q, got %q",
			remote.TransportSystem, remote.TransportNative, c.Remote.Transport)
	}
	if c.Lab.ReserveAttempts < 1 {
		return fmt.Errorf("lab.reserve_attempts must be at least 1, got %d", c.Lab.ReserveAttempts)
	}
	return nil
}

// RemoteOptions converts the remote section for the transports.
func (c Config) RemoteOptions() remote.Options {
	return remote.Options{
		User:       c.Remote.User,
		Port:       c.Remote.Port,
		KeyFile:    c.Remote.KeyFile,
		KnownHosts: c.Remote.KnownHosts,
		Extra:      c.Remote.SSHOptions,
	}
}

// Layout returns the fixed board-side locations.
func (c Config) Layout() deploy.Layout {
	return deploy.Layout{BasePath: c.Remote.BasePath, RepoListPath: c.Remote.RepoListPath}
}

// SessionTimeouts returns the console wait bounds.
func (c Config) SessionTimeouts() session.Timeouts {
	return session.Timeouts{Console: c.Timeouts.Console, Boot: c.Timeouts.Boot, Prompt: c.Timeouts.Prompt}
}

func mergeFromFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Keys present in the file override; absent keys keep earlier layers.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
