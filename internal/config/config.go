package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Mode selects how the pipeline escalates decisions: attended prompts a
// human, unattended fails closed and notifies.
type Mode string

const (
	ModeAttended   Mode = "attended"
	ModeUnattended Mode = "unattended"
)

type Config struct {
	Project string        `yaml:"project"`
	Mode    Mode          `yaml:"mode"`
	Repo    RepoConfig    `yaml:"repo"`
	Session SessionConfig `yaml:"session"`
	Gates   GatesConfig   `yaml:"gates"`
	Agent   AgentConfig   `yaml:"agent"`
}

type RepoConfig struct {
	Path     string `yaml:"-"` // derived from config file location, not from YAML
	Owner    string `yaml:"owner"`
	Name     string `yaml:"name"`
	Mainline string `yaml:"mainline"`
}

type SessionConfig struct {
	MaxIssues      int `yaml:"max_issues"`
	MaxHours       int `yaml:"max_hours"`
	StaleThreshold int `yaml:"stale_threshold"`
}

type GatesConfig struct {
	SkipCredentialCheck bool     `yaml:"skip_credential_check"`
	SensitivePaths      []string `yaml:"sensitive_paths"`
	ProtectedScripts    []string `yaml:"protected_scripts"`
}

type AgentConfig struct {
	Command        string `yaml:"command"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
}

// SessionPath returns the path of the durable session record for this clone.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Repo.Path, ".mergeflow", "session.json")
}

// SnapshotDir returns the directory holding per-issue interrupt snapshots.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Repo.Path, ".mergeflow", "snapshots")
}

// NotesPath returns the path of the cross-session notes document.
func (c *Config) NotesPath() string {
	return filepath.Join(c.Repo.Path, ".mergeflow", "notes.md")
}

// ActivityDBPath returns the path of the sqlite activity log.
func (c *Config) ActivityDBPath() string {
	return filepath.Join(c.Repo.Path, ".mergeflow", "activity.db")
}

// Load reads and parses a config file at the given path. Repo.Path is
// derived from the config file location (grandparent of the file, i.e. the
// directory containing .mergeflow/).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Derive repo path: path is <repo>/.mergeflow/mergeflow.yaml
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	cfg.Repo.Path = filepath.Dir(filepath.Dir(absPath))

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Discover walks up from the current directory looking for
// .mergeflow/mergeflow.yaml.
func Discover() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, ".mergeflow", "mergeflow.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return nil, fmt.Errorf("no .mergeflow/mergeflow.yaml found in current directory or parents")
}

// Resolve tries the explicit path first, then falls back to Discover.
func Resolve(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	return Discover()
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAttended
	}
	if c.Repo.Mainline == "" {
		c.Repo.Mainline = "main"
	}
	if c.Session.MaxIssues == 0 {
		c.Session.MaxIssues = 5
	}
	if c.Session.MaxHours == 0 {
		c.Session.MaxHours = 8
	}
	if c.Session.StaleThreshold == 0 {
		c.Session.StaleThreshold = 10
	}
	if c.Agent.Command == "" {
		c.Agent.Command = "claude"
	}
	if c.Agent.TimeoutMinutes == 0 {
		c.Agent.TimeoutMinutes = 30
	}
}

func (c *Config) validate() error {
	if c.Project == "" {
		return fmt.Errorf("missing required field: project")
	}
	if c.Repo.Owner == "" || c.Repo.Name == "" {
		return fmt.Errorf("missing required fields: repo.owner, repo.name")
	}
	if c.Mode != ModeAttended && c.Mode != ModeUnattended {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeAttended, ModeUnattended, c.Mode)
	}
	return nil
}

// Validate checks the config for required fields and consistency. Returns a
// list of issues found (empty if valid).
func (c *Config) Validate() []string {
	var issues []string

	if c.Project == "" {
		issues = append(issues, "missing required field: project")
	}
	if c.Repo.Owner == "" {
		issues = append(issues, "missing required field: repo.owner")
	}
	if c.Repo.Name == "" {
		issues = append(issues, "missing required field: repo.name")
	}
	if c.Mode != ModeAttended && c.Mode != ModeUnattended {
		issues = append(issues, fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if c.Session.StaleThreshold < 1 {
		issues = append(issues, "session.stale_threshold must be at least 1")
	}
	if c.Gates.SkipCredentialCheck {
		issues = append(issues, "warning: credential pre-start gate is disabled")
	}

	return issues
}
