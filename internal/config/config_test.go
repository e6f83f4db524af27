package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	repoDir := t.TempDir()
	cfgDir := filepath.Join(repoDir, ".mergeflow")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "mergeflow.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
project: widgets
repo:
  owner: acme
  name: widgets
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Mode != ModeAttended {
		t.Errorf("expected default mode attended, got %s", cfg.Mode)
	}
	if cfg.Repo.Mainline != "main" {
		t.Errorf("expected default mainline main, got %s", cfg.Repo.Mainline)
	}
	if cfg.Session.MaxIssues != 5 || cfg.Session.MaxHours != 8 {
		t.Errorf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Session.StaleThreshold != 10 {
		t.Errorf("expected default stale threshold 10, got %d", cfg.Session.StaleThreshold)
	}
	if cfg.Agent.Command != "claude" || cfg.Agent.TimeoutMinutes != 30 {
		t.Errorf("unexpected agent defaults: %+v", cfg.Agent)
	}
}

func TestLoad_DerivesRepoPathFromConfigLocation(t *testing.T) {
	path := writeConfig(t, `
project: widgets
repo:
  owner: acme
  name: widgets
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantRepo := filepath.Dir(filepath.Dir(path))
	if cfg.Repo.Path != wantRepo {
		t.Errorf("expected repo path %s, got %s", wantRepo, cfg.Repo.Path)
	}
	if cfg.SessionPath() != filepath.Join(wantRepo, ".mergeflow", "session.json") {
		t.Errorf("unexpected session path: %s", cfg.SessionPath())
	}
	if cfg.ActivityDBPath() != filepath.Join(wantRepo, ".mergeflow", "activity.db") {
		t.Errorf("unexpected activity db path: %s", cfg.ActivityDBPath())
	}
}

func TestLoad_MissingProject_Fails(t *testing.T) {
	path := writeConfig(t, `
repo:
  owner: acme
  name: widgets
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing project")
	}
}

func TestLoad_UnknownMode_Fails(t *testing.T) {
	path := writeConfig(t, `
project: widgets
mode: yolo
repo:
  owner: acme
  name: widgets
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if !strings.Contains(err.Error(), "mode") {
		t.Errorf("expected mode mentioned, got %v", err)
	}
}

func TestLoad_MissingFile_Fails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolve_ExplicitPathWins(t *testing.T) {
	path := writeConfig(t, `
project: widgets
repo:
  owner: acme
  name: widgets
`)
	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Project != "widgets" {
		t.Errorf("unexpected project: %s", cfg.Project)
	}
}

func TestValidate_CollectsAllIssues(t *testing.T) {
	cfg := &Config{Session: SessionConfig{StaleThreshold: 0}}
	issues := cfg.Validate()

	var wantFragments = []string{"project", "repo.owner", "repo.name", "mode", "stale_threshold"}
	for _, frag := range wantFragments {
		found := false
		for _, issue := range issues {
			if strings.Contains(issue, frag) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected an issue mentioning %q, got %v", frag, issues)
		}
	}
}

func TestValidate_WarnsOnSkippedCredentialCheck(t *testing.T) {
	cfg := &Config{
		Project: "widgets",
		Mode:    ModeUnattended,
		Repo:    RepoConfig{Owner: "acme", Name: "widgets"},
		Session: SessionConfig{StaleThreshold: 10},
		Gates:   GatesConfig{SkipCredentialCheck: true},
	}
	issues := cfg.Validate()
	if len(issues) != 1 || !strings.Contains(issues[0], "warning") {
		t.Errorf("expected a single warning, got %v", issues)
	}
}
