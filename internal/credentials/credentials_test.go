package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCredentials(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "credentials.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestResolve_EnvTokenOverridesProfile(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	dir := writeCredentials(t, `
default_profile: work
profiles:
  work:
    github_token: ghp_file
`)
	creds, err := Resolve(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.GithubToken != "ghp_env" {
		t.Errorf("expected env token to win, got %q", creds.GithubToken)
	}
}

func TestResolve_EnvTokenDisablesAppAuth(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	dir := writeCredentials(t, `
default_profile: work
profiles:
  work:
    github_app_client_id: Iv1.abc
    github_app_installation_id: 42
    github_app_private_key_path: /tmp/key.pem
`)
	creds, err := Resolve(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.HasGithubApp() {
		t.Error("expected env token to disable app auth")
	}
	if creds.GithubToken != "ghp_env" {
		t.Errorf("expected env token, got %q", creds.GithubToken)
	}
}

func TestResolve_NamedProfile(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	dir := writeCredentials(t, `
default_profile: work
profiles:
  work:
    github_token: ghp_work
  personal:
    github_token: ghp_personal
`)
	creds, err := Resolve(dir, "personal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.GithubToken != "ghp_personal" {
		t.Errorf("expected named profile, got %q", creds.GithubToken)
	}
}

func TestResolve_DefaultProfileFallback(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	dir := writeCredentials(t, `
default_profile: work
profiles:
  work:
    github_token: ghp_work
`)
	creds, err := Resolve(dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.GithubToken != "ghp_work" {
		t.Errorf("expected default profile, got %q", creds.GithubToken)
	}
}

func TestResolve_UnknownProfileFails(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	dir := writeCredentials(t, `
profiles:
  work:
    github_token: ghp_work
`)
	if _, err := Resolve(dir, "nope"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestResolve_MissingFileWithEnvToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	creds, err := Resolve(t.TempDir(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.GithubToken != "ghp_env" {
		t.Errorf("expected env token, got %q", creds.GithubToken)
	}
}

func TestResolve_MissingFileWithoutEnvToken_Fails(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	if _, err := Resolve(t.TempDir(), ""); err == nil {
		t.Fatal("expected error with no file and no env token")
	}
}

func TestResolve_MissingFileWithNamedProfile_Fails(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	if _, err := Resolve(t.TempDir(), "work"); err == nil {
		t.Fatal("expected error when a named profile has no file")
	}
}

func TestResolve_IncompleteAppConfigFails(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	dir := writeCredentials(t, `
default_profile: work
profiles:
  work:
    github_app_client_id: Iv1.abc
`)
	_, err := Resolve(dir, "")
	if err == nil {
		t.Fatal("expected error for incomplete app config")
	}
	if !strings.Contains(err.Error(), "github_app_installation_id") {
		t.Errorf("expected missing fields listed, got %v", err)
	}
}

func TestHasGithubApp(t *testing.T) {
	full := Credentials{
		GithubAppClientID:       "Iv1.abc",
		GithubAppInstallationID: 42,
		GithubAppPrivateKeyPath: "/tmp/key.pem",
	}
	if !full.HasGithubApp() {
		t.Error("expected app auth detected")
	}
	if (Credentials{GithubToken: "ghp_x"}).HasGithubApp() {
		t.Error("expected token-only credentials to not report app auth")
	}
}
