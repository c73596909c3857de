package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/autopilot/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Autopilot.ConfidenceThreshold != 0.7 {
		t.Fatalf("unexpected threshold: %v", cfg.Autopilot.ConfidenceThreshold)
	}
	if !cfg.Autopilot.AutoPublish || !cfg.Autopilot.RequireHumanReview {
		t.Fatalf("auto publish and human review should default on: %+v", cfg.Autopilot)
	}
	if cfg.Autopilot.BranchPrefix != "autopilot/observability" || cfg.Autopilot.DefaultBranch != "main" {
		t.Fatalf("unexpected branch defaults: %+v", cfg.Autopilot)
	}
	if strings.Join(cfg.Autopilot.Labels, ",") != "autopilot,observability" {
		t.Fatalf("unexpected labels: %v", cfg.Autopilot.Labels)
	}
	if cfg.Autopilot.DefaultOwnerTeam != "platform-team" {
		t.Fatalf("unexpected owner team: %s", cfg.Autopilot.DefaultOwnerTeam)
	}
	if cfg.RetryPolicy.MaxRetries != 3 || cfg.RetryPolicy.InitialBackoff != 2*time.Second {
		t.Fatalf("unexpected retry policy: %+v", cfg.RetryPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	t.Setenv("HOME", home)

	userCfgDir := filepath.Join(home, ".autopilot")
	if err := os.MkdirAll(userCfgDir, 0o755); err != nil {
		t.Fatalf("mkdir user config: %v", err)
	}
	userCfg := `
autopilot:
  branch_prefix: user/prefix
  default_owner_team: user-team
retry_policy:
  max_retries: 5
`
	if err := os.WriteFile(filepath.Join(userCfgDir, "config.yaml"), []byte(userCfg), 0o644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	projectCfgDir := filepath.Join(project, ".autopilot")
	if err := os.MkdirAll(projectCfgDir, 0o755); err != nil {
		t.Fatalf("mkdir project config: %v", err)
	}
	projectCfg := `
autopilot:
  branch_prefix: project/prefix
  confidence_threshold: 0.8
  labels: [obs]
retry_policy:
  initial_backoff: 500ms
`
	if err := os.WriteFile(filepath.Join(projectCfgDir, "config.yaml"), []byte(projectCfg), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	chdir(t, project)
	t.Setenv("AUTOPILOT_OWNER_TEAM", "env-team")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Autopilot.BranchPrefix != "project/prefix" {
		t.Fatalf("expected project branch prefix, got %s", cfg.Autopilot.BranchPrefix)
	}
	if cfg.Autopilot.DefaultOwnerTeam != "env-team" {
		t.Fatalf("expected env owner team, got %s", cfg.Autopilot.DefaultOwnerTeam)
	}
	if cfg.Autopilot.ConfidenceThreshold != 0.8 {
		t.Fatalf("expected project threshold, got %v", cfg.Autopilot.ConfidenceThreshold)
	}
	if strings.Join(cfg.Autopilot.Labels, ",") != "obs" {
		t.Fatalf("expected labels replaced, got %v", cfg.Autopilot.Labels)
	}
	if cfg.RetryPolicy.MaxRetries != 5 {
		t.Fatalf("expected user max retries, got %d", cfg.RetryPolicy.MaxRetries)
	}
	if cfg.RetryPolicy.InitialBackoff != 500*time.Millisecond {
		t.Fatalf("expected project initial backoff, got %v", cfg.RetryPolicy.InitialBackoff)
	}
	if !cfg.Autopilot.AutoPublish {
		t.Fatalf("auto_publish should keep its default when not set")
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	body := `
vcs:
  backend: gitlab
  gitlab:
    api_url: https://gitlab.internal/api/v4
autopilot:
  auto_publish: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.VCS.Backend != config.BackendGitLab {
		t.Fatalf("expected gitlab backend, got %s", cfg.VCS.Backend)
	}
	if cfg.VCS.GitLab.APIURL != "https://gitlab.internal/api/v4" {
		t.Fatalf("unexpected gitlab url %s", cfg.VCS.GitLab.APIURL)
	}
	if cfg.Autopilot.AutoPublish {
		t.Fatalf("expected auto_publish=false")
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := config.LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	project := t.TempDir()
	chdir(t, project)

	// Registered so the variable is restored after godotenv sets it.
	t.Setenv("AUTOPILOT_BRANCH_PREFIX", "")
	os.Unsetenv("AUTOPILOT_BRANCH_PREFIX")

	if err := os.WriteFile(filepath.Join(project, ".env"), []byte("AUTOPILOT_BRANCH_PREFIX=dotenv/prefix\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Autopilot.BranchPrefix != "dotenv/prefix" {
		t.Fatalf("expected .env branch prefix, got %s", cfg.Autopilot.BranchPrefix)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"threshold above one", func(c *config.Config) { c.Autopilot.ConfidenceThreshold = 1.5 }},
		{"negative threshold", func(c *config.Config) { c.Autopilot.ConfidenceThreshold = -0.1 }},
		{"empty branch", func(c *config.Config) { c.Autopilot.DefaultBranch = " " }},
		{"empty prefix", func(c *config.Config) { c.Autopilot.BranchPrefix = "" }},
		{"unknown backend", func(c *config.Config) { c.VCS.Backend = "svn" }},
		{"zero cache", func(c *config.Config) { c.Templates.CacheSize = 0 }},
		{"negative retries", func(c *config.Config) { c.RetryPolicy.MaxRetries = -1 }},
		{"low multiplier", func(c *config.Config) { c.RetryPolicy.Multiplier = 0.5 }},
		{"s3 without bucket", func(c *config.Config) { c.Artifacts.S3.Endpoint = "minio:9000" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidationWarnings(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	cfg := config.DefaultConfig()

	warnings := cfg.ValidationWarnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "GitHub backend") {
		t.Fatalf("expected missing credential warning, got %v", warnings)
	}

	cfg.VCS.GitHub.Token = "ghp_inline"
	warnings = cfg.ValidationWarnings()
	if len(warnings) != 1 || !strings.HasPrefix(warnings[0], "SECURITY:") {
		t.Fatalf("expected inline token warning, got %v", warnings)
	}
}

func TestGitHubUsesApp(t *testing.T) {
	gh := config.GitHubConfig{AppID: 1, InstallationID: 2}
	if gh.UsesApp() {
		t.Fatalf("app auth needs a private key path")
	}
	gh.PrivateKeyPath = "/keys/app.pem"
	if !gh.UsesApp() {
		t.Fatalf("expected app auth to be configured")
	}
}
