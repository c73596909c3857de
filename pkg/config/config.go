package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/odvcencio/autopilot/pkg/giturl"
)

// Config is the complete autopilot configuration.
type Config struct {
	Autopilot   AutopilotConfig `yaml:"autopilot"`
	Templates   TemplatesConfig `yaml:"templates"`
	VCS         VCSConfig       `yaml:"vcs"`
	RetryPolicy RetryPolicy     `yaml:"retry_policy"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Artifacts   ArtifactsConfig `yaml:"artifacts"`
	Events      EventsConfig    `yaml:"events"`
	History     HistoryConfig   `yaml:"history"`
	Server      ServerConfig    `yaml:"server"`
}

// AutopilotConfig controls gating and change-request shape.
type AutopilotConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	AutoPublish         bool     `yaml:"auto_publish"`
	RequireHumanReview  bool     `yaml:"require_human_review"`
	Draft               bool     `yaml:"draft"`
	DefaultBranch       string   `yaml:"default_branch"`
	BranchPrefix        string   `yaml:"branch_prefix"`
	Labels              []string `yaml:"labels"`
	DefaultOwnerTeam    string   `yaml:"default_owner_team"`
}

// TemplatesConfig points at the template library. An empty path selects the
// embedded library.
type TemplatesConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

// VCSConfig selects and configures the version-control backend.
type VCSConfig struct {
	Backend    string        `yaml:"backend"`
	Timeout    time.Duration `yaml:"timeout"`
	GitHub     GitHubConfig  `yaml:"github"`
	GitLab     GitLabConfig  `yaml:"gitlab"`
	Local      LocalConfig   `yaml:"local"`
	RepoPolicy giturl.Policy `yaml:"repo_policy"`
}

// GitHubConfig holds GitHub REST settings. Either Token or the App triple is used.
type GitHubConfig struct {
	APIURL         string `yaml:"api_url"`
	Token          string `yaml:"token"`
	AppID          int64  `yaml:"app_id"`
	InstallationID int64  `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// UsesApp reports whether GitHub App authentication is configured.
func (g GitHubConfig) UsesApp() bool {
	return g.AppID != 0 && g.InstallationID != 0 && strings.TrimSpace(g.PrivateKeyPath) != ""
}

// GitLabConfig holds GitLab REST settings.
type GitLabConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// LocalConfig configures the go-git backend that works against a local clone.
type LocalConfig struct {
	RepoPath    string `yaml:"repo_path"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// RetryPolicy defines retry behavior for transient gateway errors
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// RateLimitConfig bounds outbound gateway request rate.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"`
	Outputs []string `yaml:"outputs"`
}

// TelemetryConfig configures tracing and metric export.
type TelemetryConfig struct {
	ServiceName     string `yaml:"service_name"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// ArtifactsConfig controls where dry-run artifacts are written.
type ArtifactsConfig struct {
	OutputDir string   `yaml:"output_dir"`
	S3        S3Config `yaml:"s3"`
}

// S3Config configures the S3-compatible artifact sink.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether enough S3 settings exist to build a sink.
func (s S3Config) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != "" && strings.TrimSpace(s.Bucket) != ""
}

// EventsConfig configures run-outcome publication.
type EventsConfig struct {
	NATSURL       string        `yaml:"nats_url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

// HistoryConfig configures the SQLite run ledger.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the HTTP intake server.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

const (
	BackendGitHub = "github"
	BackendGitLab = "gitlab"
	BackendLocal  = "local"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Autopilot: AutopilotConfig{
			ConfidenceThreshold: 0.7,
			AutoPublish:         true,
			RequireHumanReview:  true,
			DefaultBranch:       "main",
			BranchPrefix:        "autopilot/observability",
			Labels:              []string{"autopilot", "observability"},
			DefaultOwnerTeam:    "platform-team",
		},
		Templates: TemplatesConfig{
			CacheSize: 128,
		},
		VCS: VCSConfig{
			Backend: BackendGitHub,
			Timeout: 30 * time.Second,
			GitHub: GitHubConfig{
				APIURL: "https://api.github.com",
			},
			GitLab: GitLabConfig{
				APIURL: "https://gitlab.com/api/v4",
			},
			Local: LocalConfig{
				AuthorName:  "Instrumentation Autopilot",
				AuthorEmail: "autopilot@localhost",
			},
			RepoPolicy: giturl.Policy{
				AllowedSchemes: []string{"https", "ssh", "file"},
			},
		},
		RetryPolicy: RetryPolicy{
			MaxRetries:     3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     60 * time.Second,
			Multiplier:     2.0,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "autopilot",
		},
		Events: EventsConfig{
			SubjectPrefix: "autopilot.runs",
			Timeout:       5 * time.Second,
		},
		History: HistoryConfig{
			Path: filepath.Join("~", ".autopilot", "history.db"),
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8085",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			MaxBodyBytes: 4 << 20,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.autopilot/config.yaml, ./.autopilot/config.yaml, environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	loadDotEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".autopilot", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".autopilot", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	loadDotEnv()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadDotEnv reads ./.env and ~/.autopilot/config.env into the process
// environment without overriding variables that are already set.
func loadDotEnv() {
	candidates := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".autopilot", "config.env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AUTOPILOT_CONFIDENCE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Autopilot.ConfidenceThreshold = f
		}
	}
	if val, ok := envBool("AUTOPILOT_AUTO_PUBLISH"); ok {
		cfg.Autopilot.AutoPublish = val
	}
	if val, ok := envBool("AUTOPILOT_REQUIRE_HUMAN_REVIEW"); ok {
		cfg.Autopilot.RequireHumanReview = val
	}
	if val, ok := envBool("AUTOPILOT_DRAFT"); ok {
		cfg.Autopilot.Draft = val
	}
	if v := os.Getenv("AUTOPILOT_DEFAULT_BRANCH"); v != "" {
		cfg.Autopilot.DefaultBranch = v
	}
	if v := os.Getenv("AUTOPILOT_BRANCH_PREFIX"); v != "" {
		cfg.Autopilot.BranchPrefix = v
	}
	if v := os.Getenv("AUTOPILOT_LABELS"); v != "" {
		cfg.Autopilot.Labels = splitCommaList(v)
	}
	if v := os.Getenv("AUTOPILOT_OWNER_TEAM"); v != "" {
		cfg.Autopilot.DefaultOwnerTeam = v
	}
	if v := os.Getenv("AUTOPILOT_TEMPLATES_PATH"); v != "" {
		cfg.Templates.Path = v
	}
	if v := os.Getenv("AUTOPILOT_VCS"); v != "" {
		cfg.VCS.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("AUTOPILOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTOPILOT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("AUTOPILOT_OUTPUT_DIR"); v != "" {
		cfg.Artifacts.OutputDir = v
	}
	if v := os.Getenv("AUTOPILOT_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
		cfg.History.Enabled = true
	}
	if v := os.Getenv("AUTOPILOT_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("AUTOPILOT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	// Provider credentials
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.VCS.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_API_URL"); v != "" {
		cfg.VCS.GitHub.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GITHUB_APP_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.VCS.GitHub.AppID = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GITHUB_INSTALLATION_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.VCS.GitHub.InstallationID = n
		}
	}
	if v := os.Getenv("GITHUB_APP_PRIVATE_KEY_PATH"); v != "" {
		cfg.VCS.GitHub.PrivateKeyPath = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.VCS.GitLab.Token = v
	}
	if v := os.Getenv("GITLAB_API_URL"); v != "" {
		cfg.VCS.GitLab.APIURL = v
	}

	// Artifact sink
	if v := os.Getenv("ARTIFACT_S3_ENDPOINT"); v != "" {
		cfg.Artifacts.S3.Endpoint = v
	}
	if v := os.Getenv("ARTIFACT_S3_BUCKET"); v != "" {
		cfg.Artifacts.S3.Bucket = v
	}
	if v := os.Getenv("ARTIFACT_S3_PREFIX"); v != "" {
		cfg.Artifacts.S3.Prefix = v
	}
	if v := os.Getenv("ARTIFACT_S3_ACCESS_KEY"); v != "" {
		cfg.Artifacts.S3.AccessKey = v
	}
	if v := os.Getenv("ARTIFACT_S3_SECRET_KEY"); v != "" {
		cfg.Artifacts.S3.SecretKey = v
	}
	if val, ok := envBool("ARTIFACT_S3_USE_SSL"); ok {
		cfg.Artifacts.S3.UseSSL = val
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Autopilot.ConfidenceThreshold < 0 || c.Autopilot.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %v", c.Autopilot.ConfidenceThreshold)
	}
	if strings.TrimSpace(c.Autopilot.DefaultBranch) == "" {
		return fmt.Errorf("default_branch is required")
	}
	if strings.TrimSpace(c.Autopilot.BranchPrefix) == "" {
		return fmt.Errorf("branch_prefix is required")
	}

	switch c.VCS.Backend {
	case BackendGitHub, BackendGitLab, BackendLocal:
	default:
		return fmt.Errorf("invalid vcs backend: %s (valid: github, gitlab, local)", c.VCS.Backend)
	}

	if c.Templates.CacheSize <= 0 {
		return fmt.Errorf("templates.cache_size must be positive")
	}

	if c.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("retry_policy.max_retries must be non-negative")
	}
	if c.RetryPolicy.InitialBackoff < 0 || c.RetryPolicy.MaxBackoff < 0 {
		return fmt.Errorf("retry_policy backoffs must be non-negative")
	}
	if c.RetryPolicy.Multiplier < 1 {
		return fmt.Errorf("retry_policy.multiplier must be >= 1")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be non-negative")
	}

	if c.Artifacts.S3.Endpoint != "" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required when an endpoint is set")
	}
	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	var warnings []string

	if c.VCS.GitHub.Token != "" && os.Getenv("GITHUB_TOKEN") == "" {
		warnings = append(warnings, "SECURITY: GitHub token is stored in config file. Consider using GITHUB_TOKEN environment variable instead.")
	}
	if c.VCS.GitLab.Token != "" && os.Getenv("GITLAB_TOKEN") == "" {
		warnings = append(warnings, "SECURITY: GitLab token is stored in config file. Consider using GITLAB_TOKEN environment variable instead.")
	}
	if c.Artifacts.S3.SecretKey != "" && os.Getenv("ARTIFACT_S3_SECRET_KEY") == "" {
		warnings = append(warnings, "SECURITY: S3 secret key is stored in config file. Consider using ARTIFACT_S3_SECRET_KEY environment variable instead.")
	}

	switch c.VCS.Backend {
	case BackendGitHub:
		if c.VCS.GitHub.Token == "" && !c.VCS.GitHub.UsesApp() {
			warnings = append(warnings, "GitHub backend selected but neither GITHUB_TOKEN nor GitHub App credentials are configured; publishing will fail.")
		}
	case BackendGitLab:
		if c.VCS.GitLab.Token == "" {
			warnings = append(warnings, "GitLab backend selected but GITLAB_TOKEN is not configured; publishing will fail.")
		}
	}

	if !c.Autopilot.RequireHumanReview && c.Autopilot.AutoPublish {
		warnings = append(warnings, "Change requests will be opened without requesting code-owner review.")
	}
	return warnings
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	return expandHomeDir(path)
}
