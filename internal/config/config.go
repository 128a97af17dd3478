package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect
	// import behavior, keep the CLI flags in internal/cli/import.go in sync.
	Source  Source  `yaml:"source"`
	Target  Target  `yaml:"target"`
	Cache   Cache   `yaml:"cache"`
	Runtime Runtime `yaml:"runtime"`
	Output  Output  `yaml:"output"`
}

type Source struct {
	// Repository is the source repository as OWNER/REPO (name or URL; see
	// --repo).
	Repository string `yaml:"repository" envconfig:"REPOSITORY"`

	// Token authenticates against the source API. Usually left empty here
	// and resolved from GITHUB_TOKEN or the gh CLI at startup.
	Token string `yaml:"-" envconfig:"TOKEN"`

	// BaseURL points at a GitHub Enterprise instance. Empty means
	// github.com. Enterprise imports skip external-id identity lookups;
	// their id namespace differs from the target's identity records.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`

	// CloneDir is a local working tree of the source repository. When set,
	// it is scanned for git-lfs pointers so LFS objects import too.
	CloneDir string `yaml:"clone_dir" envconfig:"CLONE_DIR"`
}

type Target struct {
	// ProjectID is the internal project receiving the import.
	ProjectID int64 `yaml:"project_id" envconfig:"PROJECT_ID"`

	// NamespaceID scopes placeholder references for reconciliation.
	NamespaceID int64 `yaml:"namespace_id" envconfig:"NAMESPACE_ID"`

	// CreatorID is the fallback author when identity mapping fails and
	// placeholder mapping is off.
	CreatorID int64 `yaml:"creator_id" envconfig:"CREATOR_ID"`

	// GhostUserID absorbs authorless objects (the source reports no actor
	// for them at all).
	GhostUserID int64 `yaml:"ghost_user_id" envconfig:"GHOST_USER_ID"`

	// PostgresDSN connects the datastore. Empty runs against the in-memory
	// store, useful for dry runs.
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`

	// UploadsDir is where rewritten attachments are stored. Empty disables
	// attachment rewriting.
	UploadsDir string `yaml:"uploads_dir" envconfig:"UPLOADS_DIR"`

	// BaseURL is the target instance's browse URL base for the imported
	// project, used when rewriting same-project blob links and building
	// upload URLs.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

type Cache struct {
	// RedisAddr points the shared keyspace at Redis (host:port). Empty
	// keeps cursors and dedup sets in process; such a run cannot resume
	// after a crash.
	RedisAddr string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`

	// Prefix namespaces every key, letting several imports share one
	// Redis.
	Prefix string `yaml:"prefix" envconfig:"PREFIX"`
}

type Runtime struct {
	// Parallel fans high-volume kinds out to the worker pool (see
	// --parallel).
	Parallel bool `yaml:"parallel" envconfig:"PARALLEL"`

	// Workers sizes the worker pool in parallel mode. Must be >= 1.
	Workers int `yaml:"workers" envconfig:"WORKERS"`

	// Stagger spaces fanned-out jobs within one page to soften secondary
	// rate limits.
	Stagger time.Duration `yaml:"stagger" envconfig:"STAGGER"`

	// WaitTimeout bounds each fan-out join. Must be > 0.
	WaitTimeout time.Duration `yaml:"wait_timeout" envconfig:"WAIT_TIMEOUT"`

	// Timeout is the global deadline for the run. Must be > 0.
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`

	// Verbose prints every source API call and full error details.
	Verbose bool `yaml:"verbose" envconfig:"VERBOSE"`
}

type Output struct {
	// ConsoleFormat controls the progress sink (see --console-format).
	// Allowed values: text, ndjson.
	ConsoleFormat string `yaml:"console_format" envconfig:"CONSOLE_FORMAT"`

	// MetricsAddr exposes Prometheus metrics over HTTP when set
	// (host:port).
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

func New() *Config {
	return &Config{
		Target: Target{
			GhostUserID: 1,
		},
		Runtime: Runtime{
			Workers:     5,
			Stagger:     time.Second,
			WaitTimeout: 30 * time.Minute,
			Timeout:     6 * time.Hour,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
	}
}

// Load reads an optional YAML file over the defaults and then applies
// REPOPORT_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process("repoport", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Source.Repository != "" {
		owner, repo, err := normalizeRepositorySelector(c.Source.Repository)
		if err != nil {
			return fmt.Errorf("invalid --repo value: %w", err)
		}
		c.Source.Repository = owner + "/" + repo
	}
	if c.Source.Repository == "" {
		return errors.New("--repo must be provided as OWNER/REPO")
	}

	if c.Target.ProjectID <= 0 {
		return errors.New("--project-id must be >= 1")
	}
	if c.Target.CreatorID <= 0 {
		return errors.New("--creator-id must be >= 1")
	}
	if c.Target.GhostUserID <= 0 {
		return errors.New("--ghost-user-id must be >= 1")
	}

	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		c.Output.ConsoleFormat = "text"
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, ndjson)", c.Output.ConsoleFormat)
	}

	if c.Runtime.Workers <= 0 {
		return errors.New("--workers must be >= 1")
	}
	if c.Runtime.Stagger < 0 {
		return errors.New("--stagger must be >= 0")
	}
	if c.Runtime.WaitTimeout <= 0 {
		return errors.New("--wait-timeout must be > 0")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	// Rewriting needs both halves: somewhere to put files and a URL base to
	// point links at.
	if (c.Target.UploadsDir == "") != (c.Target.BaseURL == "") {
		return errors.New("--uploads-dir and --target-base must be set together")
	}

	return nil
}

// Owner and Repo split the validated repository selector.
func (c *Config) Owner() string {
	owner, _, _ := strings.Cut(c.Source.Repository, "/")
	return owner
}

func (c *Config) Repo() string {
	_, repo, _ := strings.Cut(c.Source.Repository, "/")
	return repo
}

// Enterprise reports whether the source is a GitHub Enterprise instance.
func (c *Config) Enterprise() bool {
	return c.Source.BaseURL != ""
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeRepositorySelector accepts OWNER/REPO, or a GitHub URL like:
//
//	https://github.com/<owner>/<repo>
//	github.com/<owner>/<repo>
func normalizeRepositorySelector(raw string) (owner, repo string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%q", raw)
	}

	if strings.HasPrefix(raw, "github.com/") || strings.HasPrefix(raw, "www.github.com/") {
		raw = "https://" + raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("%q", raw)
		}
		parts := strings.FieldsFunc(strings.Trim(u.Path, "/"), func(r rune) bool { return r == '/' })
		if len(parts) < 2 {
			return "", "", fmt.Errorf("%q", raw)
		}
		return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
	}

	parts := strings.Split(raw, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%q (expected OWNER/REPO)", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
