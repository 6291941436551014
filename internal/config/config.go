package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
	foundationerrors "git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

// Config is the complete polydocs configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GitHub    GitHubConfig    `yaml:"github"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Lingo     LingoConfig     `yaml:"lingo"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	BotFilter BotFilterConfig `yaml:"bot_filter"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Queue     QueueConfig     `yaml:"queue"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	WebhookPath     string        `yaml:"webhook_path"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GitHubConfig holds App or token credentials and the webhook secret.
// App mode is selected when AppID is set, token mode otherwise.
type GitHubConfig struct {
	AppID          int64  `yaml:"app_id"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	Token          string `yaml:"token"`
	WebhookSecret  string `yaml:"webhook_secret"`
	APIBaseURL     string `yaml:"api_base_url"`
}

// GeminiConfig configures the documentation generator.
type GeminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LingoConfig configures the localization engine.
type LingoConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig controls file selection and output locales.
type PipelineConfig struct {
	SourceLocale  string   `yaml:"source_locale"`
	TargetLocales []string `yaml:"target_locales"`
	MaxFiles      int      `yaml:"max_files"`
	Extensions    []string `yaml:"extensions"`
	ExcludedDirs  []string `yaml:"excluded_dirs"`
}

// BotFilterConfig lists the loop-prevention rules.
type BotFilterConfig struct {
	Rules []botfilter.Rule `yaml:"rules"`
}

// LedgerConfig selects the build ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// QueueConfig selects where compiler jobs run.
type QueueConfig struct {
	Driver   string      `yaml:"driver"` // "memory" or "nats"
	Workers  int         `yaml:"workers"`
	Capacity int         `yaml:"capacity"`
	Retry    RetryConfig `yaml:"retry"`
	NATS     NATSConfig  `yaml:"nats"`
}

// RetryBackoffMode selects how redelivery delays grow.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig controls the delay before a job that could not start is redelivered.
type RetryConfig struct {
	Backoff RetryBackoffMode `yaml:"backoff"`
	Initial time.Duration    `yaml:"initial"`
	Max     time.Duration    `yaml:"max"`
}

// NATSConfig configures the JetStream work queue.
type NATSConfig struct {
	URL        string        `yaml:"url"`
	Stream     string        `yaml:"stream"`
	Subject    string        `yaml:"subject"`
	Consumer   string        `yaml:"consumer"`
	AckWait    time.Duration `yaml:"ack_wait"`
	MaxDeliver int           `yaml:"max_deliver"`
}

// ReconcileConfig controls the stale build sweep.
type ReconcileConfig struct {
	Disabled           bool          `yaml:"disabled"`
	Interval           time.Duration `yaml:"interval"`
	StaleBuildingAfter time.Duration `yaml:"stale_building_after"`
	StalePendingAfter  time.Duration `yaml:"stale_pending_after"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// AppMode reports whether GitHub App credentials are configured.
func (g GitHubConfig) AppMode() bool {
	return g.AppID != 0
}

// Load reads .env files, then the YAML file at path (when path is non-empty)
// with ${VAR} expansion, applies environment fallbacks and defaults, and validates.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "read configuration file").
				WithContext("path", path).Fatal().Build()
		}
		if err := Parse(data, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	Normalize(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse expands environment references in data and decodes it into cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "parse configuration").Fatal().Build()
	}
	return nil
}

// loadEnvFiles loads .env and .env.local when present. Existing process
// variables are never overwritten.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "Note: could not load %s: %v\n", name, err)
		}
	}
}

// applyEnv fills fields left empty by the file from the deployment variables.
func applyEnv(cfg *Config) error {
	if cfg.GitHub.AppID == 0 {
		if v := os.Getenv("GITHUB_APP_ID"); v != "" {
			id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return foundationerrors.ValidationError("GITHUB_APP_ID must be an integer").
					WithCause(err).Fatal().Build()
			}
			cfg.GitHub.AppID = id
		}
	}
	setIfEmpty(&cfg.GitHub.PrivateKey, "GITHUB_PRIVATE_KEY")
	setIfEmpty(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setIfEmpty(&cfg.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	setIfEmpty(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setIfEmpty(&cfg.Lingo.APIKey, "LINGO_API_KEY")
	setIfEmpty(&cfg.Queue.NATS.URL, "NATS_URL")

	if cfg.Ledger.DSN == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			cfg.Ledger.DSN = v
			if cfg.Ledger.Driver == "" && isPostgresURL(v) {
				cfg.Ledger.Driver = DriverPostgres
			}
		}
	}

	if cfg.Server.Port == 0 {
		if v := os.Getenv("PORT"); v != "" {
			port, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return foundationerrors.ValidationError("PORT must be an integer").
					WithCause(err).Fatal().Build()
			}
			cfg.Server.Port = port
		}
	}
	return nil
}

func setIfEmpty(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

func isPostgresURL(v string) bool {
	return strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://")
}
