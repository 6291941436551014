package config

import (
	"time"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	QueueMemory    = "memory"
	QueueNATS      = "nats"

	DefaultPort         = 3001
	DefaultWebhookPath  = "/api/webhooks/github"
	DefaultGeminiModel  = "gemini-2.5-flash"
	DefaultGeminiURL    = "https://generativelanguage.googleapis.com"
	DefaultLingoURL     = "https://engine.lingo.dev"
	DefaultSourceLocale = "en"
	DefaultMaxFiles     = 10
)

// DefaultTargetLocales are the locales every build publishes.
func DefaultTargetLocales() []string { return []string{"es", "fr", "ja"} }

// DefaultExtensions are the source file extensions fed to the generator.
func DefaultExtensions() []string {
	return []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".rb", ".rs", ".java", ".md", ".mdx"}
}

// DefaultExcludedDirs are path segments never aggregated.
func DefaultExcludedDirs() []string {
	return []string{"node_modules", "vendor", "dist", "build", ".git"}
}

// ApplyDefaults fills every zero-valued setting.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.WebhookPath == "" {
		s.WebhookPath = DefaultWebhookPath
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 25 << 20
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 2 * time.Minute
	}

	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = DefaultGeminiModel
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = DefaultGeminiURL
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = 60 * time.Second
	}
	if cfg.Lingo.BaseURL == "" {
		cfg.Lingo.BaseURL = DefaultLingoURL
	}
	if cfg.Lingo.Timeout == 0 {
		cfg.Lingo.Timeout = 2 * time.Minute
	}

	p := &cfg.Pipeline
	if p.SourceLocale == "" {
		p.SourceLocale = DefaultSourceLocale
	}
	if p.TargetLocales == nil {
		p.TargetLocales = DefaultTargetLocales()
	}
	if p.MaxFiles == 0 {
		p.MaxFiles = DefaultMaxFiles
	}
	if p.Extensions == nil {
		p.Extensions = DefaultExtensions()
	}
	if p.ExcludedDirs == nil {
		p.ExcludedDirs = DefaultExcludedDirs()
	}

	if cfg.BotFilter.Rules == nil {
		cfg.BotFilter.Rules = botfilter.DefaultRules()
	}

	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = DriverSQLite
	}
	if cfg.Ledger.DSN == "" && cfg.Ledger.Driver == DriverSQLite {
		cfg.Ledger.DSN = "polydocs.db"
	}

	q := &cfg.Queue
	if q.Driver == "" {
		q.Driver = QueueMemory
	}
	if q.Workers == 0 {
		q.Workers = 2
	}
	if q.Capacity == 0 {
		q.Capacity = 100
	}
	if q.Retry.Backoff == "" {
		q.Retry.Backoff = RetryBackoffExponential
	}
	if q.Retry.Initial == 0 {
		q.Retry.Initial = 5 * time.Second
	}
	if q.Retry.Max == 0 {
		q.Retry.Max = 2 * time.Minute
	}
	n := &q.NATS
	if n.URL == "" {
		n.URL = "nats://127.0.0.1:4222"
	}
	if n.Stream == "" {
		n.Stream = "POLYDOCS_BUILDS"
	}
	if n.Subject == "" {
		n.Subject = "polydocs.builds"
	}
	if n.Consumer == "" {
		n.Consumer = "polydocs-compiler"
	}
	if n.AckWait == 0 {
		n.AckWait = 2 * time.Minute
	}
	if n.MaxDeliver == 0 {
		n.MaxDeliver = 5
	}

	r := &cfg.Reconcile
	if r.Interval == 0 {
		r.Interval = 5 * time.Minute
	}
	if r.StaleBuildingAfter == 0 {
		r.StaleBuildingAfter = 30 * time.Minute
	}
	if r.StalePendingAfter == 0 {
		r.StalePendingAfter = 5 * time.Minute
	}
}
