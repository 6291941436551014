package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	foundationerrors "git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

// Validate checks a defaulted configuration. Credentials are not required here:
// the webhook fails closed without a secret and builds fail without GitHub access.
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		validateServer,
		validateLocales,
		validatePipeline,
		validateBotFilter,
		validateLedger,
		validateQueue,
		validateReconcile,
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return foundationerrors.ValidationError(fmt.Sprintf(format, args...)).
		WithContext("field", field).Fatal().Build()
}

func validateServer(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return invalid("server.port", "server.port %d is out of range", cfg.Server.Port)
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		return invalid("server.webhook_path", "server.webhook_path must start with /")
	}
	return nil
}

// validateLocales requires well-formed BCP 47 tags, a non-empty distinct target list
// and no target equal to the source.
func validateLocales(cfg *Config) error {
	p := cfg.Pipeline
	if _, err := language.Parse(p.SourceLocale); err != nil {
		return invalid("pipeline.source_locale", "invalid source locale %q: %v", p.SourceLocale, err)
	}
	if len(p.TargetLocales) == 0 {
		return invalid("pipeline.target_locales", "at least one target locale is required")
	}
	seen := make(map[string]struct{}, len(p.TargetLocales))
	for _, l := range p.TargetLocales {
		if _, err := language.Parse(l); err != nil {
			return invalid("pipeline.target_locales", "invalid target locale %q: %v", l, err)
		}
		if strings.ContainsAny(l, `/\`) {
			return invalid("pipeline.target_locales", "target locale %q cannot contain a path separator", l)
		}
		if strings.EqualFold(l, p.SourceLocale) {
			return invalid("pipeline.target_locales", "target locale %q equals the source locale", l)
		}
		key := strings.ToLower(l)
		if _, dup := seen[key]; dup {
			return invalid("pipeline.target_locales", "duplicate target locale %q", l)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func validatePipeline(cfg *Config) error {
	p := cfg.Pipeline
	if p.MaxFiles < 1 {
		return invalid("pipeline.max_files", "pipeline.max_files must be positive")
	}
	for _, ext := range p.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return invalid("pipeline.extensions", "extension %q must start with a dot", ext)
		}
	}
	return nil
}

func validateBotFilter(cfg *Config) error {
	for i, r := range cfg.BotFilter.Rules {
		if err := r.Validate(); err != nil {
			return invalid(fmt.Sprintf("bot_filter.rules[%d]", i), "%v", err)
		}
	}
	return nil
}

func validateLedger(cfg *Config) error {
	if _, err := ledgerDrivers.Parse(cfg.Ledger.Driver); err != nil {
		return invalid("ledger.driver", "%v", err)
	}
	if cfg.Ledger.DSN == "" {
		return invalid("ledger.dsn", "ledger.dsn is required for the %s driver", cfg.Ledger.Driver)
	}
	return nil
}

func validateQueue(cfg *Config) error {
	q := cfg.Queue
	if _, err := queueDrivers.Parse(q.Driver); err != nil {
		return invalid("queue.driver", "%v", err)
	}
	if q.Workers < 1 {
		return invalid("queue.workers", "queue.workers must be positive")
	}
	if q.Capacity < 1 {
		return invalid("queue.capacity", "queue.capacity must be positive")
	}
	if _, err := backoffModes.Parse(string(q.Retry.Backoff)); err != nil {
		return invalid("queue.retry.backoff", "%v", err)
	}
	if q.Retry.Initial <= 0 || q.Retry.Max < q.Retry.Initial {
		return invalid("queue.retry", "queue.retry.initial must be positive and not exceed queue.retry.max")
	}
	if q.NATS.MaxDeliver < 1 {
		return invalid("queue.nats.max_deliver", "queue.nats.max_deliver must be positive")
	}
	return nil
}

func validateReconcile(cfg *Config) error {
	r := cfg.Reconcile
	if r.Interval <= 0 || r.StaleBuildingAfter <= 0 || r.StalePendingAfter <= 0 {
		return invalid("reconcile", "reconcile durations must be positive")
	}
	return nil
}
