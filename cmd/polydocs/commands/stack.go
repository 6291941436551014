package commands

import (
	"context"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/polydocs/internal/aggregate"
	"git.home.luguber.info/inful/polydocs/internal/compiler"
	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/docgen"
	"git.home.luguber.info/inful/polydocs/internal/forge"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/localize"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
	"git.home.luguber.info/inful/polydocs/internal/queue"
	"git.home.luguber.info/inful/polydocs/internal/retry"
)

// stack holds the long-lived collaborators shared by serve and worker.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	ledger   ledger.Store
	registry *prom.Registry
	recorder *metrics.PrometheusRecorder
}

func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	store, err := ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryLedger, "open build ledger").
			WithContext("driver", cfg.Ledger.Driver).
			Fatal().
			Build()
	}
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	logger.Info("Build ledger ready", slog.String("driver", cfg.Ledger.Driver))
	return &stack{
		cfg:      cfg,
		logger:   logger,
		ledger:   store,
		registry: reg,
		recorder: metrics.NewPrometheusRecorder(reg),
	}, nil
}

// newCompiler wires the build pipeline. Missing GitHub credentials do not
// stop the process; builds fail in their credentials phase instead.
func (s *stack) newCompiler() *compiler.Compiler {
	creds, err := forge.CredentialsFromConfig(s.cfg.GitHub)
	if err != nil {
		s.logger.Warn("GitHub credentials unavailable, builds will fail until configured", logfields.Error(err))
		creds = forge.Unavailable(err)
	}
	p := s.cfg.Pipeline
	agg := aggregate.New(aggregate.Selection{
		MaxFiles:     p.MaxFiles,
		Extensions:   p.Extensions,
		ExcludedDirs: p.ExcludedDirs,
	}, s.logger)
	gen := docgen.NewClient(s.cfg.Gemini.BaseURL, s.cfg.Gemini.APIKey, s.cfg.Gemini.Model, s.cfg.Gemini.Timeout)
	loc := localize.NewClient(s.cfg.Lingo.BaseURL, s.cfg.Lingo.APIKey, s.cfg.Lingo.Timeout)

	return compiler.New(s.ledger, creds, agg, gen, loc,
		compiler.Locales{Source: p.SourceLocale, Targets: p.TargetLocales},
		compiler.WithRecorder(s.recorder),
		compiler.WithLogger(s.logger))
}

// startQueue starts the configured dispatcher. With consume set, jobs are also
// executed in this process. The returned stop function drains what it owns.
func (s *stack) startQueue(ctx context.Context, runner queue.Runner, consume bool) (queue.Dispatcher, func(context.Context) error, error) {
	q := s.cfg.Queue
	if q.Driver != config.QueueNATS {
		pool := queue.NewPool(runner, q.Workers, q.Capacity,
			queue.WithPoolRecorder(s.recorder),
			queue.WithPoolLogger(s.logger))
		pool.Start(ctx)
		return pool, pool.Stop, nil
	}

	js, err := queue.ConnectJetStream(ctx, q.NATS, s.logger)
	if err != nil {
		return nil, nil, err
	}
	if !consume {
		return js, func(context.Context) error {
			js.Close()
			return nil
		}, nil
	}
	consumer, err := js.Consume(ctx, runner, q.Workers, retry.FromConfig(q.Retry))
	if err != nil {
		js.Close()
		return nil, nil, err
	}
	return js, func(stopCtx context.Context) error {
		err := consumer.Stop(stopCtx)
		js.Close()
		return err
	}, nil
}

func (s *stack) Close() {
	if err := s.ledger.Close(); err != nil {
		s.logger.Warn("Failed to close build ledger", logfields.Error(err))
	}
}
