package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/reconcile"
	"git.home.luguber.info/inful/polydocs/internal/server"
	"git.home.luguber.info/inful/polydocs/internal/webhook"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	IngestOnly bool `help:"With the nats queue, publish builds without running them in this process"`
	NoWatch    bool `help:"Do not reload bot filter rules when the configuration file changes"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watchPath := root.configPath()
	if s.NoWatch {
		watchPath = ""
	}
	return RunServe(ctx, cfg, watchPath, s.IngestOnly, g.logger())
}

// RunServe runs the webhook server, the dispatcher and the reconciler until ctx
// is canceled or the HTTP server fails. watchPath, when set, is reloaded on change.
func RunServe(ctx context.Context, cfg *config.Config, watchPath string, ingestOnly bool, logger *slog.Logger) error {
	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	consume := !(ingestOnly && cfg.Queue.Driver == config.QueueNATS)
	dispatcher, stopQueue, err := st.startQueue(ctx, st.newCompiler(), consume)
	if err != nil {
		return err
	}

	filter := botfilter.New(cfg.BotFilter.Rules)
	intakeOpts := []webhook.Option{webhook.WithRecorder(st.recorder), webhook.WithLogger(logger)}
	if cfg.GitHub.AppMode() {
		intakeOpts = append(intakeOpts, webhook.RequireInstallation())
	}
	if cfg.GitHub.WebhookSecret == "" {
		logger.Warn("No webhook secret configured, every delivery will be rejected")
	}
	intake := webhook.NewIntake(cfg.GitHub.WebhookSecret, filter, st.ledger, dispatcher, intakeOpts...)

	var rec *reconcile.Reconciler
	if !cfg.Reconcile.Disabled {
		rec, err = reconcile.New(st.ledger, dispatcher, reconcile.Settings{
			Interval:           cfg.Reconcile.Interval,
			StaleBuildingAfter: cfg.Reconcile.StaleBuildingAfter,
			StalePendingAfter:  cfg.Reconcile.StalePendingAfter,
		}, reconcile.WithRecorder(st.recorder), reconcile.WithLogger(logger))
		if err == nil {
			err = rec.Start()
		}
		if err != nil {
			_ = stopQueue(context.Background())
			return fmt.Errorf("start reconciler: %w", err)
		}
	}

	var watcher *config.Watcher
	if watchPath != "" {
		watcher, err = config.NewWatcher(watchPath, 0, func(next *config.Config) {
			filter.SetRules(next.BotFilter.Rules)
			logger.Info("Bot filter rules reloaded", logfields.Count(len(filter.Rules())))
		})
		if err == nil {
			if err = watcher.Start(ctx); err != nil {
				_ = watcher.Stop()
			}
		}
		if err != nil {
			logger.Warn("Configuration watcher disabled", logfields.Error(err))
			watcher = nil
		}
	}

	srv := server.New(cfg.Server, server.Dependencies{
		Intake:   intake,
		Ledger:   st.ledger,
		Gatherer: st.registry,
		Logger:   logger,
	})
	var runErr error
	if runErr = srv.Start(ctx); runErr == nil {
		logger.Info("PolyDocs server started", slog.String("addr", cfg.Server.Addr()), slog.String("queue", cfg.Queue.Driver))
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping server...")
		case err, ok := <-srv.Err():
			if ok && err != nil {
				runErr = fmt.Errorf("http server: %w", err)
			}
		}
	}

	// The parent context is done; give shutdown its own deadline.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", logfields.Error(err))
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("Failed to stop configuration watcher", logfields.Error(err))
		}
	}
	if rec != nil {
		if err := rec.Stop(); err != nil {
			logger.Warn("Failed to stop reconciler", logfields.Error(err))
		}
	}
	if err := stopQueue(stopCtx); err != nil {
		logger.Warn("Build workers did not finish before the shutdown deadline", logfields.Error(err))
	}
	logger.Info("PolyDocs server stopped")
	return runErr
}
