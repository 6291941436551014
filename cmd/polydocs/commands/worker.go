package commands

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
)

// ErrWorkerNeedsNATS is returned when 'worker' runs against the in-process queue.
var ErrWorkerNeedsNATS = errors.ConfigError("the worker command requires queue.driver: nats").Build()

// WorkerCmd implements the 'worker' command.
type WorkerCmd struct {
	MetricsAddr string `help:"Serve Prometheus metrics on this address, e.g. :9090"`
}

func (w *WorkerCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunWorker(ctx, cfg, w.MetricsAddr, g.logger())
}

// RunWorker consumes JetStream build jobs until ctx is canceled.
func RunWorker(ctx context.Context, cfg *config.Config, metricsAddr string, logger *slog.Logger) error {
	if cfg.Queue.Driver != config.QueueNATS {
		return ErrWorkerNeedsNATS
	}
	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	_, stopQueue, err := st.startQueue(ctx, st.newCompiler(), true)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if metricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.HTTPHandler(st.registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", logfields.Error(err))
			}
		}()
	}

	logger.Info("Worker started, waiting for shutdown signal...", slog.Int("workers", cfg.Queue.Workers))
	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	if err := stopQueue(stopCtx); err != nil {
		return errors.WrapError(err, errors.CategoryQueue, "worker did not drain before the shutdown deadline").Build()
	}
	logger.Info("Worker stopped")
	return nil
}
