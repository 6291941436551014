// Package reconcile periodically repairs builds left behind by crashes and
// lost dispatches.
package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
	"git.home.luguber.info/inful/polydocs/internal/queue"
)

// InterruptedLog is stored on builds failed by the sweep.
const InterruptedLog = "build interrupted before completion"

// Store is the part of the ledger the sweep reads and mutates.
type Store interface {
	ListStale(ctx context.Context, status ledger.Status, olderThan time.Time) ([]ledger.BuildRecord, error)
	Transition(ctx context.Context, id string, to ledger.Status, f ledger.TransitionFields) (*ledger.BuildRecord, error)
	AppendEvent(ctx context.Context, buildID string, typ ledger.EventType, payload any) error
}

// Settings are the sweep thresholds.
type Settings struct {
	Interval           time.Duration
	StaleBuildingAfter time.Duration
	StalePendingAfter  time.Duration
}

// Result counts what one sweep did.
type Result struct {
	Failed      int
	Resubmitted int
}

// Reconciler sweeps the ledger on a schedule.
type Reconciler struct {
	store      Store
	dispatcher queue.Dispatcher
	settings   Settings
	scheduler  gocron.Scheduler
	recorder   metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecorder sets the metrics recorder.
func WithRecorder(m metrics.Recorder) Option { return func(r *Reconciler) { r.recorder = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// WithClock overrides the time source used for staleness cutoffs.
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

// New creates a Reconciler. Call Start to schedule sweeps.
func New(store Store, d queue.Dispatcher, settings Settings, opts ...Option) (*Reconciler, error) {
	if settings.Interval <= 0 {
		return nil, fmt.Errorf("reconcile interval must be positive, got %s", settings.Interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	r := &Reconciler{
		store:      store,
		dispatcher: d,
		settings:   settings,
		scheduler:  s,
		recorder:   metrics.NoopRecorder{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start schedules the sweep immediately and then every interval.
// Overlapping runs are skipped.
func (r *Reconciler) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.settings.Interval),
		gocron.NewTask(r.run),
		gocron.WithName("reconcile-builds"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reconcile job: %w", err)
	}
	r.logger.Info("Starting build reconciler", slog.Duration("interval", r.settings.Interval))
	r.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (r *Reconciler) Stop() error {
	r.logger.Info("Stopping build reconciler")
	return r.scheduler.Shutdown()
}

func (r *Reconciler) run() {
	res, err := r.Sweep(context.Background())
	if err != nil {
		r.logger.Error("Build reconcile sweep failed", logfields.Error(err))
		return
	}
	if res.Failed > 0 || res.Resubmitted > 0 {
		r.logger.Info("Build reconcile sweep finished",
			slog.Int("failed", res.Failed), slog.Int("resubmitted", res.Resubmitted))
	}
}

// Sweep fails builds stuck in building and resubmits builds stuck in pending.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := r.now()

	building, err := r.store.ListStale(ctx, ledger.StatusBuilding, now.Add(-r.settings.StaleBuildingAfter))
	if err != nil {
		return res, fmt.Errorf("list stale building builds: %w", err)
	}
	for _, b := range building {
		log := r.logger.With(logfields.BuildID(b.ID), logfields.Repository(b.RepositoryFullName))
		_, err := r.store.Transition(ctx, b.ID, ledger.StatusFailed, ledger.TransitionFields{Logs: InterruptedLog})
		if stderrors.Is(err, ledger.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("fail stale build %s: %w", b.ID, err)
		}
		if err := r.store.AppendEvent(ctx, b.ID, ledger.EventBuildFinished, ledger.FinishedPayload{Status: ledger.StatusFailed}); err != nil {
			log.Warn("Failed to append build event", logfields.Error(err))
		}
		log.Warn("Failed build interrupted before completion", slog.Time("last_update", b.UpdatedAt))
		r.recorder.IncReconciled("failed_stale")
		r.recorder.IncBuildOutcome(string(ledger.StatusFailed))
		res.Failed++
	}

	pending, err := r.store.ListStale(ctx, ledger.StatusPending, now.Add(-r.settings.StalePendingAfter))
	if err != nil {
		return res, fmt.Errorf("list stale pending builds: %w", err)
	}
	for _, b := range pending {
		if err := r.dispatcher.Submit(ctx, queue.JobFromRecord(b)); err != nil {
			r.logger.Warn("Failed to resubmit pending build", logfields.BuildID(b.ID), logfields.Error(err))
			continue
		}
		r.recorder.IncReconciled("resubmitted")
		res.Resubmitted++
	}
	return res, nil
}
