// Package compiler runs one build: it claims the build record, turns the
// pushed commit into a localized documentation pull request and records the
// outcome.
package compiler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/polydocs/internal/aggregate"
	"git.home.luguber.info/inful/polydocs/internal/docgen"
	"git.home.luguber.info/inful/polydocs/internal/forge"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/localize"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
	"git.home.luguber.info/inful/polydocs/internal/publish"
	"git.home.luguber.info/inful/polydocs/internal/queue"
)

// Phase names, as written into failure logs and metrics.
const (
	PhaseCredentials = "credentials"
	PhaseAggregate   = "aggregate"
	PhaseGenerate    = "generate"
	PhaseLocalize    = "localize"
	PhasePublish     = "publish"
)

// SuccessLog is stored on successful builds.
const SuccessLog = "Documentation generated and localized PR created successfully."

// Ledger is the part of the build ledger the compiler mutates.
type Ledger interface {
	Transition(ctx context.Context, id string, to ledger.Status, f ledger.TransitionFields) (*ledger.BuildRecord, error)
	AppendEvent(ctx context.Context, buildID string, typ ledger.EventType, payload any) error
}

// Locales are the languages a build produces.
type Locales struct {
	Source  string
	Targets []string
}

// Compiler executes jobs. It implements queue.Runner.
type Compiler struct {
	ledger     Ledger
	creds      forge.Credentials
	aggregator *aggregate.Aggregator
	generator  docgen.Generator
	localizer  localize.Localizer
	publisher  *publish.Publisher
	locales    Locales
	recorder   metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

var _ queue.Runner = (*Compiler)(nil)

// Option configures a Compiler.
type Option func(*Compiler)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(c *Compiler) { c.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Compiler) { c.logger = l } }

// WithPublisher overrides the publisher, e.g. to pin branch names in tests.
func WithPublisher(p *publish.Publisher) Option { return func(c *Compiler) { c.publisher = p } }

// New wires a Compiler from its collaborators.
func New(l Ledger, creds forge.Credentials, agg *aggregate.Aggregator, gen docgen.Generator, loc localize.Localizer, locales Locales, opts ...Option) *Compiler {
	c := &Compiler{
		ledger:     l,
		creds:      creds,
		aggregator: agg,
		generator:  gen,
		localizer:  loc,
		publisher:  publish.New(),
		locales:    locales,
		recorder:   metrics.NoopRecorder{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes job to a terminal status. It returns an error only when the
// build could not be claimed because the ledger was unavailable; a build that
// is no longer pending is skipped, and phase failures are recorded on the
// build rather than returned.
func (c *Compiler) Run(ctx context.Context, job queue.Job) error {
	ctx = context.WithoutCancel(ctx)
	log := c.logger.With(logfields.BuildID(job.BuildID), logfields.Repository(job.RepositoryFullName))

	rec, err := c.ledger.Transition(ctx, job.BuildID, ledger.StatusBuilding, ledger.TransitionFields{})
	switch {
	case stderrors.Is(err, ledger.ErrInvalidTransition):
		status := ""
		if rec != nil {
			status = string(rec.Status)
		}
		log.Debug("Skipping job for build that is no longer pending", logfields.BuildStatus(status))
		return nil
	case stderrors.Is(err, ledger.ErrNotFound):
		log.Warn("Skipping job for unknown build")
		return nil
	case err != nil:
		return fmt.Errorf("claim build %s: %w", job.BuildID, err)
	}

	started := c.now()
	log = log.With(logfields.Commit(rec.CommitSHA), logfields.Branch(rec.Branch))
	log.Info("Build started")

	res, phase, err := c.execute(ctx, rec, log)
	c.recorder.ObserveBuildDuration(c.now().Sub(started))
	if err != nil {
		c.fail(ctx, rec, phase, err, log)
		return nil
	}
	c.succeed(ctx, rec, res, log)
	return nil
}

func (c *Compiler) execute(ctx context.Context, rec *ledger.BuildRecord, log *slog.Logger) (*publish.Result, string, error) {
	repo := forge.Repo{Owner: rec.Owner(), Name: rec.Repo()}

	var client *forge.Client
	if err := c.phase(ctx, rec.ID, PhaseCredentials, log, func() (err error) {
		client, err = c.creds.ClientFor(ctx, rec.InstallationID)
		return err
	}); err != nil {
		return nil, PhaseCredentials, err
	}

	var snap *aggregate.Snapshot
	if err := c.phase(ctx, rec.ID, PhaseAggregate, log, func() (err error) {
		snap, err = c.aggregator.Aggregate(ctx, client, repo, rec.Branch)
		return err
	}); err != nil {
		return nil, PhaseAggregate, err
	}
	log.Info("Aggregated source files", logfields.Count(len(snap.Files)))

	var doc string
	if err := c.phase(ctx, rec.ID, PhaseGenerate, log, func() (err error) {
		doc, err = c.generator.Generate(ctx, snap.Context())
		return err
	}); err != nil {
		return nil, PhaseGenerate, err
	}

	var localized []localize.Document
	if err := c.phase(ctx, rec.ID, PhaseLocalize, log, func() error {
		docs, err := c.localizer.Localize(ctx, doc, c.locales.Source, c.locales.Targets)
		if err != nil {
			return err
		}
		if err := checkLocalized(docs, c.locales.Targets); err != nil {
			return err
		}
		localized = docs
		return nil
	}); err != nil {
		return nil, PhaseLocalize, err
	}

	var res *publish.Result
	if err := c.phase(ctx, rec.ID, PhasePublish, log, func() (err error) {
		res, err = c.publisher.Publish(ctx, client, publish.Request{
			Repo:         repo,
			BaseBranch:   rec.Branch,
			BaseSHA:      snap.BaseSHA,
			SourceLocale: c.locales.Source,
			Source:       doc,
			Localized:    localized,
		})
		return err
	}); err != nil {
		return nil, PhasePublish, err
	}
	return res, "", nil
}

// checkLocalized enforces exactly one document per target, in target order.
func checkLocalized(docs []localize.Document, targets []string) error {
	if len(docs) != len(targets) {
		return fmt.Errorf("expected %d localized documents, got %d", len(targets), len(docs))
	}
	for i, d := range docs {
		if d.Locale != targets[i] {
			return fmt.Errorf("localized document %d is %q, expected %q", i, d.Locale, targets[i])
		}
	}
	return nil
}

func (c *Compiler) phase(ctx context.Context, buildID, name string, log *slog.Logger, fn func() error) error {
	c.event(ctx, buildID, ledger.EventPhaseStarted, ledger.PhasePayload{Phase: name}, log)
	start := c.now()
	err := fn()
	d := c.now().Sub(start)
	ms := float64(d) / float64(time.Millisecond)
	if err != nil {
		c.recorder.ObservePhaseDuration(name, d, metrics.ResultFailed)
		c.event(ctx, buildID, ledger.EventPhaseFailed, ledger.PhasePayload{Phase: name, DurationMS: ms, Error: err.Error()}, log)
		return err
	}
	c.recorder.ObservePhaseDuration(name, d, metrics.ResultSuccess)
	c.event(ctx, buildID, ledger.EventPhaseCompleted, ledger.PhasePayload{Phase: name, DurationMS: ms}, log)
	log.Debug("Phase completed", logfields.Phase(name), logfields.Duration(d))
	return nil
}

func (c *Compiler) fail(ctx context.Context, rec *ledger.BuildRecord, phase string, cause error, log *slog.Logger) {
	msg := fmt.Sprintf("%s: %s", phase, cause.Error())
	log.Error("Build failed", logfields.Phase(phase), logfields.Error(cause))
	if _, err := c.ledger.Transition(ctx, rec.ID, ledger.StatusFailed, ledger.TransitionFields{Logs: msg}); err != nil {
		log.Error("Failed to record build failure", logfields.Error(err))
		return
	}
	c.event(ctx, rec.ID, ledger.EventBuildFinished, ledger.FinishedPayload{Status: ledger.StatusFailed}, log)
	c.recorder.IncBuildOutcome(string(ledger.StatusFailed))
}

func (c *Compiler) succeed(ctx context.Context, rec *ledger.BuildRecord, res *publish.Result, log *slog.Logger) {
	for _, f := range res.Files {
		c.event(ctx, rec.ID, ledger.EventDocumentPublished, ledger.DocumentPayload{
			Path: f.Path, Locale: f.Locale, BlobSHA: f.BlobSHA, Fingerprint: f.Fingerprint,
		}, log)
	}
	if _, err := c.ledger.Transition(ctx, rec.ID, ledger.StatusSuccess, ledger.TransitionFields{PRURL: res.PRURL, Logs: SuccessLog}); err != nil {
		log.Error("Pull request opened but success could not be recorded", logfields.PRURL(res.PRURL), logfields.Error(err))
		return
	}
	c.event(ctx, rec.ID, ledger.EventBuildFinished, ledger.FinishedPayload{Status: ledger.StatusSuccess, PRURL: res.PRURL}, log)
	c.recorder.IncBuildOutcome(string(ledger.StatusSuccess))
	log.Info("Build succeeded", logfields.PRURL(res.PRURL))
}

func (c *Compiler) event(ctx context.Context, buildID string, typ ledger.EventType, payload any, log *slog.Logger) {
	if err := c.ledger.AppendEvent(ctx, buildID, typ, payload); err != nil {
		log.Warn("Failed to append build event", slog.String("event_type", string(typ)), logfields.Error(err))
	}
}
