package webhook

import (
	"context"
	stderrors "errors"
	"log/slog"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
	"git.home.luguber.info/inful/polydocs/internal/queue"
)

// Outcome describes what happened to an authenticated delivery.
type Outcome string

const (
	OutcomeQueued         Outcome = "queued"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnoredEvent   Outcome = "ignored_event"
	OutcomeIgnoredBranch  Outcome = "ignored_branch"
	OutcomeIgnoredCommit  Outcome = "ignored_no_commit"
	OutcomeIgnoredBot     Outcome = "ignored_bot"
	OutcomeNoInstallation Outcome = "ignored_no_installation"
)

var (
	// ErrSecretMissing is returned for every delivery while no secret is configured.
	ErrSecretMissing = errors.ConfigError("webhook secret is not configured").Build()
	// ErrInvalidSignature covers both a missing and a wrong signature.
	ErrInvalidSignature = errors.AuthError("invalid webhook signature").Build()
)

// Delivery is one inbound webhook request.
type Delivery struct {
	Event      string
	DeliveryID string
	Signature  string
	Body       []byte
}

// Ledger is the part of the build ledger intake writes to.
type Ledger interface {
	Create(ctx context.Context, nb ledger.NewBuild) (*ledger.BuildRecord, error)
	Installation(ctx context.Context, repositoryID int64) (int64, error)
}

// Intake turns verified push deliveries into pending builds and dispatched jobs.
type Intake struct {
	secret              string
	filter              *botfilter.Filter
	ledger              Ledger
	dispatcher          queue.Dispatcher
	requireInstallation bool
	recorder            metrics.Recorder
	logger              *slog.Logger
}

// Option configures an Intake.
type Option func(*Intake)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(in *Intake) { in.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(in *Intake) { in.logger = l } }

// RequireInstallation makes pushes without a resolvable App installation ignored.
func RequireInstallation() Option { return func(in *Intake) { in.requireInstallation = true } }

// NewIntake creates an Intake.
func NewIntake(secret string, filter *botfilter.Filter, l Ledger, d queue.Dispatcher, opts ...Option) *Intake {
	in := &Intake{
		secret:     secret,
		filter:     filter,
		ledger:     l,
		dispatcher: d,
		recorder:   metrics.NoopRecorder{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Handle authenticates and processes a delivery. An error means the delivery
// was rejected; every ignored case returns an outcome with a nil error.
func (in *Intake) Handle(ctx context.Context, d Delivery) (Outcome, error) {
	out, err := in.handle(ctx, d)
	if err != nil {
		in.recorder.IncWebhook(rejectionLabel(err))
		return "", err
	}
	in.recorder.IncWebhook(string(out))
	return out, nil
}

func (in *Intake) handle(ctx context.Context, d Delivery) (Outcome, error) {
	log := in.logger.With(logfields.DeliveryID(d.DeliveryID), logfields.Event(d.Event))

	if in.secret == "" {
		log.Error("Rejecting webhook: no secret configured")
		return "", ErrSecretMissing
	}
	if !Verify(d.Body, d.Signature, in.secret) {
		log.Warn("Rejecting webhook: signature mismatch")
		return "", ErrInvalidSignature
	}
	if d.Event != "push" {
		log.Debug("Ignoring non-push event")
		return OutcomeIgnoredEvent, nil
	}

	push, err := ParsePush(d.Body)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryValidation, "invalid push payload").Build()
	}
	log = log.With(logfields.Repository(push.RepositoryFullName), logfields.Commit(push.CommitSHA))

	if !push.OnDefaultBranch() {
		log.Debug("Ignoring push outside the default branch", slog.String("ref", push.Ref))
		return OutcomeIgnoredBranch, nil
	}
	if push.HeadCommit == nil {
		log.Debug("Ignoring push without a head commit")
		return OutcomeIgnoredCommit, nil
	}
	if rule, bot := in.filter.Classify(*push.HeadCommit); bot {
		log.Info("Ignoring bot-authored push", logfields.Rule(rule.String()))
		return OutcomeIgnoredBot, nil
	}

	installationID := push.InstallationID
	if installationID == 0 {
		id, err := in.ledger.Installation(ctx, push.RepositoryID)
		switch {
		case err == nil:
			installationID = id
		case stderrors.Is(err, ledger.ErrNotFound):
		default:
			return "", errors.WrapError(err, errors.CategoryLedger, "resolve installation").Build()
		}
	}
	if installationID == 0 && in.requireInstallation {
		log.Warn("Ignoring push: no GitHub App installation for repository", logfields.RepositoryID(push.RepositoryID))
		return OutcomeNoInstallation, nil
	}

	rec, err := in.ledger.Create(ctx, ledger.NewBuild{
		DeliveryID:         d.DeliveryID,
		RepositoryID:       push.RepositoryID,
		RepositoryFullName: push.RepositoryFullName,
		InstallationID:     installationID,
		CommitSHA:          push.CommitSHA,
		Branch:             push.Branch(),
		AuthorName:         push.HeadCommit.AuthorName,
		CommitMessage:      push.HeadCommit.Message,
	})
	if stderrors.Is(err, ledger.ErrDuplicateDelivery) {
		log.Info("Ignoring redelivered webhook", logfields.BuildID(rec.ID))
		return OutcomeDuplicate, nil
	}
	if stderrors.Is(err, ledger.ErrInvalidFields) {
		return "", errors.WrapError(err, errors.CategoryValidation, "incomplete push payload").Build()
	}
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryLedger, "record build").Build()
	}
	log = log.With(logfields.BuildID(rec.ID))

	if err := in.dispatcher.Submit(ctx, queue.JobFromRecord(*rec)); err != nil {
		log.Warn("Build recorded but not dispatched; the reconciler will resubmit it", logfields.Error(err))
		return OutcomeDeferred, nil
	}
	log.Info("Build queued", logfields.Branch(rec.Branch))
	return OutcomeQueued, nil
}

func rejectionLabel(err error) string {
	switch errors.GetCategory(err) {
	case errors.CategoryAuth:
		return "unauthorized"
	case errors.CategoryConfig:
		return "misconfigured"
	case errors.CategoryValidation:
		return "bad_payload"
	default:
		return "error"
	}
}
