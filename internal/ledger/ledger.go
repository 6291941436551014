// Package ledger persists build records and enforces their status machine.
//
// Every transition is a conditional update guarded by the set of statuses it may
// leave from, so concurrent or redelivered jobs for the same build race safely:
// exactly one caller wins and the rest observe ErrInvalidTransition.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a build.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// predecessors lists, per target status, the statuses a build may move from.
// pending->failed exists only for builds abandoned before a worker claimed them.
var predecessors = map[Status][]Status{
	StatusBuilding: {StatusPending},
	StatusSuccess:  {StatusBuilding},
	StatusFailed:   {StatusBuilding, StatusPending},
}

// CanTransition reports whether from->to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, p := range predecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidTransition is returned when the build is not in a status the
	// requested transition may leave from. Losing a claim race surfaces as this.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrInvalidFields is returned when a transition carries the wrong fields.
	ErrInvalidFields = errors.New("ledger: invalid transition fields")
	// ErrDuplicateDelivery is returned by Create when the delivery id was already recorded.
	ErrDuplicateDelivery = errors.New("ledger: duplicate delivery")
)

// BuildRecord is one push-triggered build attempt.
type BuildRecord struct {
	ID                 string
	DeliveryID         string
	RepositoryID       int64
	RepositoryFullName string
	InstallationID     int64
	Status             Status
	CommitSHA          string
	Branch             string
	AuthorName         string
	CommitMessage      string
	PRURL              string
	Logs               string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Owner returns the account part of RepositoryFullName.
func (b BuildRecord) Owner() string {
	owner, _, _ := strings.Cut(b.RepositoryFullName, "/")
	return owner
}

// Repo returns the repository part of RepositoryFullName.
func (b BuildRecord) Repo() string {
	_, repo, _ := strings.Cut(b.RepositoryFullName, "/")
	return repo
}

// NewBuild is the immutable snapshot captured from a qualifying push.
type NewBuild struct {
	DeliveryID         string
	RepositoryID       int64
	RepositoryFullName string
	InstallationID     int64
	CommitSHA          string
	Branch             string
	AuthorName         string
	CommitMessage      string
}

// Validate checks that the snapshot carries everything a job needs.
func (n NewBuild) Validate() error {
	switch {
	case n.RepositoryID <= 0:
		return fmt.Errorf("%w: repository id is required", ErrInvalidFields)
	case strings.Count(n.RepositoryFullName, "/") != 1:
		return fmt.Errorf("%w: repository full name %q is not owner/repo", ErrInvalidFields, n.RepositoryFullName)
	case n.CommitSHA == "":
		return fmt.Errorf("%w: commit sha is required", ErrInvalidFields)
	case n.Branch == "":
		return fmt.Errorf("%w: branch is required", ErrInvalidFields)
	}
	return nil
}

// TransitionFields are the values written alongside a status change.
type TransitionFields struct {
	PRURL string
	Logs  string
}

// checkFields enforces that success carries a PR URL and logs, failed carries
// logs and never a PR URL, and building carries no PR URL.
func checkFields(to Status, f TransitionFields) error {
	if _, ok := predecessors[to]; !ok {
		return fmt.Errorf("%w: %q is not a transition target", ErrInvalidTransition, to)
	}
	switch to {
	case StatusSuccess:
		if f.PRURL == "" || f.Logs == "" {
			return fmt.Errorf("%w: success requires a pull request url and logs", ErrInvalidFields)
		}
	case StatusFailed:
		if f.Logs == "" {
			return fmt.Errorf("%w: failed requires logs", ErrInvalidFields)
		}
		if f.PRURL != "" {
			return fmt.Errorf("%w: failed builds cannot carry a pull request url", ErrInvalidFields)
		}
	case StatusBuilding:
		if f.PRURL != "" {
			return fmt.Errorf("%w: building cannot carry a pull request url", ErrInvalidFields)
		}
	}
	return nil
}

// Installation maps a repository to the GitHub App installation that can act on it.
type Installation struct {
	UserID             string
	InstallationID     int64
	RepositoryID       int64
	RepositoryFullName string
}

// Store is the build ledger.
type Store interface {
	// Create inserts a pending build.
	Create(ctx context.Context, nb NewBuild) (*BuildRecord, error)
	// Transition moves a build to status to and returns the updated record.
	Transition(ctx context.Context, id string, to Status, f TransitionFields) (*BuildRecord, error)
	Get(ctx context.Context, id string) (*BuildRecord, error)
	// ListStale returns builds in status whose last update is before olderThan, oldest first.
	ListStale(ctx context.Context, status Status, olderThan time.Time) ([]BuildRecord, error)

	AppendEvent(ctx context.Context, buildID string, typ EventType, payload any) error
	Events(ctx context.Context, buildID string) ([]Event, error)

	// Installation resolves the installation for a repository id or returns ErrNotFound.
	Installation(ctx context.Context, repositoryID int64) (int64, error)
	SaveInstallation(ctx context.Context, in Installation) error

	Ping(ctx context.Context) error
	Close() error
}

type options struct {
	now func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func statusStrings(ss []Status) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
