// Package queue dispatches compiler jobs to background workers, either in
// process or through a NATS JetStream work queue.
package queue

import (
	"context"

	"git.home.luguber.info/inful/polydocs/internal/ledger"
)

// Job is the unit of work for one build. Everything else is read from the ledger.
type Job struct {
	BuildID            string `json:"build_id"`
	InstallationID     int64  `json:"installation_id"`
	RepositoryFullName string `json:"repository_full_name"`
	Branch             string `json:"branch"`
}

// JobFromRecord derives the job for a build record.
func JobFromRecord(rec ledger.BuildRecord) Job {
	return Job{
		BuildID:            rec.ID,
		InstallationID:     rec.InstallationID,
		RepositoryFullName: rec.RepositoryFullName,
		Branch:             rec.Branch,
	}
}

// Runner executes one job to completion. Implementations record their own
// outcome; a returned error means the job could not start and may be retried.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }

// Dispatcher accepts jobs for asynchronous execution.
type Dispatcher interface {
	Submit(ctx context.Context, job Job) error
}
