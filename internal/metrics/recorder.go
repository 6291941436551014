package metrics

import "time"

// ResultLabel enumerates phase result categories.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines the pipeline's observability hooks.
type Recorder interface {
	// IncWebhook counts a webhook delivery by outcome (queued, ignored_bot, unauthorized, ...).
	IncWebhook(outcome string)
	ObservePhaseDuration(phase string, d time.Duration, result ResultLabel)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome string)
	SetQueueDepth(n int)
	// IncReconciled counts reconciler actions (failed_stale, resubmitted).
	IncReconciled(action string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncWebhook(string)                                       {}
func (NoopRecorder) ObservePhaseDuration(string, time.Duration, ResultLabel) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)                      {}
func (NoopRecorder) IncBuildOutcome(string)                                  {}
func (NoopRecorder) SetQueueDepth(int)                                       {}
func (NoopRecorder) IncReconciled(string)                                    {}
