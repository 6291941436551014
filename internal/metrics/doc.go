// Package metrics records pipeline observability data.
//
// Components receive a Recorder through their constructors and default to
// NoopRecorder, so call sites never nil-check. The serve and worker commands
// inject a PrometheusRecorder registered on a dedicated registry, which
// HTTPHandler exposes on /metrics.
package metrics
