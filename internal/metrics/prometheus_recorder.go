package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "polydocs"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	webhooks      *prom.CounterVec
	phaseDuration *prom.HistogramVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	queueDepth    prom.Gauge
	reconciled    *prom.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		webhooks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by outcome",
		}, []string{"outcome"}),
		phaseDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of compiler job phases",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"phase", "result"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total compiler job duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Builds by final status",
		}, []string{"outcome"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for an in-process worker",
		}),
		reconciled: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_actions_total",
			Help:      "Stale build actions taken by the reconciler",
		}, []string{"action"}),
	}
	reg.MustRegister(pr.webhooks, pr.phaseDuration, pr.buildDuration, pr.buildOutcome, pr.queueDepth, pr.reconciled)
	return pr
}

func (p *PrometheusRecorder) IncWebhook(outcome string) {
	p.webhooks.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration, result ResultLabel) {
	p.phaseDuration.WithLabelValues(phase, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncReconciled(action string) {
	p.reconciled.WithLabelValues(action).Inc()
}
