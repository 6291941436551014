package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/server/responses"
	"git.home.luguber.info/inful/polydocs/internal/version"
)

const healthPingTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitoringHandlers contains monitoring-related HTTP handlers.
type MonitoringHandlers struct {
	ledger       Pinger
	startTime    time.Time
	now          func() time.Time
	errorAdapter *errors.HTTPErrorAdapter
	logger       *slog.Logger
}

// NewMonitoringHandlers creates monitoring handlers. A nil ledger skips the ledger check.
func NewMonitoringHandlers(ledger Pinger, logger *slog.Logger) *MonitoringHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitoringHandlers{
		ledger:       ledger,
		startTime:    time.Now(),
		now:          time.Now,
		errorAdapter: errors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}
}

// HandleHealthCheck reports liveness. The status degrades to 503 when the ledger is unreachable.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	health := &responses.HealthResponse{
		Status:    "ok",
		Timestamp: now.UTC(),
		Version:   version.Version,
		Uptime:    now.Sub(h.startTime).Seconds(),
	}
	status := http.StatusOK

	if h.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.ledger.Ping(ctx); err != nil {
			h.logger.Warn("Ledger health check failed", logfields.Error(err))
			health.Status = "degraded"
			health.Ledger = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			health.Ledger = "ok"
		}
	}

	if err := writeJSON(w, r, status, health); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			errors.WrapError(err, errors.CategoryInternal, "failed to write health response").Build())
	}
}
