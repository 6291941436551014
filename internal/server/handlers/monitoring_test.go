package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/server/responses"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		ledger     Pinger
		wantStatus int
		wantBody   string
		wantLedger string
	}{
		{name: "no ledger", wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "ledger reachable", ledger: stubPinger{}, wantStatus: http.StatusOK, wantBody: "ok", wantLedger: "ok"},
		{
			name:       "ledger down",
			ledger:     stubPinger{err: stderrors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "degraded",
			wantLedger: "unreachable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMonitoringHandlers(tt.ledger, nil)
			fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			h.now = func() time.Time { return fixed }

			rec := httptest.NewRecorder()
			h.HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			var body responses.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Equal(t, tt.wantLedger, body.Ledger)
			assert.True(t, body.Timestamp.Equal(fixed))
		})
	}
}

func TestHealthCheckPretty(t *testing.T) {
	h := NewMonitoringHandlers(nil, nil)
	rec := httptest.NewRecorder()
	h.HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health?pretty=1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\n  \"status\": \"ok\"")
}
