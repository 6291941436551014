package errors

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", ValidationError("bad payload").Build(), http.StatusBadRequest},
		{"auth", AuthError("bad signature").Build(), http.StatusUnauthorized},
		{"not found", NotFoundError("no build").Build(), http.StatusNotFound},
		{"config fails closed", ConfigError("secret missing").Build(), http.StatusInternalServerError},
		{"forge", ForgeError("rate limited").Build(), http.StatusBadGateway},
		{"generation", GenerationError("empty output").Build(), http.StatusBadGateway},
		{"ledger", LedgerError("db locked").Build(), http.StatusInternalServerError},
		{"queue", QueueError("full").Build(), http.StatusServiceUnavailable},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.StatusCodeFor(tt.err))
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github", nil)
	rec := httptest.NewRecorder()

	adapter.WriteErrorResponse(rec, req, LedgerError("insert build").WithContext("repository_id", 42).Build())

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insert build", body.Error)
	assert.Equal(t, "ledger", body.Code)
	assert.True(t, body.Retryable)
	assert.InDelta(t, 42, body.Details["repository_id"], 0)
}

func TestHTTPErrorAdapter_AuthHidesDetails(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	resp := adapter.FormatErrorResponse(AuthError("invalid signature").WithContext("computed", "abc").Build())

	assert.Equal(t, "invalid signature", resp.Error)
	assert.Nil(t, resp.Details)
	assert.False(t, resp.Retryable)
}

func TestHTTPErrorAdapter_UnclassifiedIsOpaque(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	resp := adapter.FormatErrorResponse(errors.New("pq: password authentication failed"))
	assert.Equal(t, "internal error", resp.Error)
}
