package errors

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, discardLogger())

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"validation", ValidationError("invalid locale").Build(), 2},
		{"auth", AuthError("bad key").Build(), 5},
		{"config", ConfigError("missing secret").Build(), 7},
		{"forge", ForgeError("404").Build(), 8},
		{"internal", InternalError("bug").Build(), 10},
		{"ledger", LedgerError("locked").Build(), 12},
		{"unclassified", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, discardLogger())
	verbose := NewCLIErrorAdapter(true, discardLogger())
	cause := errors.New("no such file")
	cfg := WrapError(cause, CategoryConfig, "load config").Build()

	assert.Empty(t, quiet.FormatError(nil))
	assert.Equal(t, "Error: load config", quiet.FormatError(cfg))
	assert.Equal(t, "Error [config]: load config: no such file", verbose.FormatError(cfg))
	assert.Equal(t, "Internal error occurred (use -v for details)", quiet.FormatError(InternalError("bug").Build()))
	assert.Equal(t, "Error: boom", quiet.FormatError(errors.New("boom")))
}

func TestCLIErrorAdapter_Report(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, discardLogger())
	var out bytes.Buffer

	code := adapter.Report(&out, ConfigError("github.webhook_secret is required").Build())

	assert.Equal(t, 7, code)
	assert.Equal(t, "Error: github.webhook_secret is required\n", out.String())
	assert.Equal(t, 0, adapter.Report(&out, nil))
}
