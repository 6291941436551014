package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/webhook"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Ledger.Driver = config.DriverSQLite
	cfg.Ledger.DSN = filepath.Join(t.TempDir(), "ledger.db")
	config.ApplyDefaults(cfg)
	return cfg
}

func TestConfigPathSkipsMissingDefault(t *testing.T) {
	t.Chdir(t.TempDir())

	cli := &CLI{Config: DefaultConfigPath}
	assert.Empty(t, cli.configPath())

	require.NoError(t, os.WriteFile(DefaultConfigPath, []byte("server:\n  port: 8080\n"), 0o600))
	assert.Equal(t, DefaultConfigPath, cli.configPath())

	explicit := &CLI{Config: "missing.yaml"}
	assert.Equal(t, "missing.yaml", explicit.configPath())
}

func TestSign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "push.json")
	body := []byte(`{"ref":"refs/heads/main"}`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	var out bytes.Buffer
	require.NoError(t, RunSign(path, "s3cret", &out))
	assert.Equal(t, webhook.SignatureHeader+": "+webhook.Sign(body, "s3cret")+"\n", out.String())

	err := RunSign(path, "", &out)
	assert.ErrorIs(t, err, webhook.ErrSecretMissing)

	err = RunSign(filepath.Join(t.TempDir(), "nope.json"), "s3cret", &out)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigPath)
	var out bytes.Buffer
	require.NoError(t, RunInit(path, false, &out))
	assert.FileExists(t, path)
	assert.Contains(t, out.String(), "Wrote "+path)

	err := RunInit(path, false, &out)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	require.NoError(t, RunInit(path, true, &out))
}

func TestMigrateUpThenStatus(t *testing.T) {
	cfg := sqliteConfig(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, RunMigrateUp(ctx, cfg, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateStatus(ctx, cfg, &out))
	assert.Contains(t, out.String(), "VERSION")
	assert.Contains(t, out.String(), "applied")
	assert.NotContains(t, out.String(), "pending")
}

func TestWorkerRequiresNATS(t *testing.T) {
	cfg := sqliteConfig(t)
	err := RunWorker(context.Background(), cfg, "", quietLogger())
	assert.ErrorIs(t, err, ErrWorkerNeedsNATS)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.GitHub.WebhookSecret = "s3cret"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- RunServe(ctx, cfg, "", false, quietLogger()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestServeFailsOnUnusableLedger(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Ledger.DSN = filepath.Join(t.TempDir(), "missing-dir", "ledger.db")

	err := RunServe(context.Background(), cfg, "", false, quietLogger())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryLedger))
}
