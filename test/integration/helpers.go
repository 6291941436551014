// Package integration drives the whole pipeline over HTTP: a signed GitHub
// delivery goes through the server, the ledger, the in-process queue and the
// compiler, against fake GitHub, Gemini and Lingo.dev endpoints.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/aggregate"
	"git.home.luguber.info/inful/polydocs/internal/botfilter"
	"git.home.luguber.info/inful/polydocs/internal/compiler"
	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/docgen"
	"git.home.luguber.info/inful/polydocs/internal/forge"
	"git.home.luguber.info/inful/polydocs/internal/forge/forgetest"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/localize"
	"git.home.luguber.info/inful/polydocs/internal/queue"
	"git.home.luguber.info/inful/polydocs/internal/server"
	"git.home.luguber.info/inful/polydocs/internal/webhook"
)

const (
	secret      = "integration-secret"
	repoName    = "octo/widgets"
	webhookPath = "/api/webhooks/github"
)

var targets = []string{"es", "fr", "ja"}

// env is one running pipeline.
type env struct {
	store       *ledger.SQLiteStore
	github      *forgetest.Server
	http        *httptest.Server
	geminiCalls atomic.Int32
	lingoCalls  atomic.Int32
	geminiFail  atomic.Bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{}

	store, err := ledger.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e.store = store

	e.github = forgetest.NewServer()
	t.Cleanup(e.github.Close)
	e.github.AddRepo(repoName, "main", []forgetest.File{
		{Path: "cmd/widgets/main.go", Content: "package main\n\nfunc main() {}\n"},
		{Path: "README.md", Content: "# widgets\n"},
		{Path: "node_modules/left-pad/index.js", Content: "module.exports = 1"},
	})

	gemini := httptest.NewServer(http.HandlerFunc(e.serveGemini))
	t.Cleanup(gemini.Close)
	lingo := httptest.NewServer(http.HandlerFunc(e.serveLingo))
	t.Cleanup(lingo.Close)

	agg := aggregate.New(aggregate.Selection{
		MaxFiles:     config.DefaultMaxFiles,
		Extensions:   config.DefaultExtensions(),
		ExcludedDirs: config.DefaultExcludedDirs(),
	}, logger)
	comp := compiler.New(store,
		&forge.TokenCredentials{Token: "ghp_test", BaseURL: e.github.URL},
		agg,
		docgen.NewClient(gemini.URL, "gemini-key", config.DefaultGeminiModel, 5*time.Second),
		localize.NewClient(lingo.URL, "lingo-key", 5*time.Second),
		compiler.Locales{Source: "en", Targets: targets},
		compiler.WithLogger(logger))

	pool := queue.NewPool(comp, 2, 10, queue.WithPoolLogger(logger))
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	intake := webhook.NewIntake(secret, botfilter.New(nil), store, pool, webhook.WithLogger(logger))
	srv := server.New(config.ServerConfig{WebhookPath: webhookPath}, server.Dependencies{
		Intake: intake,
		Ledger: store,
		Logger: logger,
	})
	e.http = httptest.NewServer(srv.Handler())
	t.Cleanup(e.http.Close)
	return e
}

func (e *env) serveGemini(w http.ResponseWriter, r *http.Request) {
	e.geminiCalls.Add(1)
	_, _ = io.Copy(io.Discard, r.Body)
	w.Header().Set("Content-Type", "application/json")
	if e.geminiFail.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"model overloaded","status":"INTERNAL"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []map[string]string{
				{"text": "```markdown\n# Widgets\n\nA command that does nothing, well.\n```"},
			}},
			"finishReason": "STOP",
		}},
	})
}

func (e *env) serveLingo(w http.ResponseWriter, r *http.Request) {
	e.lingoCalls.Add(1)
	var req struct {
		Locale struct {
			Target string `json:"target"`
		} `json:"locale"`
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]string{"text": "<!-- " + req.Locale.Target + " -->\n" + req.Data.Text},
	})
}

type push struct {
	ref     string
	author  string
	message string
}

func (p push) body(t *testing.T) []byte {
	t.Helper()
	if p.ref == "" {
		p.ref = "refs/heads/main"
	}
	if p.author == "" {
		p.author = "Grace Hopper"
	}
	if p.message == "" {
		p.message = "Add widget command"
	}
	b, err := json.Marshal(map[string]any{
		"ref":   p.ref,
		"after": "5d41402abc4b2a76b9719d911017c592",
		"repository": map[string]any{
			"id":             777,
			"full_name":      repoName,
			"default_branch": "main",
		},
		"head_commit": map[string]any{
			"id":        "5d41402abc4b2a76b9719d911017c592",
			"message":   p.message,
			"author":    map[string]any{"name": p.author},
			"committer": map[string]any{"name": p.author},
		},
	})
	require.NoError(t, err)
	return b
}

// deliver posts body as a push event; an empty signature signs it correctly.
func (e *env) deliver(t *testing.T, delivery string, body []byte, signature string) (int, string) {
	t.Helper()
	if signature == "" {
		signature = webhook.Sign(body, secret)
	}
	req, err := http.NewRequest(http.MethodPost, e.http.URL+webhookPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.EventHeader, "push")
	req.Header.Set(webhook.DeliveryHeader, delivery)
	req.Header.Set(webhook.SignatureHeader, signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(out))
}

// builds returns every build in any status.
func (e *env) builds(t *testing.T) []ledger.BuildRecord {
	t.Helper()
	out, err := e.listBuilds()
	require.NoError(t, err)
	return out
}

func (e *env) listBuilds() ([]ledger.BuildRecord, error) {
	var out []ledger.BuildRecord
	future := time.Now().Add(time.Hour)
	for _, s := range []ledger.Status{ledger.StatusPending, ledger.StatusBuilding, ledger.StatusSuccess, ledger.StatusFailed} {
		recs, err := e.store.ListStale(context.Background(), s, future)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// awaitTerminal waits for the only build to finish and returns it.
func (e *env) awaitTerminal(t *testing.T) ledger.BuildRecord {
	t.Helper()
	var rec ledger.BuildRecord
	require.Eventually(t, func() bool {
		all, err := e.listBuilds()
		if err != nil || len(all) != 1 || !all[0].Status.IsTerminal() {
			return false
		}
		rec = all[0]
		return true
	}, 10*time.Second, 20*time.Millisecond)
	return rec
}
