package localize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
)

type fakeLingo struct {
	*httptest.Server

	mu       sync.Mutex
	requests []i18nRequest
	delays   map[string]time.Duration
	fail     map[string]int
}

func newFakeLingo(t *testing.T) *fakeLingo {
	t.Helper()
	f := &fakeLingo{delays: map[string]time.Duration{}, fail: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/i18n", r.URL.Path)
		assert.Equal(t, "Bearer lingo-key", r.Header.Get("Authorization"))
		var req i18nRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		delay := f.delays[req.Locale.Target]
		status := f.fail[req.Locale.Target]
		f.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "quota exceeded"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"text": "[" + req.Locale.Target + "] " + req.Data.Text},
		})
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLingo) Requests() []i18nRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]i18nRequest(nil), f.requests...)
}

func TestLocalizePreservesTargetOrder(t *testing.T) {
	f := newFakeLingo(t)
	f.delays["es"] = 60 * time.Millisecond
	f.delays["fr"] = 30 * time.Millisecond

	docs, err := NewClient(f.URL, "lingo-key", time.Second).
		Localize(context.Background(), "# Hello", "en", []string{"es", "fr", "ja"})
	require.NoError(t, err)

	require.Len(t, docs, 3)
	assert.Equal(t, Document{Locale: "es", Markdown: "[es] # Hello"}, docs[0])
	assert.Equal(t, Document{Locale: "fr", Markdown: "[fr] # Hello"}, docs[1])
	assert.Equal(t, Document{Locale: "ja", Markdown: "[ja] # Hello"}, docs[2])

	reqs := f.Requests()
	require.Len(t, reqs, 3)
	workflow := reqs[0].Params.WorkflowID
	assert.NotEmpty(t, workflow)
	for _, r := range reqs {
		assert.Equal(t, workflow, r.Params.WorkflowID)
		assert.Equal(t, "en", r.Locale.Source)
		assert.False(t, r.Params.Fast)
	}
}

func TestLocalizeNoTargets(t *testing.T) {
	f := newFakeLingo(t)
	docs, err := NewClient(f.URL, "lingo-key", time.Second).Localize(context.Background(), "# Hi", "en", nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, f.Requests())
}

func TestLocalizeFailureFailsWholeSet(t *testing.T) {
	f := newFakeLingo(t)
	f.fail["fr"] = http.StatusTooManyRequests

	docs, err := NewClient(f.URL, "lingo-key", time.Second, WithConcurrency(1)).
		Localize(context.Background(), "# Hello", "en", []string{"es", "fr", "ja"})
	require.Error(t, err)
	assert.Nil(t, docs)
	assert.True(t, errors.HasCategory(err, errors.CategoryLocalization))
	assert.Equal(t, errors.RetryRateLimit, errors.GetRetryStrategy(err))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestLocalizeAuthFailure(t *testing.T) {
	f := newFakeLingo(t)
	f.fail["es"] = http.StatusUnauthorized
	_, err := NewClient(f.URL, "lingo-key", time.Second).Localize(context.Background(), "# Hello", "en", []string{"es"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
}

func TestLocalizeEmptyTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"text":"  "}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "lingo-key", time.Second).Localize(context.Background(), "# Hello", "en", []string{"de"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryLocalization))
}

func TestLocalizeTimeout(t *testing.T) {
	f := newFakeLingo(t)
	f.delays["ja"] = time.Second

	_, err := NewClient(f.URL, "lingo-key", 50*time.Millisecond).
		Localize(context.Background(), "# Hello", "en", []string{"ja"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestLocalizeRequiresAPIKey(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "", time.Second).Localize(context.Background(), "# Hi", "en", []string{"es"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}
