package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/compiler"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/publish"
)

func TestDefaultBranchPushOpensLocalizedPullRequest(t *testing.T) {
	e := newEnv(t)

	status, body := e.deliver(t, "delivery-a", push{}.body(t), "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Webhook processed", body)

	rec := e.awaitTerminal(t)
	require.Equal(t, ledger.StatusSuccess, rec.Status, rec.Logs)
	assert.Equal(t, compiler.SuccessLog, rec.Logs)
	assert.Equal(t, "Grace Hopper", rec.AuthorName)
	assert.Equal(t, "main", rec.Branch)

	pulls := e.github.Pulls()
	require.Len(t, pulls, 1)
	assert.Equal(t, pulls[0].URL, rec.PRURL)
	assert.Equal(t, publish.PullRequestTitle, pulls[0].Title)
	assert.Equal(t, "main", pulls[0].Base)
	assert.True(t, strings.HasPrefix(pulls[0].Head, publish.BranchPrefix), pulls[0].Head)

	trees := e.github.Trees()
	require.Len(t, trees, 1)
	paths := make([]string, len(trees[0].Entries))
	for i, entry := range trees[0].Entries {
		paths[i] = entry.Path
		assert.Equal(t, "100644", entry.Mode)
	}
	assert.Equal(t, []string{"POLYDOCS.md", "POLYDOCS.es.md", "POLYDOCS.fr.md", "POLYDOCS.ja.md"}, paths)

	for i, locale := range targets {
		content, ok := e.github.BlobContent(trees[0].Entries[i+1].SHA)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(content, "<!-- "+locale+" -->"), "entry %d holds the %s document", i+1, locale)
	}
	source, ok := e.github.BlobContent(trees[0].Entries[0].SHA)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(source, "# Widgets"), "fences are stripped from the generated document")

	commits := e.github.Commits()
	require.Len(t, commits, 1)
	assert.Equal(t, publish.CommitMessage, commits[0].Message)
	assert.Equal(t, trees[0].SHA, commits[0].Tree)
	assert.Len(t, commits[0].Parents, 1)

	events, err := e.store.Events(t.Context(), rec.ID)
	require.NoError(t, err)
	published := 0
	for _, ev := range events {
		if ev.Type == ledger.EventDocumentPublished {
			published++
		}
	}
	assert.Equal(t, 1+len(targets), published)

	// Redelivering the same delivery creates nothing new.
	status, _ = e.deliver(t, "delivery-a", push{}.body(t), "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, e.builds(t), 1)
}

func TestIgnoredPushesCreateNoBuild(t *testing.T) {
	tests := []struct {
		name string
		push push
	}{
		{"feature branch", push{ref: "refs/heads/feature/login"}},
		{"publisher branch marker", push{message: "Merge pull request #12 from octo/polydocs-update-1718000000000"}},
		{"generated commit", push{message: "docs: auto-generate POLYDOCS.md via PolyDocs webhook"}},
		{"bot author", push{author: "dependabot[bot]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			status, body := e.deliver(t, "delivery-"+tt.name, tt.push.body(t), "")

			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "Webhook processed", body)
			assert.Empty(t, e.builds(t))
			assert.Empty(t, e.github.Calls())
		})
	}
}

func TestBadSignatureIsRejectedWithoutSideEffects(t *testing.T) {
	e := newEnv(t)
	body := push{}.body(t)

	for _, sig := range []string{"sha256=" + strings.Repeat("0", 64), "sha1=abc", "garbage"} {
		status, _ := e.deliver(t, "delivery-d", body, sig)
		assert.Equal(t, http.StatusUnauthorized, status, sig)
	}

	// Give a wrongly accepted job time to surface before asserting nothing happened.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.builds(t))
	assert.Empty(t, e.github.Calls())
	assert.Zero(t, e.geminiCalls.Load())
	assert.Zero(t, e.lingoCalls.Load())
}

func TestGenerationFailureMarksBuildFailed(t *testing.T) {
	e := newEnv(t)
	e.geminiFail.Store(true)

	status, _ := e.deliver(t, "delivery-e", push{}.body(t), "")
	require.Equal(t, http.StatusOK, status)

	rec := e.awaitTerminal(t)
	assert.Equal(t, ledger.StatusFailed, rec.Status)
	assert.Empty(t, rec.PRURL)
	assert.True(t, strings.HasPrefix(rec.Logs, compiler.PhaseGenerate+": "), rec.Logs)
	assert.Contains(t, rec.Logs, "model overloaded")

	assert.Empty(t, e.github.Refs())
	assert.Empty(t, e.github.Pulls())
	assert.Empty(t, e.github.CreatedBlobs())
	assert.Zero(t, e.lingoCalls.Load())
}

func TestBuildStatusEndpoint(t *testing.T) {
	e := newEnv(t)
	_, _ = e.deliver(t, "delivery-status", push{}.body(t), "")
	rec := e.awaitTerminal(t)

	resp, err := http.Get(e.http.URL + "/builds/" + rec.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health, err := http.Get(e.http.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
