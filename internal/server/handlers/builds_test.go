package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/server/responses"
)

func newBuildRouter(t *testing.T) (*chi.Mux, *ledger.SQLiteStore) {
	t.Helper()
	store, err := ledger.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := chi.NewRouter()
	r.Get("/builds/{id}", NewBuildHandlers(store, nil).HandleGetBuild)
	return r, store
}

func TestGetBuildReturnsRecordAndEvents(t *testing.T) {
	r, store := newBuildRouter(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, ledger.NewBuild{
		DeliveryID:         "d-7",
		RepositoryID:       4242,
		RepositoryFullName: "octo/widgets",
		CommitSHA:          "9f2c1d0e",
		Branch:             "main",
		AuthorName:         "Ada Lovelace",
		CommitMessage:      "Add notes",
	})
	require.NoError(t, err)
	_, err = store.Transition(ctx, rec.ID, ledger.StatusBuilding, ledger.TransitionFields{})
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(ctx, rec.ID, ledger.EventPhaseStarted, ledger.PhasePayload{Phase: "aggregate"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/builds/"+rec.ID, nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body responses.BuildStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, rec.ID, body.ID)
	assert.Equal(t, "octo/widgets", body.Repository)
	assert.Equal(t, "building", body.Status)
	assert.Equal(t, "9f2c1d0e", body.CommitSHA)
	require.Len(t, body.Events, 1)
	assert.Equal(t, string(ledger.EventPhaseStarted), body.Events[0].Type)
	assert.JSONEq(t, `{"phase":"aggregate"}`, string(body.Events[0].Payload))
}

func TestGetBuildUnknownID(t *testing.T) {
	r, _ := newBuildRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/builds/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
