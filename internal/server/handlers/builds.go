package handlers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/server/responses"
)

// BuildReader is the read side of the build ledger.
type BuildReader interface {
	Get(ctx context.Context, id string) (*ledger.BuildRecord, error)
	Events(ctx context.Context, buildID string) ([]ledger.Event, error)
}

// BuildHandlers serves build status lookups.
type BuildHandlers struct {
	ledger       BuildReader
	errorAdapter *errors.HTTPErrorAdapter
}

// NewBuildHandlers creates build handlers over the ledger.
func NewBuildHandlers(l BuildReader, logger *slog.Logger) *BuildHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &BuildHandlers{ledger: l, errorAdapter: errors.NewHTTPErrorAdapter(logger)}
}

// HandleGetBuild returns one build and its events. The id comes from the {id} route parameter.
func (h *BuildHandlers) HandleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, classifyLedgerError(err, id))
		return
	}
	events, err := h.ledger.Events(r.Context(), id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, classifyLedgerError(err, id))
		return
	}

	resp := responses.BuildStatusResponse{
		ID:            rec.ID,
		Repository:    rec.RepositoryFullName,
		RepositoryID:  rec.RepositoryID,
		Status:        string(rec.Status),
		CommitSHA:     rec.CommitSHA,
		Branch:        rec.Branch,
		AuthorName:    rec.AuthorName,
		CommitMessage: rec.CommitMessage,
		PRURL:         rec.PRURL,
		Logs:          rec.Logs,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Events:        make([]responses.BuildEventInfo, 0, len(events)),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, responses.BuildEventInfo{
			Type:      string(ev.Type),
			Payload:   ev.Payload,
			CreatedAt: ev.CreatedAt,
		})
	}

	if err := writeJSON(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			errors.WrapError(err, errors.CategoryInternal, "failed to write build response").Build())
	}
}

func classifyLedgerError(err error, id string) error {
	if stderrors.Is(err, ledger.ErrNotFound) {
		return errors.NotFoundError("build not found").WithContext("build_id", id).Build()
	}
	return errors.LedgerError("failed to read build").WithCause(err).Build()
}
