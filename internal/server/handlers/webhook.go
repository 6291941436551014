package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/webhook"
)

// WebhookProcessed is the body of every accepted delivery, including ignored ones.
const WebhookProcessed = "Webhook processed"

// DefaultMaxBodyBytes caps webhook payloads when no limit is configured.
const DefaultMaxBodyBytes int64 = 25 << 20

// Intake authenticates and records a webhook delivery.
type Intake interface {
	Handle(ctx context.Context, d webhook.Delivery) (webhook.Outcome, error)
}

// WebhookHandler receives GitHub deliveries and hands the raw body to the intake.
type WebhookHandler struct {
	intake       Intake
	maxBodyBytes int64
	errorAdapter *errors.HTTPErrorAdapter
	logger       *slog.Logger
}

// NewWebhookHandler constructs a WebhookHandler. A non-positive maxBodyBytes uses DefaultMaxBodyBytes.
func NewWebhookHandler(intake Intake, maxBodyBytes int64, logger *slog.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		intake:       intake,
		maxBodyBytes: maxBodyBytes,
		errorAdapter: errors.NewHTTPErrorAdapter(logger),
		logger:       logger,
	}
}

// ServeHTTP reads the raw body unchanged, since the signature covers the exact bytes.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		err := errors.ValidationError("invalid HTTP method").
			WithContext("method", r.Method).
			WithContext("allowed_method", http.MethodPost).
			Build()
		w.Header().Set("Allow", http.MethodPost)
		h.writeStatus(w, r, http.StatusMethodNotAllowed, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			derr := errors.ValidationError("webhook payload too large").
				WithContext("limit_bytes", tooLarge.Limit).
				Build()
			h.writeStatus(w, r, http.StatusRequestEntityTooLarge, derr)
			return
		}
		h.errorAdapter.WriteErrorResponse(w, r,
			errors.WrapError(err, errors.CategoryValidation, "failed to read webhook payload").Build())
		return
	}

	delivery := webhook.Delivery{
		Event:      r.Header.Get(webhook.EventHeader),
		DeliveryID: r.Header.Get(webhook.DeliveryHeader),
		Signature:  r.Header.Get(webhook.SignatureHeader),
		Body:       body,
	}
	outcome, err := h.intake.Handle(r.Context(), delivery)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	h.logger.Debug("Webhook processed",
		logfields.Event(delivery.Event),
		logfields.DeliveryID(delivery.DeliveryID),
		slog.String("outcome", string(outcome)))
	writeText(w, http.StatusOK, WebhookProcessed)
}

// writeStatus writes err with a status the category mapping cannot express.
func (h *WebhookHandler) writeStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	if werr := writeJSON(w, r, status, h.errorAdapter.FormatErrorResponse(err)); werr != nil {
		h.logger.Error("failed to write error response", logfields.Error(werr))
	}
}
