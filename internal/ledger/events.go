package ledger

import (
	"encoding/json"
	"time"
)

// EventType names an entry in a build's audit trail.
type EventType string

const (
	EventPhaseStarted      EventType = "PhaseStarted"
	EventPhaseCompleted    EventType = "PhaseCompleted"
	EventPhaseFailed       EventType = "PhaseFailed"
	EventDocumentPublished EventType = "DocumentPublished"
	EventBuildFinished     EventType = "BuildFinished"
)

// Event is one append-only audit entry.
type Event struct {
	ID        int64
	BuildID   string
	Type      EventType
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// PhasePayload is carried by the phase events.
type PhasePayload struct {
	Phase      string  `json:"phase"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// DocumentPayload is carried by DocumentPublished.
type DocumentPayload struct {
	Path        string `json:"path"`
	Locale      string `json:"locale"`
	BlobSHA     string `json:"blob_sha"`
	Fingerprint string `json:"fingerprint"`
}

// FinishedPayload is carried by BuildFinished.
type FinishedPayload struct {
	Status Status `json:"status"`
	PRURL  string `json:"pr_url,omitempty"`
}
