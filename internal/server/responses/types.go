// Package responses defines API response types used by PolyDocs HTTP handlers.
package responses

import (
	"encoding/json"
	"time"
)

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    float64   `json:"uptime,omitempty"`
	Ledger    string    `json:"ledger,omitempty"`
}

// BuildStatusResponse is one build ledger row with its audit trail.
type BuildStatusResponse struct {
	ID            string           `json:"id"`
	Repository    string           `json:"repository"`
	RepositoryID  int64            `json:"repository_id"`
	Status        string           `json:"status"`
	CommitSHA     string           `json:"commit_sha"`
	Branch        string           `json:"branch"`
	AuthorName    string           `json:"author_name,omitempty"`
	CommitMessage string           `json:"commit_message,omitempty"`
	PRURL         string           `json:"pr_url,omitempty"`
	Logs          string           `json:"logs,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Events        []BuildEventInfo `json:"events"`
}

// BuildEventInfo is one audit entry of a build.
type BuildEventInfo struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
