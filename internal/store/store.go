package store

import (
	"time"

	"github.com/t-hamamura/market-research-system/internal/engine"
)

// RunSummary is a lightweight representation for listing runs.
type RunSummary struct {
	ID           string    `json:"id"`
	BusinessName string    `json:"business_name"`
	Status       string    `json:"status"`
	ResumeOffset int       `json:"resume_offset"`
	SynthesisURL string    `json:"synthesis_url,omitempty"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the persistence interface for pipeline run state. It extends the
// engine-facing subset with read operations for the HTTP surface.
type Store interface {
	engine.RunStore

	ListRuns() ([]RunSummary, error)
	ListArtifacts(runID string) ([]engine.ArtifactSummary, error)
	ListEvents(runID string) ([]engine.ProgressEvent, error)

	Close() error
}
