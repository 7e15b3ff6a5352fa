package engine

import "context"

// ArtifactStatus is the lifecycle vocabulary of one research document.
type ArtifactStatus string

const (
	StatusPending    ArtifactStatus = "pending"
	StatusInProgress ArtifactStatus = "in-progress"
	StatusCompleted  ArtifactStatus = "completed"
	StatusFailed     ArtifactStatus = "failed"

	// StatusSkipped appears only in aggregate summaries, for analysis steps
	// below the resume offset. Workspace documents never carry it.
	StatusSkipped ArtifactStatus = "skipped"
)

// PageUnresolved is the sentinel PageID for an artifact whose workspace
// document could not be found or created. Steps with unresolved pages still
// execute; only write-backs are skipped.
const PageUnresolved = ""

// SynthesisTitle is the workspace category/title of the synthesis artifact.
const SynthesisTitle = "Research Synthesis Report"

// Page is an opaque handle into the document workspace.
type Page struct {
	ID  string
	URL string
}

// ArtifactRecord tracks one research document across a pipeline run. Created
// during the setup phase, mutated by the step executor, never deleted here.
type ArtifactRecord struct {
	PageID   string         `json:"pageId"`
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Category string         `json:"category"`
	Status   ArtifactStatus `json:"status"`
}

// Resolved reports whether the record points at a real workspace document.
func (a *ArtifactRecord) Resolved() bool { return a.PageID != PageUnresolved }

// ArtifactSummary is the per-artifact slice of the aggregate result.
type ArtifactSummary struct {
	Step   int            `json:"step"`
	Title  string         `json:"title"`
	Status ArtifactStatus `json:"status"`
	URL    string         `json:"url,omitempty"`
}

// StepResult is the in-memory outcome of one executed analysis step; real
// generated text or fallback text, never empty.
type StepResult struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Generator produces analysis text for a prompt. Implementations must be
// safe for sequential reuse; the engine never calls Generate concurrently
// within one run.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Workspace is the document-workspace boundary consumed by the engine.
// FindArtifact returns (nil, nil) on a clean miss.
type Workspace interface {
	FindArtifact(ctx context.Context, businessName, category string) (*Page, error)
	CreateArtifact(ctx context.Context, businessName, title, category string) (*Page, error)
	UpdateStatus(ctx context.Context, pageID string, status ArtifactStatus) error
	UpdateContent(ctx context.Context, pageID, text string) error
	URLFor(pageID string) string
}
