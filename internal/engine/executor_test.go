package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/llm"
)

func newTestExecutor(gen Generator, docs Workspace) *stepExecutor {
	inv := llm.NewInvoker(llm.InvokerConfig{
		MinInterval:    time.Millisecond,
		MaxAttempts:    2,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     time.Millisecond,
		RetryDelay:     time.Millisecond,
		MinResponseLen: 10,
	}, nil)
	return &stepExecutor{
		gen:          gen,
		docs:         docs,
		inv:          inv,
		log:          zap.NewNop(),
		genTimeout:   time.Second,
		successDelay: time.Nanosecond,
		failureDelay: time.Nanosecond,
		sleep:        func(context.Context, time.Duration) {},
	}
}

func TestExecuteSuccessWritesContentThenCompletes(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	docs := newFakeWorkspace()
	exec := newTestExecutor(gen, docs)

	rec := &ArtifactRecord{PageID: "p1", URL: "u", Title: "Market Size & Growth", Status: StatusPending}
	res := exec.Execute(context.Background(), stepDefinitions[0], rec, validRequest())

	if res.Text != genText {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status %q, want completed", rec.Status)
	}
	if docs.contents["p1"] != genText {
		t.Fatal("content was not written to the workspace")
	}
	// in-progress first, completed last.
	transitions := docs.statuses["p1"]
	if len(transitions) < 2 || transitions[0] != StatusInProgress || transitions[len(transitions)-1] != StatusCompleted {
		t.Fatalf("unexpected status transitions: %v", transitions)
	}
}

func TestExecuteNeverFails(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{err: errors.New("generation outage")}
	docs := newFakeWorkspace()
	exec := newTestExecutor(gen, docs)

	rec := &ArtifactRecord{PageID: "p1", Title: "Market Size & Growth", Status: StatusPending}
	res := exec.Execute(context.Background(), stepDefinitions[0], rec, validRequest())

	if res.Text == "" {
		t.Fatal("fallback result must not be empty")
	}
	if res.ID != stepDefinitions[0].ID || res.Title != stepDefinitions[0].Title {
		t.Fatalf("result identity mismatch: %+v", res)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status %q, want failed", rec.Status)
	}
	if len(docs.contents) != 0 {
		t.Fatal("no content must be written on exhausted generation")
	}
}

func TestExecuteContentWriteFailureDowngradesStatus(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	docs := newFakeWorkspace()
	docs.contentErr = errors.New("append rejected")
	exec := newTestExecutor(gen, docs)

	rec := &ArtifactRecord{PageID: "p1", Title: "Market Size & Growth", Status: StatusPending}
	res := exec.Execute(context.Background(), stepDefinitions[0], rec, validRequest())

	// Text is retained for the aggregate even though the write failed.
	if res.Text != genText {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status %q, want failed", rec.Status)
	}
}

func TestExecuteUnresolvedArtifactSkipsWorkspaceWrites(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	docs := newFakeWorkspace()
	exec := newTestExecutor(gen, docs)

	rec := &ArtifactRecord{PageID: PageUnresolved, Title: "Market Size & Growth", Status: StatusPending}
	res := exec.Execute(context.Background(), stepDefinitions[0], rec, validRequest())

	if res.Text != genText {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status %q, want completed", rec.Status)
	}
	if len(docs.statuses) != 0 || len(docs.contents) != 0 {
		t.Fatal("unresolved artifacts must not touch the workspace")
	}
}

func TestSetupIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	docs := newFakeWorkspace()
	eng := newTestEngine(gen, docs, nil)

	if _, err := eng.Run(context.Background(), validRequest(), nil, 0); err != nil {
		t.Fatalf("first run: %v", err)
	}
	created := docs.created
	if created != AnalysisStepCount+1 {
		t.Fatalf("first run created %d documents", created)
	}

	// A replayed fresh run finds every document and creates nothing new.
	if _, err := eng.Run(context.Background(), validRequest(), nil, 0); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if docs.created != created {
		t.Fatalf("replay created %d extra documents", docs.created-created)
	}
}
