package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/llm"
	"github.com/t-hamamura/market-research-system/internal/prompts"
)

// stepExecutor runs one analysis step end to end: status transition,
// generation through the rate-limited invoker and timeout guard, content and
// status write-back. It never fails the pipeline; every internal failure is
// converted into a fallback StepResult.
type stepExecutor struct {
	gen  Generator
	docs Workspace
	inv  *llm.Invoker
	log  *zap.Logger

	genTimeout   time.Duration
	successDelay time.Duration
	failureDelay time.Duration

	sleep func(ctx context.Context, d time.Duration)
}

// Execute runs def against rec and returns a StepResult, real or fallback.
func (x *stepExecutor) Execute(ctx context.Context, def StepDefinition, rec *ArtifactRecord, req ResearchRequest) StepResult {
	log := x.log.With(zap.Int("step_id", def.ID), zap.String("title", def.Title))

	// Display staleness is acceptable; pipeline correctness does not depend
	// on this write.
	if rec.Resolved() {
		if err := x.docs.UpdateStatus(ctx, rec.PageID, StatusInProgress); err != nil {
			log.Warn("failed to mark artifact in-progress", zap.Error(err))
		} else {
			rec.Status = StatusInProgress
		}
	}

	prompt := prompts.Analysis(def.TemplateKey, def.Prompt, req.BusinessName, req.HypothesisBlock())

	text, err := x.inv.Invoke(ctx, func(c context.Context) (string, error) {
		return llm.WithTimeout(c, x.genTimeout, func(tc context.Context) (string, error) {
			return x.gen.Generate(tc, prompt)
		})
	})

	if err != nil {
		log.Warn("generation exhausted, using fallback", zap.Error(err))
		text = Fallback(def, err)
		x.markStatus(ctx, rec, StatusFailed, log)
		x.sleep(ctx, x.failureDelay)
		return StepResult{ID: def.ID, Title: def.Title, Text: text}
	}

	// Content first, then status; a failed content write downgrades the
	// artifact to failed but the text is retained for the aggregate.
	finalStatus := StatusCompleted
	if rec.Resolved() {
		if werr := x.docs.UpdateContent(ctx, rec.PageID, text); werr != nil {
			log.Warn("content write failed", zap.Error(werr))
			finalStatus = StatusFailed
		}
	}
	x.markStatus(ctx, rec, finalStatus, log)
	x.sleep(ctx, x.successDelay)
	return StepResult{ID: def.ID, Title: def.Title, Text: text}
}

func (x *stepExecutor) markStatus(ctx context.Context, rec *ArtifactRecord, status ArtifactStatus, log *zap.Logger) {
	rec.Status = status
	if !rec.Resolved() {
		return
	}
	if err := x.docs.UpdateStatus(ctx, rec.PageID, status); err != nil {
		log.Warn("failed to update artifact status", zap.String("status", string(status)), zap.Error(err))
	}
}
