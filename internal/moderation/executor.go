package moderation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
)

// AnalysisExecutor runs queued chat-analysis tasks: fetch the pending
// record, obtain a verdict from the analysis engine, and feed it back
// through the pipeline. Engine failures bubble up for retry.
type AnalysisExecutor struct {
	store    Store
	analyzer Analyzer
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewAnalysisExecutor creates the executor for chat analysis tasks.
func NewAnalysisExecutor(store Store, analyzer Analyzer, pipeline *Pipeline, logger *zap.Logger) *AnalysisExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisExecutor{store: store, analyzer: analyzer, pipeline: pipeline, logger: logger}
}

// Execute analyzes the record referenced by the task.
func (e *AnalysisExecutor) Execute(ctx context.Context, task *models.AnalysisTask) error {
	rec, err := e.store.GetRecord(ctx, task.TargetID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Record was removed; nothing left to judge.
			e.logger.Warn("analysis target gone", zap.String("record_id", task.TargetID.String()))
			return nil
		}
		return fmt.Errorf("load record: %w", err)
	}
	if rec.Status.Terminal() {
		// A moderator already decided; the verdict would be discarded anyway.
		return nil
	}

	verdict, err := e.analyzer.Analyze(ctx, rec.Content)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return e.pipeline.ResolveVerdict(ctx, task.TargetID, verdict)
}
