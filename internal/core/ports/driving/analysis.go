package driving

import (
	"context"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// AnalysisService runs the batch analysis pipeline over a document.
type AnalysisService interface {
	// ChunkAndAnalyze re-chunks a document and analyses it under the given
	// tier's rate budget. Per-batch model failures degrade the result
	// instead of failing the run. An empty tier means the configured default.
	ChunkAndAnalyze(ctx context.Context, documentID string, tier domain.Tier, progress ProgressFunc) (*domain.HierarchicalSummary, error)
}

// ProgressFunc receives the analysis progress percentage after each batch.
// Values are monotonically non-decreasing and end at 100.
type ProgressFunc func(progress int)
