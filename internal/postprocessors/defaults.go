package postprocessors

import (
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/postprocessors/chunker"
)

// NewDefaultPipeline builds the ingest pipeline from pipeline settings.
func NewDefaultPipeline(settings domain.PipelineSettings) *Pipeline {
	return NewPipeline(
		chunker.New(chunker.WithFallbackSize(settings.FallbackChunkSize)),
	)
}
