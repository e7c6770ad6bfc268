package driven

import (
	"context"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// Normaliser extracts readable text from raw uploaded content.
// Implementations return domain.ErrExtractionFailed when the result is
// empty or too short to analyse.
type Normaliser interface {
	// SupportedMIMETypes returns the MIME types this normaliser handles.
	SupportedMIMETypes() []string

	// Normalise converts raw content to a pending document.
	Normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error)
}
