// Package chunker provides a section-aware text chunking processor.
//
// Documents are split at recognised section headings first. Oversized
// sections are split again, and text without usable headings falls back to
// paragraph accumulation and finally to fixed-size slicing.
package chunker

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// DefaultFallbackSize is the default maximum number of characters per chunk.
const DefaultFallbackSize = 4000

// Processor splits document content into ordered chunks.
// It implements the PostProcessor interface.
type Processor struct {
	fallbackSize int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithFallbackSize sets the maximum chunk size in characters.
func WithFallbackSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.fallbackSize = size
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		fallbackSize: DefaultFallbackSize,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Smaller sizes would fragment text below the chunk floor.
	if p.fallbackSize < MinChunkLength*2 {
		p.fallbackSize = MinChunkLength * 2
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// FallbackSize returns the configured maximum chunk size.
func (p *Processor) FallbackSize() int {
	return p.fallbackSize
}

// Process splits the document content into chunks.
// Input chunks are ignored; this processor creates new chunks from document content.
// When the content carries form feed page breaks, chunks are annotated with
// the pages they span.
func (p *Processor) Process(ctx context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	if strings.TrimSpace(doc.Content) == "" {
		// Empty content produces no chunks
		return nil, nil
	}

	spans := splitSpans(doc.Content, p.fallbackSize)
	chunks := make([]domain.Chunk, 0, len(spans))
	paged := strings.ContainsRune(doc.Content, '\f')

	for i, sp := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk := domain.Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Content:    sp.text,
			Position:   i,
			Metadata:   map[string]any{"chars": runeLen(sp.text)},
		}

		if paged {
			startPage := pageAt(doc.Content, sp.start)
			endPage := pageAt(doc.Content, sp.end)
			chunk.StartPage = &startPage
			chunk.EndPage = &endPage
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// pageAt returns the 1-based page number at a byte offset.
func pageAt(content string, offset int) int {
	return strings.Count(content[:offset], "\f") + 1
}
