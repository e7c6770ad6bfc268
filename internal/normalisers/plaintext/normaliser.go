// Package plaintext provides the fallback Normaliser for plain text,
// including text already extracted from PDFs (form feeds mark page breaks).
package plaintext

import (
	"context"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/normalisers"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles plain text documents.
type Normaliser struct{}

// New creates a new plain text normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{
		"text/plain",
		"text/csv",
		"application/octet-stream",
	}
}

// Normalise cleans the text and takes the title from metadata, the first
// line when it reads like a title, or the file name.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	content := string(raw.Content)
	return normalisers.Finish(raw, titleOf(raw, normalisers.CleanText(content)), content, "text")
}

// titleOf prefers a metadata title, then a short first line.
func titleOf(raw *domain.RawDocument, text string) string {
	if title, ok := raw.Metadata["title"].(string); ok && title != "" {
		return title
	}

	first, _, _ := cutLine(text)
	if n := len([]rune(first)); n >= 4 && n <= 200 {
		return first
	}
	return ""
}

func cutLine(text string) (string, string, bool) {
	for i, r := range text {
		if r == '\n' || r == '\f' {
			return text[:i], text[i+1:], true
		}
	}
	return text, "", false
}
