package normalisers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

func TestCleanText(t *testing.T) {
	in := "\uFEFFLine one   \r\nLine\x00 two\r\n\r\n\r\n\r\nPage two\f starts\t here  "
	assert.Equal(t, "Line one\nLine two\n\nPage two\f starts\t here", CleanText(in))
}

func TestExtractAbstract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "heading on its own line",
			text: "Title\n\nABSTRACT\nWe study X.\nIt works.\n\nINTRODUCTION\nBody.",
			want: "We study X. It works.",
		},
		{
			name: "inline after colon",
			text: "Abstract: Short and sweet.\n1. Introduction\nBody.",
			want: "Short and sweet.",
		},
		{
			name: "blank line after heading",
			text: "Abstract\n\nParagraph here.\n\nNext paragraph.",
			want: "Paragraph here.",
		},
		{
			name: "stops at keywords line",
			text: "Abstract\nWe study X.\nKeywords: a, b",
			want: "We study X.",
		},
		{
			name: "prose starting with the word is not a heading",
			text: "Abstract algebra is fun.\n\nMore.",
			want: "",
		},
		{
			name: "missing",
			text: "No such section.",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAbstract(tt.text))
		})
	}
}

func TestExtractAbstract_Truncates(t *testing.T) {
	text := "Abstract\n" + strings.Repeat("x", MaxAbstractLength+100)
	assert.Len(t, ExtractAbstract(text), MaxAbstractLength)
}

func TestTitleFromURI(t *testing.T) {
	assert.Equal(t, "my paper v2", TitleFromURI("/a/b/my_paper-v2.pdf"))
	assert.Equal(t, "notes", TitleFromURI("notes.txt"))
	assert.Equal(t, "", TitleFromURI(""))
}

func TestFinish(t *testing.T) {
	raw := &domain.RawDocument{OwnerID: "u1", URI: "/x/report.txt", MIMEType: "text/plain",
		Metadata: map[string]any{"k": "v"}}

	doc, err := Finish(raw, "", strings.Repeat("readable ", 10), "text")
	require.NoError(t, err)
	assert.Equal(t, "report", doc.Title)
	assert.Equal(t, "u1", doc.OwnerID)
	assert.Equal(t, "v", doc.Metadata["k"])
	assert.Equal(t, "text", doc.Metadata["format"])
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)

	_, err = Finish(raw, "T", strings.Repeat("a", MinReadableLength-1), "text")
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

type stubNormaliser struct{ types []string }

func (s stubNormaliser) SupportedMIMETypes() []string { return s.types }
func (s stubNormaliser) Normalise(context.Context, *domain.RawDocument) (*domain.Document, error) {
	return nil, nil
}

func TestSelect(t *testing.T) {
	md := stubNormaliser{types: []string{"text/markdown"}}
	text := stubNormaliser{types: []string{"text/plain"}}
	candidates := []driven.Normaliser{md, text}

	assert.Equal(t, md, Select("text/markdown; charset=utf-8", candidates))
	assert.Equal(t, text, Select("application/pdf", candidates))
	assert.Nil(t, Select("text/plain", nil))
}
