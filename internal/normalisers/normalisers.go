package normalisers

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

// MinReadableLength is the shortest text, in characters after clean-up,
// that is worth analysing.
const MinReadableLength = 50

// MaxAbstractLength bounds the extracted abstract in characters.
const MaxAbstractLength = 2000

var (
	trailingSpace  = regexp.MustCompile(`[ \t]+\n`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
	abstractStart  = regexp.MustCompile(`(?im)^[ \t]*abstract[ \t]*(?:[:.\-][ \t]*|$)`)
	abstractFinish = regexp.MustCompile(
		`(?im)\n[ \t]*\n|^[ \t]*(?:\d+(?:\.\d+)*\.?[ \t]*)?(?:introduction|keywords|index terms)\b`)
)

// Finish builds a pending document from extracted text. The text is cleaned
// with CleanText; an explicit raw.Title wins over the extracted title, and an
// empty title falls back to the file name.
func Finish(raw *domain.RawDocument, title, text, format string) (*domain.Document, error) {
	content := CleanText(text)
	if n := utf8.RuneCountInString(content); n < MinReadableLength {
		return nil, fmt.Errorf("%w: %d readable characters in %s", domain.ErrExtractionFailed, n, raw.URI)
	}

	if raw.Title != "" {
		title = raw.Title
	}
	if title == "" {
		title = TitleFromURI(raw.URI)
	}

	metadata := make(map[string]any, len(raw.Metadata)+2)
	for k, v := range raw.Metadata {
		metadata[k] = v
	}
	metadata["mime_type"] = raw.MIMEType
	metadata["format"] = format

	now := time.Now()
	return &domain.Document{
		ID:        uuid.New().String(),
		OwnerID:   raw.OwnerID,
		URI:       raw.URI,
		Title:     strings.TrimSpace(title),
		Abstract:  ExtractAbstract(content),
		Content:   content,
		Status:    domain.DocumentStatusPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CleanText normalises line endings, drops invalid UTF-8 and control
// characters (form feeds survive as page breaks), trims trailing
// whitespace and collapses runs of blank lines.
func CleanText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\f' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, text)
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractAbstract returns the text under an "Abstract" heading, up to the
// next blank line or introduction heading, on a single line.
func ExtractAbstract(text string) string {
	loc := abstractStart.FindStringIndex(text)
	if loc == nil {
		return ""
	}

	rest := strings.TrimLeft(text[loc[1]:], " \t\n")
	if end := abstractFinish.FindStringIndex(rest); end != nil {
		rest = rest[:end[0]]
	}

	abstract := strings.Join(strings.Fields(rest), " ")
	if utf8.RuneCountInString(abstract) > MaxAbstractLength {
		abstract = string([]rune(abstract)[:MaxAbstractLength])
	}
	return abstract
}

// TitleFromURI turns a file name into a readable title.
func TitleFromURI(uri string) string {
	name := filepath.Base(uri)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSpace(name)
}

// Select returns the first normaliser supporting the MIME type, falling
// back to the last candidate. Parameters such as "; charset=utf-8" are ignored.
// It returns nil when there are no candidates.
func Select(mimeType string, candidates []driven.Normaliser) driven.Normaliser {
	if len(candidates) == 0 {
		return nil
	}

	base := strings.TrimSpace(strings.ToLower(strings.SplitN(mimeType, ";", 2)[0]))
	for _, n := range candidates {
		for _, supported := range n.SupportedMIMETypes() {
			if supported == base {
				return n
			}
		}
	}
	return candidates[len(candidates)-1]
}
