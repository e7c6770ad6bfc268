package chunker

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinChunkLength is the minimum trimmed length of a kept segment.
// Shorter segments are usually stray headings or page furniture.
const MinChunkLength = 10

// headingPatterns match the start of a section. Order matters only for
// readability; every match contributes a split offset.
var headingPatterns = []*regexp.Regexp{
	heading(`abstract`),
	heading(`introduction`),
	heading(`background|related[ \t]+work`),
	heading(`methods?|methodology|materials[ \t]+and[ \t]+methods`),
	heading(`results?`),
	heading(`discussion`),
	heading(`conclusions?`),
	heading(`references|bibliography`),
	regexp.MustCompile(`(?m)^[ \t]*\d+(?:\.\d+)*\.?[ \t]+[A-Z][^\n]{0,80}$`),
}

// heading builds a line-anchored, case-insensitive pattern for a named
// section. The name may be numbered ("2. Methods") and followed by a colon
// and inline text ("Abstract: We propose ...").
func heading(names string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t]*(?:\d+(?:\.\d+)*\.?[ \t]*)?(?:` + names + `)[ \t]*(?::[^\n]*)?$`)
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// span is a segment together with the byte range of the input it came from.
// Paragraphs accumulated into one segment are joined with a blank line, so
// text need not equal input[start:end].
type span struct {
	text       string
	start, end int
}

// Split breaks text into ordered segments no longer than fallbackSize
// characters. It never returns empty segments.
func Split(text string, fallbackSize int) []string {
	spans := splitSpans(text, fallbackSize)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.text
	}
	return out
}

func splitSpans(text string, fallbackSize int) []span {
	if fallbackSize <= 0 {
		fallbackSize = DefaultFallbackSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	whole := trimmed(text, 0, len(text))
	return splitRange(text, whole.start, whole.end, fallbackSize)
}

// splitRange splits text[lo:hi] at section headings, re-splitting
// oversized sections and falling back to paragraphs without headings.
func splitRange(text string, lo, hi, fallbackSize int) []span {
	sections := sectionSpans(text, lo, hi)
	if len(sections) <= 1 {
		return paragraphSpans(text, lo, hi, fallbackSize)
	}

	out := make([]span, 0, len(sections))
	for _, sec := range sections {
		if runeLen(sec.text) > fallbackSize {
			out = append(out, splitRange(text, sec.start, sec.end, fallbackSize)...)
			continue
		}
		out = append(out, sec)
	}
	return out
}

// sectionSpans cuts text[lo:hi] at every heading offset and drops segments
// below the floor.
func sectionSpans(text string, lo, hi int) []span {
	sub := text[lo:hi]
	offsets := []int{0, len(sub)}
	for _, re := range headingPatterns {
		for _, loc := range re.FindAllStringIndex(sub, -1) {
			offsets = append(offsets, loc[0])
		}
	}

	sort.Ints(offsets)

	var segments []span
	prev := -1
	for _, off := range offsets {
		if off == prev {
			continue
		}
		if prev >= 0 {
			if sp := trimmed(text, lo+prev, lo+off); runeLen(sp.text) >= MinChunkLength {
				segments = append(segments, sp)
			}
		}
		prev = off
	}
	return segments
}

// paragraphSpans accumulates blank-line separated paragraphs of
// text[lo:hi], flushing before a chunk would exceed fallbackSize.
// Paragraphs that are too long on their own are sliced.
func paragraphSpans(text string, lo, hi, fallbackSize int) []span {
	var (
		chunks           []span
		current          strings.Builder
		curStart, curEnd int
	)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, span{text: s, start: curStart, end: curEnd})
		}
		current.Reset()
	}

	sub := text[lo:hi]
	breaks := append(paragraphBreak.FindAllStringIndex(sub, -1), []int{len(sub), len(sub)})
	pos := 0
	for _, b := range breaks {
		para := trimmed(text, lo+pos, lo+b[0])
		pos = b[1]
		if para.text == "" {
			continue
		}

		if runeLen(para.text) > fallbackSize {
			flush()
			chunks = append(chunks, fixedSpans(text, para.start, para.end, fallbackSize)...)
			continue
		}

		if current.Len() > 0 && runeLen(current.String())+2+runeLen(para.text) > fallbackSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		} else {
			curStart = para.start
		}
		current.WriteString(para.text)
		curEnd = para.end
	}
	flush()

	if len(chunks) <= 1 && runeLen(sub) > fallbackSize {
		whole := trimmed(text, lo, hi)
		return fixedSpans(text, whole.start, whole.end, fallbackSize)
	}
	return chunks
}

// fixedSpans slices text[lo:hi] into pieces of at most size runes.
func fixedSpans(text string, lo, hi, size int) []span {
	var out []span
	for lo < hi {
		cut := lo
		for i := 0; i < size && cut < hi; i++ {
			_, w := utf8.DecodeRuneInString(text[cut:hi])
			cut += w
		}

		if sp := trimmed(text, lo, cut); sp.text != "" {
			out = append(out, sp)
		}
		lo = cut
	}
	return out
}

// trimmed returns text[lo:hi] without surrounding whitespace, with the
// offsets narrowed to match.
func trimmed(text string, lo, hi int) span {
	s := text[lo:hi]
	left := len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
	t := strings.TrimSpace(s)
	return span{text: t, start: lo + left, end: lo + left + len(t)}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
