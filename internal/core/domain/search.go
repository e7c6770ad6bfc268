package domain

import "strings"

// SearchStage identifies which step of the retrieval cascade produced a result.
type SearchStage string

// Retrieval cascade stages, in the order they are tried.
const (
	SearchStageFullText SearchStage = "full_text"
	SearchStageAllTerms SearchStage = "all_terms"
	SearchStageAnyTerm  SearchStage = "any_term"
	SearchStageAnchor   SearchStage = "first_chunk"

	// SearchStageCached marks results served from the search cache.
	SearchStageCached SearchStage = "cached"
)

// ChunkHit is a chunk returned by the full-text index with its relevance score.
type ChunkHit struct {
	// Chunk is the matched chunk.
	Chunk Chunk

	// Score is the relevance score (higher is better).
	Score float64
}

// SearchResult is the output of the knowledge base search tool.
type SearchResult struct {
	Query  string
	Stage  SearchStage
	Chunks []Chunk
}

// NormaliseQuery lower-cases a query and collapses its whitespace.
// It is the key under which search results are cached.
func NormaliseQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// QueryTerms splits a query into lower-cased terms, dropping punctuation.
func QueryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
	})
	terms := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// SignificantTerms returns the query terms longer than three characters.
func SignificantTerms(query string) []string {
	var out []string
	for _, t := range QueryTerms(query) {
		if len([]rune(t)) > 3 {
			out = append(out, t)
		}
	}
	return out
}
