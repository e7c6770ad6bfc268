package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [document-id] [query]",
	Short: "Search a document",
	Long: `Finds the sections of a document most relevant to a query.
Tries ranked full-text search first, then chunks containing every term,
then chunks containing any significant term, and finally the first chunk.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if toolService == nil {
		return errors.New("search service not configured")
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}

	query := strings.Join(args[1:], " ")
	result, err := toolService.SearchKnowledgeBase(cmd.Context(), args[0], userID, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, result)
	}
	return outputSearchTable(cmd, result)
}

type searchHitJSON struct {
	ChunkID  string `json:"chunk_id"`
	Position int    `json:"position"`
	Summary  string `json:"summary,omitempty"`
	Content  string `json:"content"`
}

func outputSearchJSON(cmd *cobra.Command, result *domain.SearchResult) error {
	hits := make([]searchHitJSON, len(result.Chunks))
	for i, c := range result.Chunks {
		hits[i] = searchHitJSON{ChunkID: c.ID, Position: c.Position, Summary: c.Summary, Content: c.Content}
	}

	data, err := json.MarshalIndent(struct {
		Query   string          `json:"query"`
		Match   string          `json:"match"`
		Results []searchHitJSON `json:"results"`
	}{result.Query, string(result.Stage), hits}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, result *domain.SearchResult) error {
	if len(result.Chunks) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Printf("Results (%s):\n\n", result.Stage)
	for i, c := range result.Chunks {
		cmd.Printf("[%d] Section %d\n", i+1, c.Position+1)
		if c.Summary != "" {
			cmd.Printf("    %s\n", c.Summary)
		}
		cmd.Printf("    %s\n\n", snippet(c.Content, 200))
	}
	return nil
}

// snippet flattens whitespace and truncates s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
