package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
)

var (
	analyzeTier     string
	analyzeParallel int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [document-id...]",
	Short: "Chunk and summarise documents",
	Long: `Splits each document into sections and summarises them in batches with the
configured language model, then builds the overview and section summaries.

Model calls are paced and budgeted by the tier (free, pro, enterprise).
Batches the model cannot answer are recorded as degraded instead of failing
the run. Several documents are analysed concurrently.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeTier, "tier", "", "rate tier (default from settings)")
	analyzeCmd.Flags().IntVarP(&analyzeParallel, "parallel", "j", 2, "documents analysed at once")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analysisService == nil {
		return errors.New("analysis service not configured")
	}

	tier := domain.Tier(analyzeTier)
	if tier != "" && !tier.IsValid() {
		return fmt.Errorf("unknown tier %q", analyzeTier)
	}

	docIDs := uniqueArgs(args)
	out := cmd.OutOrStdout()
	reporter := newProgressReporter(out, len(docIDs) == 1 && isTerminal(out))

	g := new(errgroup.Group)
	if analyzeParallel > 0 {
		g.SetLimit(analyzeParallel)
	}

	for _, docID := range docIDs {
		g.Go(func() error {
			summary, err := analysisService.ChunkAndAnalyze(cmd.Context(), docID, tier, reporter.forDocument(docID))
			reporter.done(docID, summary, err)
			if err != nil {
				return fmt.Errorf("analysis of %s failed: %w", docID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// uniqueArgs drops repeated document IDs, keeping the first occurrence.
func uniqueArgs(args []string) []string {
	seen := make(map[string]bool, len(args))
	out := make([]string, 0, len(args))
	for _, a := range args {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// progressReporter renders analysis progress. A single document on a
// terminal gets a redrawn bar; everything else gets one line per change.
type progressReporter struct {
	mu  sync.Mutex
	out io.Writer
	bar *progress.Model
}

func newProgressReporter(out io.Writer, interactive bool) *progressReporter {
	r := &progressReporter{out: out}
	if interactive {
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
		r.bar = &bar
	}
	return r
}

func (r *progressReporter) forDocument(docID string) driving.ProgressFunc {
	return func(pct int) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.bar != nil {
			fmt.Fprintf(r.out, "\r%s %s", docID, r.bar.ViewAs(float64(pct)/100))
			return
		}
		fmt.Fprintf(r.out, "%s: %d%%\n", docID, pct)
	}
}

func (r *progressReporter) done(docID string, summary *domain.HierarchicalSummary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar != nil {
		fmt.Fprintln(r.out)
	}
	if err != nil {
		fmt.Fprintf(r.out, "%s: failed: %v\n", docID, err)
		return
	}

	fmt.Fprintf(r.out, "%s: analysed into %d sections\n", docID, len(summary.Sections))
	fmt.Fprintf(r.out, "\n%s\n\n", headingStyle.Render("Overview"))
	fmt.Fprintln(r.out, summary.Overview)
	for _, sec := range summary.Sections {
		fmt.Fprintf(r.out, "\n%s\n%s\n", sectionStyle.Render(sec.Title), sec.Summary)
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
