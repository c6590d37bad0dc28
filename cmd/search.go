package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kamusis/folio/internal/vindex"
)

var (
	flagSearchK        int
	flagSearchMinScore float64
)

var searchCmd = &cobra.Command{
	Use:   "search <collection> <query>",
	Short: "Return the chunks most similar to a query",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchK, "k", 0, "Number of results to show (default: context.top_k)")
	searchCmd.Flags().Float64Var(&flagSearchMinScore, "min-score", 0, "Minimum cosine similarity score to include")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	collectionID := args[0]
	query := strings.Join(args[1:], " ")

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	k := flagSearchK
	if k <= 0 {
		k = a.cfg.Context.TopK
	}
	hits, err := a.mgr.Search(cmd.Context(), collectionID, query, k)
	if err != nil {
		return err
	}
	if flagSearchMinScore > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if float64(h.Score) >= flagSearchMinScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	printSearchResults(collectionID, query, hits)
	return nil
}

func printSearchResults(collectionID, query string, hits []vindex.Hit) {
	fmt.Fprintf(stdout, "\nfolio search %s %q\n\n", collectionID, query)
	fmt.Fprintf(stdout, "Results (%d found):\n", len(hits))
	if len(hits) == 0 {
		return
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for i, h := range hits {
		fmt.Fprintf(w, "  %d.\t[%.3f]\t%s#%d\n", i+1, h.Score, h.Chunk.SourceID, h.Chunk.Seq)
		fmt.Fprintf(w, "  - %s\n", snippet(h.Chunk.Text, 160))
	}
	_ = w.Flush()
}

// snippet shortens s to at most n runes on a word boundary.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
