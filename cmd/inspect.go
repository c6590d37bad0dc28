package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagInspectFull bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <collection> <source>",
	Short: "Show the chunks and metadata stored for one source",
	Long: `Display every chunk ingested for a source, in order, with its id and
metadata. Useful to check how a document was segmented.

Example:
  folio inspect notes guides/setup.md
  folio inspect notes guides/setup.md --full`,
	Args: cobra.ExactArgs(2),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&flagInspectFull, "full", false, "Print full chunk text instead of a snippet")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	collectionID, sourceID := args[0], args[1]

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	chunks, err := a.mgr.SourceChunks(cmd.Context(), collectionID, sourceID)
	if err != nil {
		return err
	}
	printSection(fmt.Sprintf("%s / %s", collectionID, sourceID))
	if len(chunks) == 0 {
		printMiss(sourceID, "no chunks found")
		return nil
	}

	if meta := chunks[0].Metadata; len(meta) > 0 {
		printBullet("Metadata:")
		for _, f := range meta {
			fmt.Fprintf(stdout, "  %-12s %s\n", f.Key+":", f.Value)
		}
	}

	printBullet(fmt.Sprintf("Chunks (%d):", len(chunks)))
	for _, c := range chunks {
		text := snippet(c.Text, 120)
		if flagInspectFull {
			text = strings.TrimSpace(c.Text)
		}
		fmt.Fprintf(stdout, "\n  #%d  %s  (%d chars)\n", c.Seq, c.ID, len([]rune(c.Text)))
		fmt.Fprintf(stdout, "      %s\n", text)
	}
	return nil
}
