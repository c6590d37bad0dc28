package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections [collection]",
	Short: "List collections, or show one collection's sources",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCollections,
}

var deleteSourceCmd = &cobra.Command{
	Use:   "delete-source <collection> <source>",
	Short: "Remove every chunk of one source from a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeleteSource,
}

var clearCmd = &cobra.Command{
	Use:   "clear <collection>",
	Short: "Delete a collection and its persisted snapshots",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(deleteSourceCmd)
	rootCmd.AddCommand(clearCmd)
}

func runCollections(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 1 {
		return showCollection(cmd, a, args[0])
	}

	ids, err := a.mgr.List(cmd.Context())
	if err != nil {
		return err
	}
	printSection("Collections")
	if len(ids) == 0 {
		printMiss("", "no collections yet (run 'folio ingest <collection> <path>')")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, id := range ids {
		st, err := a.mgr.Stats(cmd.Context(), id)
		if err != nil {
			fmt.Fprintf(w, "  ✗\t%s\t%v\n", id, err)
			continue
		}
		fmt.Fprintf(w, "  ●\t%s\t%d chunk(s)\t%d source(s)\tgen %d\t%s\n",
			id, st.Chunks, len(st.Sources), st.Generation, st.ModelID)
	}
	return w.Flush()
}

func showCollection(cmd *cobra.Command, a *app, id string) error {
	st, err := a.mgr.Stats(cmd.Context(), id)
	if err != nil {
		return err
	}
	printSection(id)
	fmt.Fprintf(stdout, "  Model:      %s\n", st.ModelID)
	fmt.Fprintf(stdout, "  Dimension:  %d\n", st.Dim)
	fmt.Fprintf(stdout, "  Chunks:     %d\n", st.Chunks)
	fmt.Fprintf(stdout, "  Generation: %d\n", st.Generation)

	sources := make([]string, 0, len(st.Sources))
	for s := range st.Sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	printBullet(fmt.Sprintf("Sources (%d):", len(sources)))
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	for _, s := range sources {
		fmt.Fprintf(w, "  %s\t%d chunk(s)\n", s, st.Sources[s])
	}
	return w.Flush()
}

func runDeleteSource(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.mgr.DeleteSource(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if n == 0 {
		printMiss(args[1], "no chunks found")
		return nil
	}
	printOK(args[1], fmt.Sprintf("removed %d chunk(s) from %s", n, args[0]))
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.mgr.Clear(cmd.Context(), args[0]); err != nil {
		return err
	}
	printOK(args[0], "cleared")
	return nil
}
