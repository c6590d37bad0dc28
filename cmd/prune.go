package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagPruneKeep int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old snapshot generations",
	Long: `Delete snapshot generations that are no longer current, keeping the
newest --keep of them per collection (default: store.keep_generations).`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().IntVar(&flagPruneKeep, "keep", -1, "Non-current generations to keep per collection")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	keep := a.cfg.Store.KeepGenerations
	if cmd.Flags().Changed("keep") {
		if flagPruneKeep < 0 {
			return fmt.Errorf("--keep must be >= 0, got %d", flagPruneKeep)
		}
		keep = flagPruneKeep
	}
	n, err := a.mgr.Prune(cmd.Context(), keep)
	if err != nil {
		return err
	}
	if n == 0 {
		printSkip("", "nothing to prune")
		return nil
	}
	printOK("", fmt.Sprintf("removed %d generation(s), kept up to %d per collection", n, keep))
	return nil
}
