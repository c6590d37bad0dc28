package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagLogLevel string

var rootCmd = &cobra.Command{
	Use:          "folio",
	Short:        "folio — local document retrieval engine",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `folio splits documents into overlapping chunks, embeds them and keeps
them in named collections under ~/.folio/, ready for similarity search and
token-bounded context assembly.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log.level from folio.yaml (debug, info, warn, error)")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
