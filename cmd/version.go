package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kamusis/folio/internal/store"
)

var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show folio version and build information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(_ *cobra.Command, _ []string) error {
	fmt.Fprintf(stdout, "Version:    %s\n", version)
	fmt.Fprintf(stdout, "Commit:     %s\n", emptyAsNA(commit))
	fmt.Fprintf(stdout, "Build Date: %s\n", emptyAsNA(buildDate))
	fmt.Fprintf(stdout, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(stdout, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(stdout, "Snapshot:   format v%d\n", store.FormatVersion)
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
