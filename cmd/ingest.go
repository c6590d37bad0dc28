package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/folio/internal/extract"
	"github.com/kamusis/folio/internal/vindex"
)

var (
	flagIngestSource  string
	flagIngestExclude []string
	flagIngestMeta    []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <collection> <path>...",
	Short: "Extract, chunk, embed and store documents in a collection",
	Long: `Ingest files or directories into a collection. Directories are walked
recursively; supported formats are .txt, .md, .pdf, .html and .htm.

Use "-" as the only path to read plain text from stdin (requires --source).
Re-ingesting a source appends new chunks; run 'folio delete-source' first to
replace it.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&flagIngestSource, "source", "", "Source id to record (single file or stdin only; default: file name)")
	ingestCmd.Flags().StringSliceVar(&flagIngestExclude, "exclude", nil, "Glob patterns to skip when walking directories")
	ingestCmd.Flags().StringArrayVar(&flagIngestMeta, "meta", nil, "Extra metadata as key=value (repeatable)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	collectionID, paths := args[0], args[1:]
	if flagIngestSource != "" && len(paths) > 1 {
		return errors.New("--source can only be used with a single path")
	}
	extra, err := parseMeta(flagIngestMeta)
	if err != nil {
		return err
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	printSection(fmt.Sprintf("folio ingest → %s", collectionID))

	var docs, total, failed int
	ingest := func(doc extract.Document) error {
		docs++
		if flagIngestSource != "" {
			doc.SourceID = flagIngestSource
		}
		for _, f := range extra {
			doc.Metadata = doc.Metadata.Set(f.Key, f.Value)
		}
		n, err := a.mgr.Ingest(ctx, collectionID, doc.SourceID, doc.Text, doc.Metadata)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			printErr(doc.SourceID, err.Error())
			failed++
			return nil
		}
		printOK(doc.SourceID, fmt.Sprintf("%d chunk(s)", n))
		total += n
		return nil
	}

	if len(paths) == 1 && paths[0] == "-" {
		if flagIngestSource == "" {
			return errors.New("reading from stdin requires --source")
		}
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("cannot read stdin: %w", err)
		}
		if err := ingest(extract.Document{Text: string(b)}); err != nil {
			return err
		}
	} else {
		for _, p := range paths {
			err := extract.Walk(p, flagIngestExclude, ingest)
			if errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				printErr(p, err.Error())
				failed++
			}
		}
	}

	if docs == 0 {
		printInfo("", fmt.Sprintf("no supported files found (formats: %s)", strings.Join(extract.Formats(), " ")))
	}

	fmt.Fprintln(stdout)
	if failed > 0 {
		return fmt.Errorf("%d source(s) failed; %d chunk(s) ingested", failed, total)
	}
	fmt.Fprintf(stdout, "  ✓  %d chunk(s) ingested into %s\n", total, collectionID)
	return nil
}

func parseMeta(pairs []string) (vindex.Metadata, error) {
	var out vindex.Metadata
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q (want key=value)", p)
		}
		out = out.Set(strings.TrimSpace(k), v)
	}
	return out, nil
}
