package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/folio/internal/collection"
	"github.com/kamusis/folio/internal/config"
	"github.com/kamusis/folio/internal/embeddings"
	"github.com/kamusis/folio/internal/maintenance"
	"github.com/kamusis/folio/internal/segment"
)

var flagDoctorProbe bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run environment and collection health checks",
	Long: `Check that folio's configuration, data directory and embeddings provider
are usable, and verify the persisted snapshot of every collection.
Run this command when something seems wrong, or before filing a bug report.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&flagDoctorProbe, "probe", false, "Embed a short test string to check the provider end to end")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}
	skipped := func() { printWarn("", "skipped (folio.yaml not loaded)") }

	printSection("folio doctor")
	fmt.Fprintln(stdout)

	// ── Check 1: folio home ───────────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ folio home ]")
	if dir, err := config.FolioDir(); err != nil {
		failD("cannot determine folio home: %v", err)
	} else if _, err := os.Stat(dir); os.IsNotExist(err) {
		failD("%s not found — run 'folio init' first", dir)
	} else {
		printOK("", fmt.Sprintf("exists: %s", dir))
	}
	fmt.Fprintln(stdout)

	// ── Check 2: folio.yaml ───────────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ folio.yaml ]")
	cfg, loadErr := config.Load()
	if loadErr != nil {
		failD("cannot load folio.yaml: %v", loadErr)
	} else {
		printOK("", fmt.Sprintf("valid — backend %s, provider %s", cfg.Store.Backend, cfg.Embeddings.Provider))
		if _, err := segment.New(cfg.Segment.ChunkSize, cfg.Segment.Overlap, cfg.Segment.MinLength); err != nil {
			failD("segment settings: %v", err)
		}
		if spec := cfg.Store.PruneSchedule; spec != "" {
			if err := maintenance.ValidateSchedule(spec); err != nil {
				failD("%v", err)
			} else {
				printOK("", fmt.Sprintf("prune schedule %q, keep %d", spec, cfg.Store.KeepGenerations))
			}
		}
	}
	fmt.Fprintln(stdout)

	// ── Check 3: data directory ───────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ Data directory ]")
	if loadErr == nil {
		if info, err := os.Stat(cfg.DataDir); err != nil {
			printWarn("", fmt.Sprintf("%s does not exist yet (created on first ingest)", cfg.DataDir))
		} else if !info.IsDir() {
			failD("%s is not a directory", cfg.DataDir)
		} else {
			printOK("", cfg.DataDir)
		}
	} else {
		skipped()
	}
	fmt.Fprintln(stdout)

	// ── Check 4: embeddings ───────────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ Embeddings ]")
	var prov embeddings.Provider
	if loadErr == nil {
		p, err := newProvider(cfg)
		if err != nil {
			failD("provider %s: %v", cfg.Embeddings.Provider, err)
		} else {
			prov = p
			printOK("", fmt.Sprintf("provider ready: %s", p.ModelID()))
			if flagDoctorProbe {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				v, err := p.Embed(ctx, "folio doctor probe")
				cancel()
				if err != nil {
					failD("probe failed: %v", err)
				} else {
					printOK("", fmt.Sprintf("probe returned %d dimensions", len(v)))
				}
			}
		}
	} else {
		skipped()
	}
	fmt.Fprintln(stdout)

	// ── Check 5: collections ──────────────────────────────────────────────────
	fmt.Fprintln(stdout, "[ Collections ]")
	if loadErr == nil && prov != nil {
		if err := checkCollections(cmd.Context(), cfg, prov, failD); err != nil {
			failD("%v", err)
		}
	} else {
		printWarn("", "skipped (no usable config or provider)")
	}
	fmt.Fprintln(stdout)

	// ── Summary ───────────────────────────────────────────────────────────────
	fmt.Fprintln(stdout, "===================")
	if allOK {
		fmt.Fprintln(stdout, "✓  All checks passed. folio is ready to use.")
	} else {
		fmt.Fprintln(stderr, "✗  One or more checks failed. See details above.")
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// checkCollections verifies every persisted snapshot. Collections built with
// another model are reported as warnings; they still load, but searches fail.
func checkCollections(ctx context.Context, cfg *config.Config, prov embeddings.Provider, failD func(string, ...any)) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	seg, err := segment.New(cfg.Segment.ChunkSize, cfg.Segment.Overlap, cfg.Segment.MinLength)
	if err != nil {
		st.Close()
		return err
	}
	mgr, err := collection.NewManager(collection.Options{Store: st, Embedder: prov, Segmenter: seg})
	if err != nil {
		st.Close()
		return err
	}
	defer mgr.Close()

	ids, err := mgr.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		printMiss("", "no collections")
		return nil
	}
	for _, id := range ids {
		if err := mgr.Verify(ctx, id); err != nil {
			failD("[%s] %v", id, err)
			continue
		}
		stats, err := mgr.Stats(ctx, id)
		if err != nil {
			failD("[%s] %v", id, err)
			continue
		}
		if stats.ModelID != "" && stats.ModelID != prov.ModelID() {
			printWarn(id, fmt.Sprintf("built with %s, provider is %s (searches will fail)", stats.ModelID, prov.ModelID()))
			continue
		}
		printOK(id, fmt.Sprintf("%d chunk(s), generation %d", stats.Chunks, stats.Generation))
	}
	return nil
}
