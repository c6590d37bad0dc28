package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kamusis/folio/internal/api"
	"github.com/kamusis/folio/internal/maintenance"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the collection API over HTTP",
	Long: `Serve the JSON API on --addr (default: server.addr).

When store.prune_schedule is set (cron syntax, e.g. "0 3 * * *" or "@daily"),
old generations are pruned on that schedule while the server runs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default: server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	addr := flagServeAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var maint api.StatusReporter
	if spec := a.cfg.Store.PruneSchedule; spec != "" {
		pruner, err := maintenance.NewPruner(a.mgr, spec, a.cfg.Store.KeepGenerations, a.logger)
		if err != nil {
			return err
		}
		if err := pruner.Start(); err != nil {
			return err
		}
		defer pruner.Stop()
		maint = pruner
	}

	srv := api.NewServer(api.Options{
		Manager:     a.mgr,
		Assembler:   a.asm,
		Logger:      a.logger,
		Maintenance: maint,
		TopK:        a.cfg.Context.TopK,
		TokenBudget: a.cfg.Context.TokenBudget,
	})
	a.logger.Info("serving", "addr", addr, "backend", a.cfg.Store.Backend, "model", a.mgr.Embedder().ModelID())
	return srv.ListenAndServe(ctx, addr)
}

