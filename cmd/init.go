package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/folio/internal/config"
	"github.com/kamusis/folio/internal/embeddings"
	"github.com/kamusis/folio/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create ~/.folio/folio.yaml, the .env template and the data directory",
	Long: `Initialize folio at ~/.folio/ (or $FOLIO_HOME).

An existing folio.yaml is left untouched. Secrets such as the embeddings API
key belong in ~/.folio/.env, never in folio.yaml.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	flagInitBackend  string
	flagInitProvider string
)

func init() {
	initCmd.Flags().StringVar(&flagInitBackend, "backend", config.DefaultBackend, "Persistence backend for a new config (files, sqlite, bolt)")
	initCmd.Flags().StringVar(&flagInitProvider, "provider", config.DefaultProvider, "Embeddings provider for a new config (hash, openai)")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	// ── 1. Resolve ~/.folio directory ─────────────────────────────────────────
	folioDir, err := config.FolioDir()
	if err != nil {
		return err
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(folioDir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", folioDir, err)
	}
	printOK("", fmt.Sprintf("folio directory ready: %s", folioDir))

	// ── 2. Write folio.yaml if missing ────────────────────────────────────────
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		backend, err := store.ParseKind(flagInitBackend)
		if err != nil {
			return err
		}
		provider, err := embeddings.ParseKind(flagInitProvider)
		if err != nil {
			return err
		}
		cfg, err := config.DefaultConfig()
		if err != nil {
			return err
		}
		cfg.Store.Backend = string(backend)
		cfg.Embeddings.Provider = string(provider)
		if provider != embeddings.KindHash {
			cfg.Embeddings.Dim = 0
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", cfgPath))
	} else {
		printSkip("", fmt.Sprintf("Config already exists: %s", cfgPath))
	}

	// ── 3. .env template ──────────────────────────────────────────────────────
	envPath, err := config.DotEnvPath()
	if err != nil {
		return err
	}
	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}
	printOK("", fmt.Sprintf("Secrets file ready: %s", envPath))

	// ── 4. Data directory ─────────────────────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", cfg.DataDir, err)
	}
	printOK("", fmt.Sprintf("Data directory ready: %s (%s backend)", cfg.DataDir, cfg.Store.Backend))
	return nil
}
