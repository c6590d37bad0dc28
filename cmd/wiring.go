package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/kamusis/folio/internal/collection"
	"github.com/kamusis/folio/internal/config"
	"github.com/kamusis/folio/internal/embeddings"
	"github.com/kamusis/folio/internal/retrieval"
	"github.com/kamusis/folio/internal/segment"
	"github.com/kamusis/folio/internal/store"
	"github.com/kamusis/folio/internal/store/bolt"
	"github.com/kamusis/folio/internal/store/files"
	"github.com/kamusis/folio/internal/store/sqlite"
)

type opener func(dataDir string) (store.Store, error)

// openers maps each backend to its location under data_dir.
var openers = map[store.Kind]opener{
	store.KindFiles: func(dataDir string) (store.Store, error) {
		s, err := files.Open(filepath.Join(dataDir, "collections"))
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	store.KindSQLite: func(dataDir string) (store.Store, error) {
		s, err := sqlite.Open(filepath.Join(dataDir, "folio.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	store.KindBolt: func(dataDir string) (store.Store, error) {
		s, err := bolt.Open(filepath.Join(dataDir, "folio.bolt"))
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// app bundles everything a command needs. Release it with close.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	mgr    *collection.Manager
	asm    *retrieval.Assembler
}

func (a *app) close() {
	if err := a.mgr.Close(); err != nil {
		a.logger.Warn("cannot close store", "err", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'folio init' first.", err)
	}
	return cfg, nil
}

func newLogger(level string) (*log.Logger, error) {
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := log.NewWithOptions(stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "folio",
	})
	logger.SetLevel(lvl)
	return logger, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	kind, err := store.ParseKind(cfg.Store.Backend)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", cfg.DataDir, err)
	}
	s, err := openers[kind](cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s store in %s: %w", kind, cfg.DataDir, err)
	}
	return s, nil
}

func newProvider(cfg *config.Config) (embeddings.Provider, error) {
	embCfg, err := embeddings.LoadConfig(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	return embeddings.NewFromConfig(embCfg)
}

// loadApp resolves config, store, provider and manager.
func loadApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	prov, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	seg, err := segment.New(cfg.Segment.ChunkSize, cfg.Segment.Overlap, cfg.Segment.MinLength)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	mgr, err := collection.NewManager(collection.Options{
		Store:     st,
		Embedder:  prov,
		Segmenter: seg,
		Logger:    logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		mgr:    mgr,
		asm:    retrieval.NewAssembler(mgr, retrieval.Options{TokenMultiplier: cfg.Context.TokenMultiplier}),
	}, nil
}
