package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/odvcencio/patchgate/pkg/approval"
	"github.com/odvcencio/patchgate/pkg/blob"
	"github.com/odvcencio/patchgate/pkg/lifecycle"
	"github.com/odvcencio/patchgate/pkg/patch"
	"github.com/odvcencio/patchgate/pkg/safety"
	"github.com/odvcencio/patchgate/pkg/store"
)

const defaultDataDir = ".pg"

var (
	dataDir string
	verbose bool
)

// env bundles everything a command needs after opening the data
// directory. Close releases the catalog connection.
type env struct {
	cfg       *store.Config
	store     *store.Store
	ledger    *approval.Ledger
	applier   *patch.Applier
	checker   *safety.Checker
	lifecycle *lifecycle.Lifecycle
	log       *slog.Logger
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEnv opens an existing patchgate data directory.
func openEnv() (*env, error) {
	if _, err := os.Stat(dataDir); err != nil {
		return nil, fmt.Errorf("no patchgate data directory at %s (run patchgate init)", dataDir)
	}
	cfg, err := store.LoadConfig(dataDir)
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	st, err := store.Open(cfg.CatalogPath, blob.NewStore(cfg.BlobDir), logger)
	if err != nil {
		return nil, err
	}
	ledger, err := approval.NewLedger(st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	applier := patch.NewApplier(st, cfg.StagingDir, logger)
	checker := safety.NewChecker(st, logger)
	return &env{
		cfg:       cfg,
		store:     st,
		ledger:    ledger,
		applier:   applier,
		checker:   checker,
		lifecycle: lifecycle.New(st, applier, checker, ledger, logger),
		log:       logger,
	}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}
