package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	protocol "github.com/BendDAO/bend-lending-protocol-sub001/config"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
	"github.com/BendDAO/bend-lending-protocol-sub001/storage"
)

// state is the pool deployment together with its backing database.
type state struct {
	deployment *protocol.Deployment
	store      *lending.Store
	db         storage.Database
	restored   bool
}

// openState opens the LevelDB under the configured data directory and either
// restores the saved pool and vault or configures a fresh deployment from
// the protocol file and saves it.
func openState(cfg *protocol.Config, logger *slog.Logger) (*state, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	st, err := loadState(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func loadState(cfg *protocol.Config, db storage.Database, logger *slog.Logger) (*state, error) {
	d, err := protocol.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build deployment: %w", err)
	}
	d.Pool.SetLogger(logger)
	store := lending.NewStore(db)
	st := &state{deployment: d, store: store, db: db}

	restored, err := store.Restore(d.Pool)
	if err != nil {
		return nil, fmt.Errorf("restore pool: %w", err)
	}
	if restored {
		if _, err := store.RestoreVault(d.Vault); err != nil {
			return nil, fmt.Errorf("restore vault: %w", err)
		}
		st.restored = true
		logger.Info("pool restored", "block_time", d.Pool.BlockTime(), "paused", d.Pool.Paused())
		return st, nil
	}

	if err := d.Configure(); err != nil {
		return nil, fmt.Errorf("configure pool: %w", err)
	}
	if err := d.SeedVault(); err != nil {
		return nil, fmt.Errorf("seed vault: %w", err)
	}
	root, err := store.Save(d.Pool)
	if err != nil {
		return nil, fmt.Errorf("save genesis: %w", err)
	}
	if err := store.SaveVault(d.Vault); err != nil {
		return nil, fmt.Errorf("save genesis vault: %w", err)
	}
	logger.Info("pool configured from genesis", "root", root.Hex(), "reserves", len(cfg.Reserves), "nfts", len(cfg.Nfts))
	return st, nil
}
