package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/config"
	"github.com/surya-moorthy/escrow-reward-system/internal/storage"
	"github.com/surya-moorthy/escrow-reward-system/internal/storage/leveldb"
	"github.com/surya-moorthy/escrow-reward-system/internal/storage/postgres"
)

type stores struct {
	snapshots storage.SnapshotStore
	journal   storage.Journal
	replay    storage.JournalReader
	close     func()
}

func openStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (stores, error) {
	switch cfg.Store {
	case config.StoreFile:
		journal := storage.NewJsonlJournal(cfg.Journal)
		return stores{
			snapshots: &storage.FileSnapshotStore{Path: cfg.StateFile},
			journal:   journal,
			replay:    journal,
			close:     func() {},
		}, nil
	case config.StoreLevelDB:
		db, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return stores{}, err
		}
		return stores{
			snapshots: db,
			journal:   db,
			replay:    db,
			close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("close leveldb", zap.Error(err))
				}
			},
		}, nil
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, "default")
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return stores{}, err
		}
		return stores{snapshots: pg, journal: pg, replay: pg, close: pg.Close}, nil
	default:
		return stores{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
