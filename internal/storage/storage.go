package storage

import (
	"context"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// Journal is an append-only sink for committed ledger operations.
type Journal interface {
	Append(ctx context.Context, entries []model.JournalEntry) error
}

// JournalReader replays journal entries recorded after a sequence.
type JournalReader interface {
	Since(ctx context.Context, after uint64) ([]model.JournalEntry, error)
}

// SnapshotStore keeps the latest ledger snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (model.Snapshot, bool, error)
	Save(ctx context.Context, snap model.Snapshot) error
}
