package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

var (
	snapshotKey   = []byte("snapshot")
	journalPrefix = []byte("journal/")
)

// Store keeps the snapshot and journal in an embedded LevelDB.
type Store struct {
	db *goleveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	db, err := goleveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store backed by memory only.
func OpenMemory() (*Store, error) {
	db, err := goleveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context) (model.Snapshot, bool, error) {
	data, err := s.db.Get(snapshotKey, nil)
	if err != nil {
		if errors.Is(err, goleveldb.ErrNotFound) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.db.Put(snapshotKey, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Append writes entries keyed by sequence in one batch.
func (s *Store) Append(ctx context.Context, entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := new(goleveldb.Batch)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		batch.Put(journalKey(entry.Sequence), data)
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write journal batch: %w", err)
	}
	return nil
}

// Since returns entries with a sequence greater than after, in order.
func (s *Store) Since(ctx context.Context, after uint64) ([]model.JournalEntry, error) {
	iter := s.db.NewIterator(&util.Range{Start: journalKey(after + 1), Limit: util.BytesPrefix(journalPrefix).Limit}, nil)
	defer iter.Release()

	var out []model.JournalEntry
	for iter.Next() {
		var entry model.JournalEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("parse journal entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func journalKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}
