package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	name       TEXT PRIMARY KEY,
	sequence   BIGINT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS supported_assets (
	pool_id       TEXT NOT NULL,
	asset_id      TEXT NOT NULL,
	vault         TEXT NOT NULL,
	reward_rate   NUMERIC(20,0) NOT NULL,
	total_staked  NUMERIC(20,0) NOT NULL,
	lock_duration NUMERIC(20,0) NOT NULL,
	added_at      NUMERIC(20,0) NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_id, asset_id)
);
CREATE TABLE IF NOT EXISTS user_stakes (
	pool_id              TEXT NOT NULL,
	owner                TEXT NOT NULL,
	asset_id             TEXT NOT NULL,
	staked_amount        NUMERIC(20,0) NOT NULL,
	last_checkpoint_time NUMERIC(20,0) NOT NULL,
	accrued_points       NUMERIC(20,0) NOT NULL,
	unlock_time          NUMERIC(20,0) NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pool_id, owner, asset_id)
);
CREATE TABLE IF NOT EXISTS ledger_journal (
	id          UUID PRIMARY KEY,
	sequence    BIGINT NOT NULL,
	op          TEXT NOT NULL,
	caller      TEXT NOT NULL,
	asset_id    TEXT,
	amount      NUMERIC(20,0) NOT NULL,
	payout      NUMERIC(20,0) NOT NULL,
	now_ts      NUMERIC(20,0) NOT NULL,
	body        JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_journal_sequence ON ledger_journal (sequence);
`

// Store provides Postgres persistence for ledger snapshots and the journal.
type Store struct {
	pool *pgxpool.Pool
	name string
}

func NewStore(ctx context.Context, dsn, name string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if name == "" {
		name = "default"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, name: name}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables the store writes to.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Load returns the latest snapshot body.
func (s *Store) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var body []byte
	row := s.pool.QueryRow(ctx, `SELECT body FROM ledger_snapshots WHERE name=$1`, s.name)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

// Save writes the snapshot body and upserts the queryable asset and stake
// rows in one transaction.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	poolID := ""
	if snap.Pool != nil {
		poolID = snap.Pool.ID.Hex()
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO ledger_snapshots (name, sequence, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET sequence = EXCLUDED.sequence, body = EXCLUDED.body, updated_at = now()
	`, s.name, int64(snap.Sequence), body)

	for _, asset := range snap.Assets {
		batch.Queue(`
			INSERT INTO supported_assets (
				pool_id, asset_id, vault, reward_rate, total_staked, lock_duration, added_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (pool_id, asset_id)
			DO UPDATE SET
				total_staked = EXCLUDED.total_staked,
				updated_at = now()
		`,
			poolID,
			asset.AssetID.Hex(),
			asset.Vault.Hex(),
			numeric(asset.RewardRate),
			numeric(asset.TotalStaked),
			numeric(asset.LockDuration),
			numeric(asset.AddedAt),
		)
	}

	for _, stake := range snap.Stakes {
		batch.Queue(`
			INSERT INTO user_stakes (
				pool_id, owner, asset_id, staked_amount, last_checkpoint_time, accrued_points, unlock_time, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (pool_id, owner, asset_id)
			DO UPDATE SET
				staked_amount = EXCLUDED.staked_amount,
				last_checkpoint_time = EXCLUDED.last_checkpoint_time,
				accrued_points = EXCLUDED.accrued_points,
				unlock_time = EXCLUDED.unlock_time,
				updated_at = now()
		`,
			poolID,
			stake.Owner.Hex(),
			stake.AssetID.Hex(),
			numeric(stake.StakedAmount),
			numeric(stake.LastCheckpoint),
			numeric(stake.AccruedPoints),
			numeric(stake.UnlockTime),
		)
	}

	queued := batch.Len()
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert snapshot: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Append inserts journal entries. Entries already stored are skipped.
func (s *Store) Append(ctx context.Context, entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, entry := range entries {
		body, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		var asset *string
		if entry.AssetID != nil {
			hex := entry.AssetID.Hex()
			asset = &hex
		}
		batch.Queue(`
			INSERT INTO ledger_journal (id, sequence, op, caller, asset_id, amount, payout, now_ts, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`,
			entry.ID,
			int64(entry.Sequence),
			entry.Op,
			entry.Caller.Hex(),
			asset,
			numeric(entry.Amount),
			numeric(entry.Payout),
			numeric(entry.Now),
			body,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Since returns journal entries with a sequence greater than after.
func (s *Store) Since(ctx context.Context, after uint64) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM ledger_journal WHERE sequence > $1 ORDER BY sequence`, int64(after))
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		var entry model.JournalEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			return nil, fmt.Errorf("parse journal entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// numeric renders a uint64 for a NUMERIC column; int64 cannot hold the
// upper half of the range.
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}
