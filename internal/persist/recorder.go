package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
	"github.com/surya-moorthy/escrow-reward-system/internal/retry"
	"github.com/surya-moorthy/escrow-reward-system/internal/storage"
)

const (
	kindJournal  = "journal"
	kindSnapshot = "snapshot"
)

// Source produces the snapshot written after each flushed batch.
type Source func() model.Snapshot

// Config controls batching and retry.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	// MaxBackoff caps the delay between retries of one write.
	MaxBackoff time.Duration
}

// Recorder writes committed ledger operations to a journal in batches and
// saves a snapshot after each batch. Write failures are logged and counted;
// they never reach the ledger.
type Recorder struct {
	cfg       Config
	journal   storage.Journal
	snapshots storage.SnapshotStore
	source    Source
	logger    *zap.Logger

	entries  chan model.JournalEntry
	stopped  chan struct{}
	stopOnce sync.Once

	failures atomic.Uint64
	flushed  atomic.Uint64
	// onFailure is called for every journal or snapshot write that failed
	// after retries.
	onFailure func(kind string)
}

func NewRecorder(cfg Config, journal storage.Journal, snapshots storage.SnapshotStore, source Source, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.BatchSize * 4
	}
	return &Recorder{
		cfg:       cfg,
		journal:   journal,
		snapshots: snapshots,
		source:    source,
		logger:    logger,
		entries:   make(chan model.JournalEntry, cfg.QueueSize),
		stopped:   make(chan struct{}),
	}
}

// OnFailure registers a callback for failed writes. kind is "journal" or
// "snapshot". Must be set before Run.
func (r *Recorder) OnFailure(fn func(kind string)) {
	r.onFailure = fn
}

// Committed queues entry for the journal. It blocks while the queue is full
// and drops the entry once the recorder has stopped.
func (r *Recorder) Committed(entry model.JournalEntry) {
	select {
	case r.entries <- entry:
	case <-r.stopped:
		r.logger.Warn("recorder stopped, journal entry dropped", zap.Uint64("sequence", entry.Sequence), zap.String("op", entry.Op))
	}
}

// Failures reports how many writes failed after retries.
func (r *Recorder) Failures() uint64 {
	return r.failures.Load()
}

// Flushed reports how many journal entries were written.
func (r *Recorder) Flushed() uint64 {
	return r.flushed.Load()
}

// Run drains the queue until ctx is done, then writes what is left and a
// final snapshot.
func (r *Recorder) Run(ctx context.Context) error {
	if r.journal == nil && r.snapshots == nil {
		return fmt.Errorf("recorder has no journal and no snapshot store")
	}

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.JournalEntry, 0, r.cfg.BatchSize)
	for {
		select {
		case entry := <-r.entries:
			batch = append(batch, entry)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			r.stop()
			batch = r.drain(batch)
			// ctx is already done; give the final writes their own deadline.
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if len(batch) > 0 {
				r.writeJournal(final, batch)
			}
			r.writeSnapshot(final)
			r.logger.Info("recorder stopped", zap.Uint64("flushed", r.Flushed()), zap.Uint64("failures", r.Failures()))
			return nil
		}
	}
}

func (r *Recorder) stop() {
	r.stopOnce.Do(func() { close(r.stopped) })
}

func (r *Recorder) drain(batch []model.JournalEntry) []model.JournalEntry {
	for {
		select {
		case entry := <-r.entries:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []model.JournalEntry) {
	r.writeJournal(ctx, batch)
	r.writeSnapshot(ctx)
}

func (r *Recorder) writeJournal(ctx context.Context, batch []model.JournalEntry) {
	if r.journal == nil {
		return
	}
	recorded := time.Now().UTC().Format(time.RFC3339Nano)
	out := make([]model.JournalEntry, len(batch))
	for i, entry := range batch {
		entry.Recorded = recorded
		out[i] = entry
	}

	err := r.policy(kindJournal, zap.Uint64("first_sequence", out[0].Sequence), zap.Int("entries", len(out))).
		Do(ctx, func(ctx context.Context) error {
			return classify(r.journal.Append(ctx, out))
		})
	if err != nil {
		r.fail(kindJournal, err, zap.Uint64("first_sequence", out[0].Sequence), zap.Int("entries", len(out)))
		return
	}
	r.flushed.Add(uint64(len(out)))
	r.logger.Debug("journal batch written", zap.Int("entries", len(out)), zap.Uint64("last_sequence", out[len(out)-1].Sequence))
}

func (r *Recorder) writeSnapshot(ctx context.Context) {
	if r.snapshots == nil || r.source == nil {
		return
	}
	snap := r.source()
	snap.TakenAt = time.Now().UTC().Format(time.RFC3339Nano)

	err := r.policy(kindSnapshot, zap.Uint64("sequence", snap.Sequence)).
		Do(ctx, func(ctx context.Context) error {
			return classify(r.snapshots.Save(ctx, snap))
		})
	if err != nil {
		r.fail(kindSnapshot, err, zap.Uint64("sequence", snap.Sequence))
	}
}

func (r *Recorder) policy(kind string, fields ...zap.Field) retry.Policy {
	return retry.Policy{
		MaxRetries: r.cfg.MaxRetries,
		BaseDelay:  r.cfg.RetryBackoff,
		MaxDelay:   r.cfg.MaxBackoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.logger.Warn("persist write failed, retrying", append(fields,
				zap.String("kind", kind),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)...)
		},
	}
}

// classify stops retrying once the write was cancelled; another attempt
// with the same context cannot succeed.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}
	return err
}

func (r *Recorder) fail(kind string, err error, fields ...zap.Field) {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		fields = append(fields, zap.Int("attempts", exhausted.Attempts))
	}
	r.failures.Add(1)
	r.logger.Error("persist failed", append(fields, zap.String("kind", kind), zap.Error(err))...)
	if r.onFailure != nil {
		r.onFailure(kind)
	}
}
