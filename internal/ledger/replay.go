package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// ReplayResult reports how far a journal replay got.
type ReplayResult struct {
	Applied int
	// Gap is the first sequence missing from the journal, zero when the
	// journal was contiguous. Entries after a gap are skipped.
	Gap     uint64
	Skipped int
}

// Replay applies journal entries recorded after the ledger's sequence. Each
// entry carries the records its operation left behind, so replay installs
// those records and repeats the wallet transfer the operation made. Entries
// at or below the current sequence are ignored. Replay stops at the first
// missing sequence and moves the sequence past every journaled entry so new
// operations never reuse a recorded number. Observers are not called.
func (l *Ledger) Replay(ctx context.Context, entries []model.JournalEntry) (ReplayResult, error) {
	sorted := append([]model.JournalEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	l.mu.Lock()
	defer l.mu.Unlock()

	var res ReplayResult
	next := l.seq.Load() + 1
	for i, entry := range sorted {
		if entry.Sequence < next {
			continue
		}
		if entry.Sequence != next {
			res.Gap = next
			res.Skipped = len(sorted) - i
			l.seq.Store(sorted[len(sorted)-1].Sequence)
			break
		}
		if err := l.apply(ctx, entry); err != nil {
			return res, fmt.Errorf("replay %s #%d: %w", entry.Op, entry.Sequence, err)
		}
		l.seq.Store(entry.Sequence)
		res.Applied++
		next++
	}

	if err := CheckSnapshot(l.snapshotLocked()); err != nil {
		return res, fmt.Errorf("check replayed state: %w", err)
	}
	return res, nil
}

// apply must be called with mu held for writing.
func (l *Ledger) apply(ctx context.Context, e model.JournalEntry) error {
	switch e.Op {
	case model.OpInitializePool:
		if l.pool != nil {
			return errorf(KindAlreadyInitialized, "pool %s exists", l.pool.ID.Hex())
		}
		if e.Pool == nil {
			return missing("pool")
		}
		pool := *e.Pool
		l.pool = &pool

	case model.OpUpdateAdmin:
		if err := l.requirePool(); err != nil {
			return err
		}
		if e.Pool == nil {
			return missing("pool")
		}
		pool := *e.Pool
		l.pool = &pool

	case model.OpAddSupportedAsset:
		if err := l.requirePool(); err != nil {
			return err
		}
		if e.Asset == nil {
			return missing("asset")
		}
		if _, ok := l.assets[e.Asset.AssetID]; ok {
			return errorf(KindAssetAlreadySupported, "asset %s", e.Asset.AssetID.Hex())
		}
		rec := *e.Asset
		l.assets[rec.AssetID] = &assetEntry{
			record: rec,
			vault:  vault{address: rec.Vault, balance: rec.TotalStaked},
			rate:   rec.RewardRate,
			lock:   rec.LockDuration,
		}

	case model.OpStake, model.OpUnstake:
		if err := l.requirePool(); err != nil {
			return err
		}
		if e.Stake == nil {
			return missing("stake")
		}
		if e.Asset == nil {
			return missing("asset")
		}
		asset, err := l.lookupAsset(e.Asset.AssetID)
		if err != nil {
			return err
		}
		if e.Op == model.OpStake {
			err = l.debitWallet(ctx, e.Caller, e.Asset.AssetID, e.Amount)
		} else {
			err = l.creditWallet(ctx, e.Caller, e.Asset.AssetID, e.Amount)
		}
		if err != nil {
			return err
		}
		asset.record = *e.Asset
		asset.vault.balance = e.Asset.TotalStaked
		l.putStake(*e.Stake)

	case model.OpClaimRewards:
		if err := l.requirePool(); err != nil {
			return err
		}
		if e.Stake == nil {
			return missing("stake")
		}
		if e.Treasury == nil {
			return missing("treasury")
		}
		rewardAsset, _, _ := l.conversion()
		if err := l.creditWallet(ctx, e.Caller, rewardAsset, e.Payout); err != nil {
			return err
		}
		l.putStake(*e.Stake)
		l.treasury.balance = e.Treasury.Balance

	case model.OpFundTreasury, model.OpWithdrawTreasury:
		if err := l.requirePool(); err != nil {
			return err
		}
		if e.Treasury == nil {
			return missing("treasury")
		}
		rewardAsset, _, _ := l.conversion()
		var err error
		if e.Op == model.OpFundTreasury {
			err = l.debitWallet(ctx, e.Caller, rewardAsset, e.Amount)
		} else {
			err = l.creditWallet(ctx, e.Caller, rewardAsset, e.Amount)
		}
		if err != nil {
			return err
		}
		l.treasury.balance = e.Treasury.Balance

	default:
		return fmt.Errorf("unknown operation %q", e.Op)
	}
	return nil
}

func (l *Ledger) putStake(rec model.UserStake) {
	key := stakeKey{owner: rec.Owner, asset: rec.AssetID}
	l.stakesMu.Lock()
	defer l.stakesMu.Unlock()
	entry, ok := l.stakes[key]
	if !ok {
		entry = &stakeEntry{}
		l.stakes[key] = entry
	}
	entry.record = rec
	entry.exists = true
}

func missing(record string) error {
	return fmt.Errorf("journal entry has no %s record", record)
}
