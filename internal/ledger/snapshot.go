package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// Snapshot copies the whole ledger. It waits for in-flight operations and
// blocks new ones while copying, so the result is a consistent cut.
func (l *Ledger) Snapshot() model.Snapshot {
	return l.SnapshotWith(nil)
}

// SnapshotWith is Snapshot with wallets copied into the same cut. Every
// wallet transfer the ledger makes runs under its read lock, so no
// operation can land between the ledger copy and the wallet copy.
func (l *Ledger) SnapshotWith(wallets func() []model.WalletBalance) model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshotLocked()
	if wallets != nil {
		snap.Wallets = wallets()
	}
	return snap
}

// snapshotLocked must be called with mu held for writing.
func (l *Ledger) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Assets:   make([]model.SupportedAsset, 0, len(l.assets)),
		Vaults:   make([]model.VaultBalance, 0, len(l.assets)),
		Treasury: model.Treasury{Balance: l.treasury.balance},
		Sequence: l.seq.Load(),
	}
	if l.pool != nil {
		pool := *l.pool
		snap.Pool = &pool
	}
	for id, entry := range l.assets {
		snap.Assets = append(snap.Assets, entry.record)
		snap.Vaults = append(snap.Vaults, model.VaultBalance{AssetID: id, Vault: entry.vault.address, Balance: entry.vault.balance})
	}
	sortAssets(snap.Assets)
	sort.Slice(snap.Vaults, func(i, j int) bool {
		return bytes.Compare(snap.Vaults[i].AssetID.Bytes(), snap.Vaults[j].AssetID.Bytes()) < 0
	})

	l.stakesMu.Lock()
	snap.Stakes = make([]model.UserStake, 0, len(l.stakes))
	for _, entry := range l.stakes {
		if entry.exists {
			snap.Stakes = append(snap.Stakes, entry.record)
		}
	}
	l.stakesMu.Unlock()
	sortStakes(snap.Stakes)

	return snap
}

// Restore replaces the ledger state with snap after checking it. The pool
// keeps the reward asset and payout ratio recorded in snap, whatever the
// ledger was configured with.
func (l *Ledger) Restore(snap model.Snapshot) error {
	if err := CheckSnapshot(snap); err != nil {
		return err
	}

	assets := make(map[common.Address]*assetEntry, len(snap.Assets))
	for _, rec := range snap.Assets {
		assets[rec.AssetID] = &assetEntry{
			record: rec,
			vault:  vault{address: rec.Vault, balance: rec.TotalStaked},
			rate:   rec.RewardRate,
			lock:   rec.LockDuration,
		}
	}
	stakes := make(map[stakeKey]*stakeEntry, len(snap.Stakes))
	for _, rec := range snap.Stakes {
		stakes[stakeKey{owner: rec.Owner, asset: rec.AssetID}] = &stakeEntry{record: rec, exists: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pool = nil
	if snap.Pool != nil {
		pool := *snap.Pool
		l.pool = &pool
	}
	l.assets = assets
	l.stakesMu.Lock()
	l.stakes = stakes
	l.stakesMu.Unlock()
	l.treasury.mu.Lock()
	l.treasury.balance = snap.Treasury.Balance
	l.treasury.mu.Unlock()
	l.seq.Store(snap.Sequence)
	return nil
}

// CheckSnapshot verifies the accounting invariants of snap: every stake
// refers to a registered asset, each asset's total_staked equals the sum of
// its stakes, and each vault holds exactly total_staked.
func CheckSnapshot(snap model.Snapshot) error {
	if snap.Pool == nil && (len(snap.Assets) > 0 || len(snap.Stakes) > 0 || snap.Treasury.Balance > 0) {
		return fmt.Errorf("snapshot has state but no pool")
	}
	if snap.Pool != nil && snap.Pool.PayoutDenominator == 0 {
		return fmt.Errorf("pool %s has a zero payout denominator", snap.Pool.ID.Hex())
	}

	totals := make(map[common.Address]uint64, len(snap.Assets))
	for _, asset := range snap.Assets {
		if _, dup := totals[asset.AssetID]; dup {
			return fmt.Errorf("asset %s registered twice", asset.AssetID.Hex())
		}
		totals[asset.AssetID] = 0
	}

	seen := make(map[stakeKey]struct{}, len(snap.Stakes))
	for _, stake := range snap.Stakes {
		key := stakeKey{owner: stake.Owner, asset: stake.AssetID}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("stake %s/%s recorded twice", stake.Owner.Hex(), stake.AssetID.Hex())
		}
		seen[key] = struct{}{}

		sum, ok := totals[stake.AssetID]
		if !ok {
			return fmt.Errorf("stake %s references unsupported asset %s", stake.Owner.Hex(), stake.AssetID.Hex())
		}
		next, err := checkedAdd(sum, stake.StakedAmount)
		if err != nil {
			return fmt.Errorf("sum stakes of %s: %w", stake.AssetID.Hex(), err)
		}
		totals[stake.AssetID] = next
	}

	for _, asset := range snap.Assets {
		if totals[asset.AssetID] != asset.TotalStaked {
			return fmt.Errorf("asset %s total_staked %d != sum of stakes %d", asset.AssetID.Hex(), asset.TotalStaked, totals[asset.AssetID])
		}
	}

	if snap.Vaults != nil {
		if len(snap.Vaults) != len(snap.Assets) {
			return fmt.Errorf("snapshot has %d vaults for %d assets", len(snap.Vaults), len(snap.Assets))
		}
		byAsset := make(map[common.Address]model.SupportedAsset, len(snap.Assets))
		for _, asset := range snap.Assets {
			byAsset[asset.AssetID] = asset
		}
		for _, v := range snap.Vaults {
			asset, ok := byAsset[v.AssetID]
			if !ok {
				return fmt.Errorf("vault %s for unsupported asset %s", v.Vault.Hex(), v.AssetID.Hex())
			}
			if v.Vault != asset.Vault || v.Balance != asset.TotalStaked {
				return fmt.Errorf("vault %s holds %d, asset %s records %d", v.Vault.Hex(), v.Balance, v.AssetID.Hex(), asset.TotalStaked)
			}
		}
	}
	return nil
}

func sortStakes(stakes []model.UserStake) {
	sort.Slice(stakes, func(i, j int) bool {
		if c := bytes.Compare(stakes[i].Owner.Bytes(), stakes[j].Owner.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(stakes[i].AssetID.Bytes(), stakes[j].AssetID.Bytes()) < 0
	})
}
