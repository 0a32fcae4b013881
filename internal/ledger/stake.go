package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// Stake moves amount of assetID from the caller's wallet into the asset's
// vault and credits the caller's stake after checkpointing it.
func (l *Ledger) Stake(ctx context.Context, caller, assetID common.Address, amount, now uint64) (model.UserStake, error) {
	return l.WithClock(At(now)).Stake(ctx, caller, assetID, amount)
}

func (l *Ledger) stake(ctx context.Context, caller, assetID common.Address, amount uint64, clock Clock) (model.UserStake, model.JournalEntry, error) {
	if amount == 0 {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindInvalidAmount, "stake amount must be positive")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	asset, err := l.lookupAsset(assetID)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	slot := l.stakeEntry(caller, assetID, true)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	asset.mu.Lock()
	defer asset.mu.Unlock()

	now := clock.Now()
	current := slot.record
	if !slot.exists {
		current = model.UserStake{Owner: caller, AssetID: assetID, LastCheckpoint: now}
	}
	next, err := Checkpoint(current, asset.rate, now)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	if next.StakedAmount, err = checkedAdd(next.StakedAmount, amount); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	if asset.lock > 0 {
		if next.UnlockTime, err = checkedAdd(now, asset.lock); err != nil {
			return model.UserStake{}, model.JournalEntry{}, err
		}
	}
	total, err := checkedAdd(asset.record.TotalStaked, amount)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	applyVault, err := asset.vault.stageCredit(amount)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	if err := l.debitWallet(ctx, caller, assetID, amount); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	applyVault()
	asset.record.TotalStaked = total
	slot.record = next
	slot.exists = true

	entry := l.newEntry(model.OpStake, caller, now)
	entry.AssetID = addrPtr(assetID)
	entry.Amount = amount
	entry.Stake = &next
	assetCopy := asset.record
	entry.Asset = &assetCopy
	return next, entry, nil
}

// Unstake releases amount from the asset's vault back to the caller's wallet
// after checkpointing the caller's stake.
func (l *Ledger) Unstake(ctx context.Context, caller, assetID common.Address, amount, now uint64) (model.UserStake, error) {
	return l.WithClock(At(now)).Unstake(ctx, caller, assetID, amount)
}

func (l *Ledger) unstake(ctx context.Context, caller, assetID common.Address, amount uint64, clock Clock) (model.UserStake, model.JournalEntry, error) {
	if amount == 0 {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindInvalidAmount, "unstake amount must be positive")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	asset, err := l.lookupAsset(assetID)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	slot := l.stakeEntry(caller, assetID, false)
	if slot == nil {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindInsufficientStake, "unstake %d exceeds staked 0", amount)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	asset.mu.Lock()
	defer asset.mu.Unlock()

	if !slot.exists || amount > slot.record.StakedAmount {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindInsufficientStake, "unstake %d exceeds staked %d", amount, slot.record.StakedAmount)
	}
	now := clock.Now()
	if now < slot.record.UnlockTime {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindStakeLocked, "stake unlocks at %d", slot.record.UnlockTime)
	}

	next, err := Checkpoint(slot.record, asset.rate, now)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	if next.StakedAmount, err = checkedSub(next.StakedAmount, amount); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	total, err := checkedSub(asset.record.TotalStaked, amount)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	applyVault, err := asset.vault.stageDebit(amount)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	if err := l.creditWallet(ctx, caller, assetID, amount); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	applyVault()
	asset.record.TotalStaked = total
	slot.record = next

	entry := l.newEntry(model.OpUnstake, caller, now)
	entry.AssetID = addrPtr(assetID)
	entry.Amount = amount
	entry.Stake = &next
	assetCopy := asset.record
	entry.Asset = &assetCopy
	return next, entry, nil
}

// ClaimRewards pays the caller's accrued points for assetID out of the
// treasury and resets them to zero.
func (l *Ledger) ClaimRewards(ctx context.Context, caller, assetID common.Address, now uint64) (model.UserStake, uint64, error) {
	return l.WithClock(At(now)).ClaimRewards(ctx, caller, assetID)
}

func (l *Ledger) claimRewards(ctx context.Context, caller, assetID common.Address, clock Clock) (model.UserStake, model.JournalEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	asset, err := l.lookupAsset(assetID)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	slot := l.stakeEntry(caller, assetID, false)
	if slot == nil {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindNoRewards, "no stake for %s", caller.Hex())
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.exists {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindNoRewards, "no stake for %s", caller.Hex())
	}

	now := clock.Now()
	next, err := Checkpoint(slot.record, asset.rate, now)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	if next.AccruedPoints == 0 {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindNoRewards, "no accrued points")
	}
	payout, err := l.payout(next.AccruedPoints)
	if err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}
	if payout == 0 {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindNoRewards, "%d points convert to zero payout", next.AccruedPoints)
	}

	l.treasury.mu.Lock()
	defer l.treasury.mu.Unlock()

	if payout > l.treasury.balance {
		return model.UserStake{}, model.JournalEntry{}, errorf(KindInsufficientTreasury, "payout %d exceeds treasury %d", payout, l.treasury.balance)
	}
	remaining := l.treasury.balance - payout

	rewardAsset, _, _ := l.conversion()
	if err := l.creditWallet(ctx, caller, rewardAsset, payout); err != nil {
		return model.UserStake{}, model.JournalEntry{}, err
	}

	points := next.AccruedPoints
	next.AccruedPoints = 0
	l.treasury.balance = remaining
	slot.record = next

	entry := l.newEntry(model.OpClaimRewards, caller, now)
	entry.AssetID = addrPtr(assetID)
	entry.Amount = points
	entry.Payout = payout
	entry.Stake = &next
	entry.Treasury = &model.Treasury{Balance: remaining}
	return next, entry, nil
}

// UserStake returns the record for (owner, assetID).
func (l *Ledger) UserStake(owner, assetID common.Address) (model.UserStake, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.UserStake{}, err
	}
	if _, err := l.lookupAsset(assetID); err != nil {
		return model.UserStake{}, err
	}
	slot := l.stakeEntry(owner, assetID, false)
	if slot == nil {
		return model.UserStake{}, errorf(KindNotFound, "no stake for %s in %s", owner.Hex(), assetID.Hex())
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.exists {
		return model.UserStake{}, errorf(KindNotFound, "no stake for %s in %s", owner.Hex(), assetID.Hex())
	}
	return slot.record, nil
}
