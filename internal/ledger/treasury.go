package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// payout converts reward points into reward asset units. mu must be held.
func (l *Ledger) payout(points uint64) (uint64, error) {
	_, num, den := l.conversion()
	return mulDiv(points, num, den)
}

// Payout reports what points would pay out under the pool's conversion.
func (l *Ledger) Payout(points uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.payout(points)
}

// FundTreasury moves amount of the reward asset from the admin's wallet into
// the treasury.
func (l *Ledger) FundTreasury(ctx context.Context, caller common.Address, amount, now uint64) (model.Treasury, error) {
	return l.WithClock(At(now)).FundTreasury(ctx, caller, amount)
}

func (l *Ledger) fundTreasury(ctx context.Context, caller common.Address, amount uint64, clock Clock) (model.Treasury, model.JournalEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requireAdmin(caller); err != nil {
		return model.Treasury{}, model.JournalEntry{}, err
	}
	if amount == 0 {
		return model.Treasury{}, model.JournalEntry{}, errorf(KindInvalidAmount, "fund amount must be positive")
	}

	l.treasury.mu.Lock()
	defer l.treasury.mu.Unlock()

	balance, err := checkedAdd(l.treasury.balance, amount)
	if err != nil {
		return model.Treasury{}, model.JournalEntry{}, err
	}
	rewardAsset, _, _ := l.conversion()
	if err := l.debitWallet(ctx, caller, rewardAsset, amount); err != nil {
		return model.Treasury{}, model.JournalEntry{}, err
	}
	l.treasury.balance = balance

	treasury := model.Treasury{Balance: balance}
	entry := l.newEntry(model.OpFundTreasury, caller, clock.Now())
	entry.Amount = amount
	entry.Treasury = &treasury
	return treasury, entry, nil
}

// WithdrawTreasury returns amount of unclaimed reward liquidity to the admin.
func (l *Ledger) WithdrawTreasury(ctx context.Context, caller common.Address, amount, now uint64) (model.Treasury, error) {
	return l.WithClock(At(now)).WithdrawTreasury(ctx, caller, amount)
}

func (l *Ledger) withdrawTreasury(ctx context.Context, caller common.Address, amount uint64, clock Clock) (model.Treasury, model.JournalEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requireAdmin(caller); err != nil {
		return model.Treasury{}, model.JournalEntry{}, err
	}
	if amount == 0 {
		return model.Treasury{}, model.JournalEntry{}, errorf(KindInvalidAmount, "withdraw amount must be positive")
	}

	l.treasury.mu.Lock()
	defer l.treasury.mu.Unlock()

	if amount > l.treasury.balance {
		return model.Treasury{}, model.JournalEntry{}, errorf(KindInsufficientTreasury, "withdraw %d exceeds treasury %d", amount, l.treasury.balance)
	}
	balance := l.treasury.balance - amount
	rewardAsset, _, _ := l.conversion()
	if err := l.creditWallet(ctx, caller, rewardAsset, amount); err != nil {
		return model.Treasury{}, model.JournalEntry{}, err
	}
	l.treasury.balance = balance

	treasury := model.Treasury{Balance: balance}
	entry := l.newEntry(model.OpWithdrawTreasury, caller, clock.Now())
	entry.Amount = amount
	entry.Treasury = &treasury
	return treasury, entry, nil
}

// Treasury returns the current treasury record.
func (l *Ledger) Treasury() (model.Treasury, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.Treasury{}, err
	}
	l.treasury.mu.Lock()
	defer l.treasury.mu.Unlock()
	return model.Treasury{Balance: l.treasury.balance}, nil
}
