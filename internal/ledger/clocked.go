package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// Clocked runs commands at the time of a shared clock. Because the clock is
// read under the record locks, concurrent commands on one record observe
// non-decreasing times whenever the clock itself never goes backwards.
type Clocked struct {
	l     *Ledger
	clock Clock
}

// WithClock returns the command set of l driven by clock.
func (l *Ledger) WithClock(clock Clock) *Clocked {
	return &Clocked{l: l, clock: clock}
}

func (c *Clocked) InitializePool(admin common.Address) (model.Pool, error) {
	pool, entry, err := c.l.initializePool(admin, c.clock)
	c.l.finish(model.OpInitializePool, admin, nil, entry, err)
	return pool, err
}

func (c *Clocked) AddSupportedAsset(caller, assetID, vaultAddr common.Address, rewardRate, lockDuration uint64) (model.SupportedAsset, error) {
	asset, entry, err := c.l.addSupportedAsset(caller, assetID, vaultAddr, rewardRate, lockDuration, c.clock)
	c.l.finish(model.OpAddSupportedAsset, caller, &assetID, entry, err)
	return asset, err
}

func (c *Clocked) Stake(ctx context.Context, caller, assetID common.Address, amount uint64) (model.UserStake, error) {
	stake, entry, err := c.l.stake(ctx, caller, assetID, amount, c.clock)
	c.l.finish(model.OpStake, caller, &assetID, entry, err)
	return stake, err
}

func (c *Clocked) Unstake(ctx context.Context, caller, assetID common.Address, amount uint64) (model.UserStake, error) {
	stake, entry, err := c.l.unstake(ctx, caller, assetID, amount, c.clock)
	c.l.finish(model.OpUnstake, caller, &assetID, entry, err)
	return stake, err
}

func (c *Clocked) ClaimRewards(ctx context.Context, caller, assetID common.Address) (model.UserStake, uint64, error) {
	stake, entry, err := c.l.claimRewards(ctx, caller, assetID, c.clock)
	c.l.finish(model.OpClaimRewards, caller, &assetID, entry, err)
	return stake, entry.Payout, err
}

func (c *Clocked) FundTreasury(ctx context.Context, caller common.Address, amount uint64) (model.Treasury, error) {
	treasury, entry, err := c.l.fundTreasury(ctx, caller, amount, c.clock)
	c.l.finish(model.OpFundTreasury, caller, nil, entry, err)
	return treasury, err
}

func (c *Clocked) WithdrawTreasury(ctx context.Context, caller common.Address, amount uint64) (model.Treasury, error) {
	treasury, entry, err := c.l.withdrawTreasury(ctx, caller, amount, c.clock)
	c.l.finish(model.OpWithdrawTreasury, caller, nil, entry, err)
	return treasury, err
}

func (c *Clocked) UpdateAdmin(caller, newAdmin common.Address) (model.Pool, error) {
	pool, entry, err := c.l.updateAdmin(caller, newAdmin, c.clock)
	c.l.finish(model.OpUpdateAdmin, caller, nil, entry, err)
	return pool, err
}
