package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
	"github.com/surya-moorthy/escrow-reward-system/internal/model"
	"github.com/surya-moorthy/escrow-reward-system/internal/wallet"
)

var (
	admin    = common.HexToAddress("0xa000000000000000000000000000000000000001")
	newAdmin = common.HexToAddress("0xa000000000000000000000000000000000000002")
	user     = common.HexToAddress("0xb000000000000000000000000000000000000001")
	other    = common.HexToAddress("0xb000000000000000000000000000000000000002")
	assetX   = common.HexToAddress("0xc000000000000000000000000000000000000001")
	assetY   = common.HexToAddress("0xc000000000000000000000000000000000000002")
	reward   = common.HexToAddress("0xd000000000000000000000000000000000000001")
)

type fixture struct {
	ledger  *ledger.Ledger
	wallet  *wallet.Memory
	mu      sync.Mutex
	entries []model.JournalEntry
}

func newFixture(t *testing.T, cfg ledger.Config) *fixture {
	t.Helper()
	if cfg.RewardAsset == (common.Address{}) {
		cfg.RewardAsset = reward
	}
	f := &fixture{wallet: wallet.NewMemory()}
	l, err := ledger.New(cfg, f.wallet, ledger.ObserverFunc(func(e model.JournalEntry) {
		f.mu.Lock()
		f.entries = append(f.entries, e)
		f.mu.Unlock()
	}), nil)
	require.NoError(t, err)
	f.ledger = l
	return f
}

// newPool initializes the pool with admin and registers assetX at rate.
func newPool(t *testing.T, rate uint64) *fixture {
	t.Helper()
	f := newFixture(t, ledger.Config{})
	_, err := f.ledger.InitializePool(admin, 0)
	require.NoError(t, err)
	_, err = f.ledger.AddSupportedAsset(admin, assetX, common.Address{}, rate, 0, 0)
	require.NoError(t, err)
	return f
}

func (f *fixture) fund(t *testing.T, owner, asset common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.wallet.Credit(context.Background(), owner, asset, amount))
}

func (f *fixture) balance(owner, asset common.Address) uint64 {
	bal, _ := f.wallet.Balance(context.Background(), owner, asset)
	return bal
}

func assertConservation(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	require.NoError(t, ledger.CheckSnapshot(l.Snapshot()))
}

func TestStakeUnstakeClaimScenario(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 10)
	f.fund(t, user, assetX, 100)
	f.fund(t, admin, reward, 10_000)

	stake, err := f.ledger.Stake(ctx, user, assetX, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stake.StakedAmount)
	assert.Equal(t, uint64(0), stake.LastCheckpoint)
	assert.Equal(t, uint64(0), stake.AccruedPoints)

	asset, err := f.ledger.Asset(assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), asset.TotalStaked)

	stake, err = f.ledger.Unstake(ctx, user, assetX, 50, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), stake.AccruedPoints)
	assert.Equal(t, uint64(50), stake.StakedAmount)
	assert.Equal(t, uint64(5), stake.LastCheckpoint)

	asset, err = f.ledger.Asset(assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), asset.TotalStaked)
	assert.Equal(t, uint64(50), f.balance(user, assetX))

	_, err = f.ledger.FundTreasury(ctx, admin, 10_000, 5)
	require.NoError(t, err)

	stake, payout, err := f.ledger.ClaimRewards(ctx, user, assetX, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), payout)
	assert.Equal(t, uint64(0), stake.AccruedPoints)
	assert.Equal(t, uint64(5000), f.balance(user, reward))

	treasury, err := f.ledger.Treasury()
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), treasury.Balance)

	assertConservation(t, f.ledger)
}

func TestFundTreasuryRequiresAdmin(t *testing.T) {
	f := newPool(t, 1)
	f.fund(t, user, reward, 100)

	_, err := f.ledger.FundTreasury(context.Background(), user, 100, 1)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	treasury, err := f.ledger.Treasury()
	require.NoError(t, err)
	assert.Zero(t, treasury.Balance)
	assert.Equal(t, uint64(100), f.balance(user, reward))
}

func TestFundTreasuryValidation(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)

	_, err := f.ledger.FundTreasury(ctx, admin, 0, 1)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.ledger.FundTreasury(ctx, admin, 10, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestUnstakeMoreThanStaked(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 30)

	_, err := f.ledger.Stake(ctx, user, assetX, 30, 0)
	require.NoError(t, err)

	_, err = f.ledger.Unstake(ctx, user, assetX, 50, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientStake)

	stake, err := f.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), stake.StakedAmount)
	assert.Equal(t, uint64(0), stake.LastCheckpoint, "failed unstake must not move the checkpoint")
}

func TestUnstakeWithoutStake(t *testing.T) {
	f := newPool(t, 1)
	_, err := f.ledger.Unstake(context.Background(), user, assetX, 1, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientStake)
}

func TestZeroAmountsRejected(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)

	_, err := f.ledger.Stake(ctx, user, assetX, 0, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = f.ledger.Unstake(ctx, user, assetX, 0, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestStakeUnsupportedToken(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetY, 10)

	_, err := f.ledger.Stake(ctx, user, assetY, 10, 0)
	require.ErrorIs(t, err, ledger.ErrUnsupportedToken)
	_, err = f.ledger.Unstake(ctx, user, assetY, 10, 0)
	require.ErrorIs(t, err, ledger.ErrUnsupportedToken)
	_, _, err = f.ledger.ClaimRewards(ctx, user, assetY, 0)
	require.ErrorIs(t, err, ledger.ErrUnsupportedToken)
	assert.Equal(t, uint64(10), f.balance(user, assetY))
}

func TestStakeInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 5)

	_, err := f.ledger.Stake(ctx, user, assetX, 6, 0)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = f.ledger.UserStake(user, assetX)
	require.ErrorIs(t, err, ledger.ErrNotFound, "failed first stake must not create a record")
	asset, err := f.ledger.Asset(assetX)
	require.NoError(t, err)
	assert.Zero(t, asset.TotalStaked)
	assert.Equal(t, uint64(5), f.balance(user, assetX))
	assert.Empty(t, f.ledger.Snapshot().Stakes)
}

func TestDoubleClaimYieldsNoRewards(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 2)
	f.fund(t, user, assetX, 10)
	f.fund(t, admin, reward, 1_000)

	_, err := f.ledger.Stake(ctx, user, assetX, 10, 0)
	require.NoError(t, err)
	_, err = f.ledger.FundTreasury(ctx, admin, 1_000, 0)
	require.NoError(t, err)

	_, payout, err := f.ledger.ClaimRewards(ctx, user, assetX, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), payout)

	before, err := f.ledger.Treasury()
	require.NoError(t, err)

	_, payout, err = f.ledger.ClaimRewards(ctx, user, assetX, 10)
	require.ErrorIs(t, err, ledger.ErrNoRewards)
	assert.Zero(t, payout)

	after, err := f.ledger.Treasury()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClaimInsufficientTreasuryKeepsPoints(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 10)
	f.fund(t, user, assetX, 10)
	f.fund(t, admin, reward, 50)

	_, err := f.ledger.Stake(ctx, user, assetX, 10, 0)
	require.NoError(t, err)
	_, err = f.ledger.FundTreasury(ctx, admin, 50, 0)
	require.NoError(t, err)

	_, _, err = f.ledger.ClaimRewards(ctx, user, assetX, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientTreasury)

	stake, err := f.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Zero(t, stake.AccruedPoints, "points are only credited on a committed checkpoint")
	assert.Zero(t, stake.LastCheckpoint)

	// the next successful operation still credits the whole interval
	stake, err = f.ledger.Unstake(ctx, user, assetX, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), stake.AccruedPoints)
}

func TestClaimWithoutStake(t *testing.T) {
	f := newPool(t, 1)
	_, _, err := f.ledger.ClaimRewards(context.Background(), user, assetX, 1)
	require.ErrorIs(t, err, ledger.ErrNoRewards)
}

func TestPayoutConversion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{PayoutNumerator: 1, PayoutDenominator: 1000})
	_, err := f.ledger.InitializePool(admin, 0)
	require.NoError(t, err)
	_, err = f.ledger.AddSupportedAsset(admin, assetX, common.Address{}, 1, 0, 0)
	require.NoError(t, err)
	f.fund(t, user, assetX, 100)
	f.fund(t, admin, reward, 100)
	_, err = f.ledger.FundTreasury(ctx, admin, 100, 0)
	require.NoError(t, err)
	_, err = f.ledger.Stake(ctx, user, assetX, 100, 0)
	require.NoError(t, err)

	_, _, err = f.ledger.ClaimRewards(ctx, user, assetX, 5)
	require.ErrorIs(t, err, ledger.ErrNoRewards, "500 points pay out zero")

	_, payout, err := f.ledger.ClaimRewards(ctx, user, assetX, 25)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), payout)
}

func TestNoLostRewardsAcrossMutation(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 3)
	f.fund(t, user, assetX, 200)

	_, err := f.ledger.Stake(ctx, user, assetX, 100, 0)
	require.NoError(t, err)

	stake, err := f.ledger.Stake(ctx, user, assetX, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*3*10), stake.AccruedPoints, "accrual must use the balance before the deposit")

	before := stake.AccruedPoints
	stake, err = f.ledger.Unstake(ctx, user, assetX, 50, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stake.AccruedPoints, before)

	stake, err = f.ledger.Unstake(ctx, user, assetX, 150, 12)
	require.NoError(t, err)
	assert.Equal(t, before+150*3*2, stake.AccruedPoints)
	assert.Zero(t, stake.StakedAmount)

	// the record persists at zero
	persisted, err := f.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Equal(t, stake, persisted)
}

func TestCheckpointMonotonicity(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 10)

	_, err := f.ledger.Stake(ctx, user, assetX, 5, 100)
	require.NoError(t, err)
	_, err = f.ledger.Stake(ctx, user, assetX, 5, 99)
	require.ErrorIs(t, err, ledger.ErrInvalidTimestamp)

	stake, err := f.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stake.LastCheckpoint)
	assert.Equal(t, uint64(5), stake.StakedAmount)
}

func TestAddSupportedAsset(t *testing.T) {
	f := newPool(t, 1)

	_, err := f.ledger.AddSupportedAsset(user, assetY, common.Address{}, 1, 0, 0)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	for i := 0; i < 20; i++ {
		id := common.BigToAddress(common.Big1)
		id[0] = byte(i + 1)
		_, err := f.ledger.AddSupportedAsset(admin, id, common.Address{}, uint64(i), 0, 1)
		require.NoError(t, err)
	}

	_, err = f.ledger.AddSupportedAsset(admin, assetX, common.Address{}, 5, 0, 2)
	require.ErrorIs(t, err, ledger.ErrAssetAlreadySupported)

	asset, err := f.ledger.Asset(assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), asset.RewardRate, "rejected registration must not overwrite")

	pool, err := f.ledger.CurrentPool()
	require.NoError(t, err)
	assert.Equal(t, ledger.VaultAddress(pool.ID, assetX), asset.Vault)

	assets, err := f.ledger.Assets()
	require.NoError(t, err)
	assert.Len(t, assets, 21)
	assert.Equal(t, assetX, assets[0].AssetID)
}

func TestAddSupportedAssetRejectsSharedVault(t *testing.T) {
	f := newPool(t, 1)
	asset, err := f.ledger.Asset(assetX)
	require.NoError(t, err)

	_, err = f.ledger.AddSupportedAsset(admin, assetY, asset.Vault, 1, 0, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidIdentity)
}

func TestInitializePoolTwice(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	pool, err := f.ledger.InitializePool(admin, 7)
	require.NoError(t, err)
	assert.Equal(t, ledger.PoolID(admin), pool.ID)
	assert.Equal(t, reward, pool.RewardAsset)

	_, err = f.ledger.InitializePool(other, 8)
	require.ErrorIs(t, err, ledger.ErrAlreadyInitialized)

	got, err := f.ledger.Pool(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, admin, got.Admin)

	_, err = f.ledger.Pool(ledger.PoolID(other))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Config{})

	_, err := f.ledger.Stake(ctx, user, assetX, 1, 0)
	require.ErrorIs(t, err, ledger.ErrNotInitialized)
	_, err = f.ledger.AddSupportedAsset(admin, assetX, common.Address{}, 1, 0, 0)
	require.ErrorIs(t, err, ledger.ErrNotInitialized)
	_, err = f.ledger.Treasury()
	require.ErrorIs(t, err, ledger.ErrNotInitialized)
}

func TestUpdateAdmin(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, admin, reward, 10)
	f.fund(t, newAdmin, reward, 10)

	_, err := f.ledger.UpdateAdmin(user, newAdmin, 1)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.ledger.UpdateAdmin(admin, common.Address{}, 1)
	require.ErrorIs(t, err, ledger.ErrInvalidIdentity)

	pool, err := f.ledger.UpdateAdmin(admin, newAdmin, 1)
	require.NoError(t, err)
	assert.Equal(t, newAdmin, pool.Admin)
	assert.Equal(t, ledger.PoolID(admin), pool.ID, "pool id is fixed at creation")

	_, err = f.ledger.FundTreasury(ctx, admin, 10, 2)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = f.ledger.AddSupportedAsset(admin, assetY, common.Address{}, 1, 0, 2)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = f.ledger.UpdateAdmin(admin, admin, 2)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.ledger.FundTreasury(ctx, newAdmin, 10, 2)
	require.NoError(t, err)
	_, err = f.ledger.AddSupportedAsset(newAdmin, assetY, common.Address{}, 1, 0, 2)
	require.NoError(t, err)
}

func TestWithdrawTreasury(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, admin, reward, 100)
	_, err := f.ledger.FundTreasury(ctx, admin, 100, 0)
	require.NoError(t, err)

	_, err = f.ledger.WithdrawTreasury(ctx, user, 10, 1)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = f.ledger.WithdrawTreasury(ctx, admin, 0, 1)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = f.ledger.WithdrawTreasury(ctx, admin, 101, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientTreasury)

	treasury, err := f.ledger.WithdrawTreasury(ctx, admin, 60, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), treasury.Balance)
	assert.Equal(t, uint64(60), f.balance(admin, reward))
}

func TestLockDuration(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	_, err := f.ledger.AddSupportedAsset(admin, assetY, common.Address{}, 1, 100, 0)
	require.NoError(t, err)
	f.fund(t, user, assetY, 10)

	stake, err := f.ledger.Stake(ctx, user, assetY, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), stake.UnlockTime)

	_, err = f.ledger.Unstake(ctx, user, assetY, 5, 149)
	require.ErrorIs(t, err, ledger.ErrStakeLocked)

	stake, err = f.ledger.Unstake(ctx, user, assetY, 5, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stake.StakedAmount)
	assert.Equal(t, uint64(10*100), stake.AccruedPoints)
}

func TestConcurrentStakesConserveTotals(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	_, err := f.ledger.AddSupportedAsset(admin, assetY, common.Address{}, 2, 0, 0)
	require.NoError(t, err)

	const users = 32
	const rounds = 20
	owners := make([]common.Address, users)
	for i := range owners {
		owners[i] = common.BigToAddress(common.Big256)
		owners[i][0] = byte(i + 1)
		f.fund(t, owners[i], assetX, rounds*10)
		f.fund(t, owners[i], assetY, rounds*10)
	}

	var wg sync.WaitGroup
	errs := make(chan error, users*2)
	for _, owner := range owners {
		for _, asset := range []common.Address{assetX, assetY} {
			wg.Add(1)
			go func(owner, asset common.Address) {
				defer wg.Done()
				for r := uint64(0); r < rounds; r++ {
					if _, err := f.ledger.Stake(ctx, owner, asset, 10, r); err != nil {
						errs <- fmt.Errorf("stake %s: %w", owner.Hex(), err)
						return
					}
					if r%4 == 3 {
						if _, err := f.ledger.Unstake(ctx, owner, asset, 5, r); err != nil {
							errs <- fmt.Errorf("unstake %s: %w", owner.Hex(), err)
							return
						}
					}
				}
			}(owner, asset)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertConservation(t, f.ledger)
	for _, asset := range []common.Address{assetX, assetY} {
		rec, err := f.ledger.Asset(asset)
		require.NoError(t, err)
		assert.Equal(t, uint64(users*(rounds*10-5*(rounds/4))), rec.TotalStaked)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uint64]struct{}, len(f.entries))
	for _, e := range f.entries {
		_, dup := seen[e.Sequence]
		require.False(t, dup, "sequence %d reused", e.Sequence)
		seen[e.Sequence] = struct{}{}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 4)
	f.fund(t, user, assetX, 100)
	f.fund(t, other, assetX, 100)
	f.fund(t, admin, reward, 500)

	_, err := f.ledger.Stake(ctx, user, assetX, 60, 1)
	require.NoError(t, err)
	_, err = f.ledger.Stake(ctx, other, assetX, 40, 2)
	require.NoError(t, err)
	_, err = f.ledger.FundTreasury(ctx, admin, 500, 2)
	require.NoError(t, err)

	snap := f.ledger.Snapshot()
	require.NoError(t, ledger.CheckSnapshot(snap))
	assert.Len(t, snap.Stakes, 2)
	assert.Equal(t, uint64(5), snap.Sequence)

	restored := newFixture(t, ledger.Config{})
	require.NoError(t, restored.ledger.Restore(snap))
	assert.Equal(t, snap, restored.ledger.Snapshot())

	stake, err := restored.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), stake.StakedAmount)
}

func TestRestoreRejectsBrokenConservation(t *testing.T) {
	f := newPool(t, 1)
	snap := f.ledger.Snapshot()
	snap.Stakes = append(snap.Stakes, model.UserStake{Owner: user, AssetID: assetX, StakedAmount: 5})

	restored := newFixture(t, ledger.Config{})
	require.Error(t, restored.ledger.Restore(snap))

	_, err := restored.ledger.CurrentPool()
	require.ErrorIs(t, err, ledger.ErrNotInitialized, "failed restore must not touch state")
}

func TestObserverSeesCommittedOperationsOnly(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 10)

	_, err := f.ledger.Stake(ctx, user, assetX, 20, 0)
	require.Error(t, err)
	_, err = f.ledger.Stake(ctx, user, assetX, 10, 0)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.entries, 3)
	assert.Equal(t, model.OpInitializePool, f.entries[0].Op)
	assert.Equal(t, model.OpAddSupportedAsset, f.entries[1].Op)
	last := f.entries[2]
	assert.Equal(t, model.OpStake, last.Op)
	assert.Equal(t, uint64(10), last.Amount)
	require.NotNil(t, last.Asset)
	assert.Equal(t, uint64(10), last.Asset.TotalStaked)
	assert.NotEmpty(t, last.ID)
}

func (f *fixture) journal() []model.JournalEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.JournalEntry(nil), f.entries...)
}

func TestSnapshotWithCopiesWalletsInSameCut(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 100)

	done := make(chan error, 1)
	snap := f.ledger.SnapshotWith(func() []model.WalletBalance {
		go func() {
			_, err := f.ledger.Stake(ctx, user, assetX, 100, 1)
			done <- err
		}()
		// the stake must wait until the cut is complete
		time.Sleep(20 * time.Millisecond)
		return f.wallet.Balances()
	})
	require.NoError(t, <-done)
	assert.Zero(t, f.balance(user, assetX))

	restored := newFixture(t, ledger.Config{})
	require.NoError(t, restored.ledger.Restore(snap))
	restored.wallet.Load(snap.Wallets)

	assert.Equal(t, uint64(100), restored.balance(user, assetX))
	_, err := restored.ledger.UserStake(user, assetX)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	assertConservation(t, restored.ledger)
}

func TestReplayRestoresOperationsAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 10)
	f.fund(t, user, assetX, 100)
	f.fund(t, other, assetY, 30)
	f.fund(t, admin, reward, 10_000)

	_, err := f.ledger.Stake(ctx, user, assetX, 100, 0)
	require.NoError(t, err)
	_, err = f.ledger.FundTreasury(ctx, admin, 8_000, 0)
	require.NoError(t, err)
	snap := f.ledger.SnapshotWith(f.wallet.Balances)

	_, err = f.ledger.Unstake(ctx, user, assetX, 50, 5)
	require.NoError(t, err)
	_, _, err = f.ledger.ClaimRewards(ctx, user, assetX, 5)
	require.NoError(t, err)
	_, err = f.ledger.AddSupportedAsset(admin, assetY, common.Address{}, 2, 0, 6)
	require.NoError(t, err)
	_, err = f.ledger.Stake(ctx, other, assetY, 30, 6)
	require.NoError(t, err)
	_, err = f.ledger.UpdateAdmin(admin, newAdmin, 7)
	require.NoError(t, err)
	_, err = f.ledger.WithdrawTreasury(ctx, newAdmin, 1_000, 8)
	require.NoError(t, err)
	want := f.ledger.SnapshotWith(f.wallet.Balances)

	entries := f.journal()
	// replay must not depend on the order entries were written in
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	restored := newFixture(t, ledger.Config{})
	require.NoError(t, restored.ledger.Restore(snap))
	restored.wallet.Load(snap.Wallets)
	res, err := restored.ledger.Replay(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Applied)
	assert.Zero(t, res.Gap)

	assert.Equal(t, want, restored.ledger.SnapshotWith(restored.wallet.Balances))
	assert.Empty(t, restored.journal(), "replay does not re-emit entries")
}

func TestReplayStopsAtGap(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 30)
	snap := f.ledger.SnapshotWith(f.wallet.Balances)

	for i := uint64(1); i <= 3; i++ {
		_, err := f.ledger.Stake(ctx, user, assetX, 10, i)
		require.NoError(t, err)
	}
	var entries []model.JournalEntry
	for _, e := range f.journal() {
		if e.Sequence != snap.Sequence+2 {
			entries = append(entries, e)
		}
	}

	restored := newFixture(t, ledger.Config{})
	require.NoError(t, restored.ledger.Restore(snap))
	restored.wallet.Load(snap.Wallets)
	res, err := restored.ledger.Replay(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, snap.Sequence+2, res.Gap)
	assert.Equal(t, 1, res.Skipped)

	stake, err := restored.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stake.StakedAmount)
	assert.Equal(t, uint64(20), restored.balance(user, assetX))

	_, err = restored.ledger.Stake(ctx, user, assetX, 5, 4)
	require.NoError(t, err)
	next := restored.journal()
	require.Len(t, next, 1)
	assert.Equal(t, snap.Sequence+4, next[0].Sequence, "new operations skip journaled sequences")
}

func TestReplayRejectsUnfundedWallet(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 10)
	snap := f.ledger.Snapshot()
	_, err := f.ledger.Stake(ctx, user, assetX, 10, 1)
	require.NoError(t, err)

	restored := newFixture(t, ledger.Config{})
	require.NoError(t, restored.ledger.Restore(snap))
	_, err = restored.ledger.Replay(ctx, f.journal())
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestRestoreKeepsPoolConversion(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	f.fund(t, user, assetX, 10)
	f.fund(t, admin, reward, 100)
	_, err := f.ledger.FundTreasury(ctx, admin, 100, 0)
	require.NoError(t, err)
	_, err = f.ledger.Stake(ctx, user, assetX, 10, 0)
	require.NoError(t, err)
	snap := f.ledger.SnapshotWith(f.wallet.Balances)

	otherReward := common.HexToAddress("0xee00000000000000000000000000000000000001")
	restored := newFixture(t, ledger.Config{RewardAsset: otherReward, PayoutNumerator: 5, PayoutDenominator: 1})
	require.NoError(t, restored.ledger.Restore(snap))
	restored.wallet.Load(snap.Wallets)

	payout, err := restored.ledger.Payout(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), payout)

	_, payout, err = restored.ledger.ClaimRewards(ctx, user, assetX, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), payout)
	assert.Equal(t, uint64(10), restored.balance(user, reward))
	assert.Zero(t, restored.balance(user, otherReward))

	pool, err := restored.ledger.CurrentPool()
	require.NoError(t, err)
	assert.Equal(t, reward, pool.RewardAsset)
}

func TestRestoreRejectsZeroPayoutDenominator(t *testing.T) {
	f := newPool(t, 1)
	snap := f.ledger.Snapshot()
	snap.Pool.PayoutDenominator = 0
	require.Error(t, newFixture(t, ledger.Config{}).ledger.Restore(snap))
}

type tickClock struct{ n atomic.Uint64 }

func (c *tickClock) Now() uint64 { return c.n.Add(1) }

func TestClockedReadsTimeUnderRecordLocks(t *testing.T) {
	ctx := context.Background()
	f := newPool(t, 1)
	const stakes = 200
	f.fund(t, user, assetX, stakes)

	cmds := f.ledger.WithClock(&tickClock{})
	var wg sync.WaitGroup
	errs := make(chan error, stakes)
	for i := 0; i < stakes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cmds.Stake(ctx, user, assetX, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stake, err := f.ledger.UserStake(user, assetX)
	require.NoError(t, err)
	assert.Equal(t, uint64(stakes), stake.StakedAmount)
	assertConservation(t, f.ledger)
}
