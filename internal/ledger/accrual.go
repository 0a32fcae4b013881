package ledger

import (
	"github.com/holiman/uint256"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// Accrue returns the reward points earned by staked units at rate over elapsed
// seconds. The product is formed in 256 bits and must fit in 64.
func Accrue(staked, rate, elapsed uint64) (uint64, error) {
	if staked == 0 || rate == 0 || elapsed == 0 {
		return 0, nil
	}
	points := new(uint256.Int).Mul(uint256.NewInt(staked), uint256.NewInt(rate))
	points.Mul(points, uint256.NewInt(elapsed))
	if !points.IsUint64() {
		return 0, errorf(KindNumericalOverflow, "accrual %d*%d*%d overflows", staked, rate, elapsed)
	}
	return points.Uint64(), nil
}

// Checkpoint returns a copy of stake with every point earned up to now
// credited and the checkpoint moved to now. It must run before the staked
// amount changes.
func Checkpoint(stake model.UserStake, rate, now uint64) (model.UserStake, error) {
	if now < stake.LastCheckpoint {
		return stake, errorf(KindInvalidTimestamp, "now %d precedes checkpoint %d", now, stake.LastCheckpoint)
	}

	earned, err := Accrue(stake.StakedAmount, rate, now-stake.LastCheckpoint)
	if err != nil {
		return stake, err
	}
	points, err := checkedAdd(stake.AccruedPoints, earned)
	if err != nil {
		return stake, err
	}

	stake.AccruedPoints = points
	stake.LastCheckpoint = now
	return stake, nil
}
