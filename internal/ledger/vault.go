package ledger

import "github.com/ethereum/go-ethereum/common"

// vault is the escrow for one asset. It is only reachable through the stake
// and unstake paths; nothing outside this package can move its balance.
type vault struct {
	address common.Address
	balance uint64
}

// stageCredit validates a deposit and returns the function that applies it.
func (v *vault) stageCredit(amount uint64) (func(), error) {
	next, err := checkedAdd(v.balance, amount)
	if err != nil {
		return nil, err
	}
	return func() { v.balance = next }, nil
}

// stageDebit validates a release and returns the function that applies it.
func (v *vault) stageDebit(amount uint64) (func(), error) {
	next, err := checkedSub(v.balance, amount)
	if err != nil {
		return nil, err
	}
	return func() { v.balance = next }, nil
}
