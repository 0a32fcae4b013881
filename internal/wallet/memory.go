package wallet

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

type key struct {
	owner common.Address
	asset common.Address
}

// Memory keeps external wallet balances in process memory.
type Memory struct {
	mu       sync.RWMutex
	balances map[key]uint64
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[key]uint64)}
}

// Balance returns the balance of owner in asset.
func (m *Memory) Balance(_ context.Context, owner, asset common.Address) (uint64, error) {
	m.mu.RLock()
	bal := m.balances[key{owner: owner, asset: asset}]
	m.mu.RUnlock()
	return bal, nil
}

// Debit removes amount from owner's balance.
func (m *Memory) Debit(_ context.Context, owner, asset common.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{owner: owner, asset: asset}
	if m.balances[k] < amount {
		return fmt.Errorf("wallet %s holds %d of %s, need %d: %w", owner.Hex(), m.balances[k], asset.Hex(), amount, ledger.ErrInsufficientBalance)
	}
	m.balances[k] -= amount
	return nil
}

// Credit adds amount to owner's balance.
func (m *Memory) Credit(_ context.Context, owner, asset common.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{owner: owner, asset: asset}
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(m.balances[k]), uint256.NewInt(amount))
	if overflow || !sum.IsUint64() {
		return fmt.Errorf("wallet %s balance of %s overflows: %w", owner.Hex(), asset.Hex(), ledger.ErrNumericalOverflow)
	}
	m.balances[k] = sum.Uint64()
	return nil
}

// Balances lists every non-zero balance, ordered by owner then asset.
func (m *Memory) Balances() []model.WalletBalance {
	m.mu.RLock()
	out := make([]model.WalletBalance, 0, len(m.balances))
	for k, bal := range m.balances {
		if bal == 0 {
			continue
		}
		out = append(out, model.WalletBalance{Owner: k.owner, AssetID: k.asset, Balance: bal})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner.Bytes(), out[j].Owner.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].AssetID.Bytes(), out[j].AssetID.Bytes()) < 0
	})
	return out
}

// Load replaces all balances.
func (m *Memory) Load(balances []model.WalletBalance) {
	next := make(map[key]uint64, len(balances))
	for _, b := range balances {
		next[key{owner: b.Owner, asset: b.AssetID}] = b.Balance
	}
	m.mu.Lock()
	m.balances = next
	m.mu.Unlock()
}
