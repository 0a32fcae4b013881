package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// UpdateAdmin hands pool authority to newAdmin. The previous admin loses
// every admin-gated capability once this returns.
func (l *Ledger) UpdateAdmin(caller, newAdmin common.Address, now uint64) (model.Pool, error) {
	return l.WithClock(At(now)).UpdateAdmin(caller, newAdmin)
}

func (l *Ledger) updateAdmin(caller, newAdmin common.Address, clock Clock) (model.Pool, model.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireAdmin(caller); err != nil {
		return model.Pool{}, model.JournalEntry{}, err
	}
	if newAdmin == (common.Address{}) {
		return model.Pool{}, model.JournalEntry{}, errorf(KindInvalidIdentity, "admin must not be the zero address")
	}

	l.pool.Admin = newAdmin

	pool := *l.pool
	entry := l.newEntry(model.OpUpdateAdmin, caller, clock.Now())
	entry.Target = addrPtr(newAdmin)
	entry.Pool = &pool
	return pool, entry, nil
}
