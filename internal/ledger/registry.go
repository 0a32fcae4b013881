package ledger

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

const (
	poolSeed  = "staking-pool"
	vaultSeed = "vault"
)

// PoolID derives the identifier of the pool created by admin.
func PoolID(admin common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte(poolSeed), admin.Bytes())
}

// VaultAddress derives the default escrow address for an asset of a pool.
func VaultAddress(poolID common.Hash, assetID common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(vaultSeed), poolID.Bytes(), assetID.Bytes()))
}

// InitializePool creates the pool with admin as its authority.
func (l *Ledger) InitializePool(admin common.Address, now uint64) (model.Pool, error) {
	return l.WithClock(At(now)).InitializePool(admin)
}

func (l *Ledger) initializePool(admin common.Address, clock Clock) (model.Pool, model.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pool != nil {
		return model.Pool{}, model.JournalEntry{}, errorf(KindAlreadyInitialized, "pool %s exists", l.pool.ID.Hex())
	}
	if admin == (common.Address{}) {
		return model.Pool{}, model.JournalEntry{}, errorf(KindInvalidIdentity, "admin must not be the zero address")
	}

	now := clock.Now()
	l.pool = &model.Pool{
		ID:                PoolID(admin),
		Admin:             admin,
		RewardAsset:       l.cfg.RewardAsset,
		PayoutNumerator:   l.cfg.PayoutNumerator,
		PayoutDenominator: l.cfg.PayoutDenominator,
		CreatedAt:         now,
	}

	pool := *l.pool
	entry := l.newEntry(model.OpInitializePool, admin, now)
	entry.Target = addrPtr(admin)
	entry.Pool = &pool
	return pool, entry, nil
}

// AddSupportedAsset registers assetID. A zero vault address derives one.
func (l *Ledger) AddSupportedAsset(caller, assetID, vaultAddr common.Address, rewardRate, lockDuration, now uint64) (model.SupportedAsset, error) {
	return l.WithClock(At(now)).AddSupportedAsset(caller, assetID, vaultAddr, rewardRate, lockDuration)
}

func (l *Ledger) addSupportedAsset(caller, assetID, vaultAddr common.Address, rewardRate, lockDuration uint64, clock Clock) (model.SupportedAsset, model.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireAdmin(caller); err != nil {
		return model.SupportedAsset{}, model.JournalEntry{}, err
	}
	if assetID == (common.Address{}) {
		return model.SupportedAsset{}, model.JournalEntry{}, errorf(KindInvalidIdentity, "asset id must not be the zero address")
	}
	if _, ok := l.assets[assetID]; ok {
		return model.SupportedAsset{}, model.JournalEntry{}, errorf(KindAssetAlreadySupported, "asset %s", assetID.Hex())
	}
	if vaultAddr == (common.Address{}) {
		vaultAddr = VaultAddress(l.pool.ID, assetID)
	}
	for id, existing := range l.assets {
		if existing.vault.address == vaultAddr {
			return model.SupportedAsset{}, model.JournalEntry{}, errorf(KindInvalidIdentity, "vault %s already escrows %s", vaultAddr.Hex(), id.Hex())
		}
	}

	now := clock.Now()
	record := model.SupportedAsset{
		AssetID:      assetID,
		Vault:        vaultAddr,
		RewardRate:   rewardRate,
		LockDuration: lockDuration,
		AddedAt:      now,
	}
	l.assets[assetID] = &assetEntry{
		record: record,
		vault:  vault{address: vaultAddr},
		rate:   rewardRate,
		lock:   lockDuration,
	}

	entry := l.newEntry(model.OpAddSupportedAsset, caller, now)
	entry.AssetID = addrPtr(assetID)
	entry.Asset = &record
	return record, entry, nil
}

// Pool returns the pool when id matches this deployment.
func (l *Ledger) Pool(id common.Hash) (model.Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.Pool{}, err
	}
	if l.pool.ID != id {
		return model.Pool{}, errorf(KindNotFound, "pool %s", id.Hex())
	}
	return *l.pool, nil
}

// CurrentPool returns the pool of this deployment.
func (l *Ledger) CurrentPool() (model.Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.Pool{}, err
	}
	return *l.pool, nil
}

// Asset returns the registry entry for assetID.
func (l *Ledger) Asset(assetID common.Address) (model.SupportedAsset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return model.SupportedAsset{}, err
	}
	entry, err := l.lookupAsset(assetID)
	if err != nil {
		return model.SupportedAsset{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.record, nil
}

// Assets lists the registry ordered by registration time, then address.
func (l *Ledger) Assets() ([]model.SupportedAsset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requirePool(); err != nil {
		return nil, err
	}
	out := make([]model.SupportedAsset, 0, len(l.assets))
	for _, entry := range l.assets {
		entry.mu.Lock()
		out = append(out, entry.record)
		entry.mu.Unlock()
	}
	sortAssets(out)
	return out, nil
}

func sortAssets(assets []model.SupportedAsset) {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].AddedAt != assets[j].AddedAt {
			return assets[i].AddedAt < assets[j].AddedAt
		}
		return bytes.Compare(assets[i].AssetID.Bytes(), assets[j].AssetID.Bytes()) < 0
	})
}
