package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

// Wallet holds the external balances callers stake from and are paid into.
// Debit must fail with an error matching ErrInsufficientBalance when the
// owner's balance is short.
type Wallet interface {
	Balance(ctx context.Context, owner, asset common.Address) (uint64, error)
	Debit(ctx context.Context, owner, asset common.Address, amount uint64) error
	Credit(ctx context.Context, owner, asset common.Address, amount uint64) error
}

// Observer receives every committed operation in commit order per record.
type Observer interface {
	Committed(entry model.JournalEntry)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(entry model.JournalEntry)

func (f ObserverFunc) Committed(entry model.JournalEntry) { f(entry) }

// Observers fans a committed entry out to each observer in order.
type Observers []Observer

func (o Observers) Committed(entry model.JournalEntry) {
	for _, obs := range o {
		if obs != nil {
			obs.Committed(entry)
		}
	}
}

// Clock supplies the time of a command. Commands read it once they hold the
// locks of the records they change.
type Clock interface {
	Now() uint64
}

// At is a Clock fixed at one instant.
type At uint64

func (t At) Now() uint64 { return uint64(t) }

// Config holds pool-level settings used when the pool is created. A restored
// or replayed pool keeps the settings it was created with.
type Config struct {
	// RewardAsset is the asset claims are paid in and the treasury holds.
	RewardAsset common.Address
	// PayoutNumerator / PayoutDenominator convert points into RewardAsset
	// units. Zero values mean 1/1.
	PayoutNumerator   uint64
	PayoutDenominator uint64
}

type assetEntry struct {
	mu     sync.Mutex
	record model.SupportedAsset
	vault  vault
	// copies of immutable registry fields, readable without mu
	rate uint64
	lock uint64
}

type stakeKey struct {
	owner common.Address
	asset common.Address
}

type stakeEntry struct {
	mu     sync.Mutex
	record model.UserStake
	exists bool
}

type treasuryEntry struct {
	mu      sync.Mutex
	balance uint64
}

// Ledger is one staking pool deployment. All operations are safe for
// concurrent use; operations on disjoint users and assets do not contend.
type Ledger struct {
	cfg      Config
	wallet   Wallet
	observer Observer
	logger   *zap.Logger

	// mu guards pool and the assets map. Operations hold it for reading;
	// registry mutation, admin transfer and snapshots hold it for writing.
	mu     sync.RWMutex
	pool   *model.Pool
	assets map[common.Address]*assetEntry

	stakesMu sync.Mutex
	stakes   map[stakeKey]*stakeEntry

	treasury treasuryEntry
	seq      atomic.Uint64
}

// New builds an uninitialized ledger.
func New(cfg Config, wallet Wallet, observer Observer, logger *zap.Logger) (*Ledger, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PayoutNumerator == 0 && cfg.PayoutDenominator == 0 {
		cfg.PayoutNumerator, cfg.PayoutDenominator = 1, 1
	}
	if cfg.PayoutDenominator == 0 {
		return nil, fmt.Errorf("payout denominator must be greater than zero")
	}
	return &Ledger{
		cfg:      cfg,
		wallet:   wallet,
		observer: observer,
		logger:   logger,
		assets:   make(map[common.Address]*assetEntry),
		stakes:   make(map[stakeKey]*stakeEntry),
	}, nil
}

// SetObserver replaces the commit observer. It must be called before the
// ledger is shared between goroutines.
func (l *Ledger) SetObserver(observer Observer) {
	l.observer = observer
}

// Sequence returns the number of the last committed operation.
func (l *Ledger) Sequence() uint64 {
	return l.seq.Load()
}

// requirePool must be called with mu held.
func (l *Ledger) requirePool() error {
	if l.pool == nil {
		return ErrNotInitialized
	}
	return nil
}

// conversion returns the reward asset and payout ratio of the pool, falling
// back to the configuration before initialization. mu must be held.
func (l *Ledger) conversion() (common.Address, uint64, uint64) {
	if l.pool != nil {
		return l.pool.RewardAsset, l.pool.PayoutNumerator, l.pool.PayoutDenominator
	}
	return l.cfg.RewardAsset, l.cfg.PayoutNumerator, l.cfg.PayoutDenominator
}

// requireAdmin must be called with mu held.
func (l *Ledger) requireAdmin(caller common.Address) error {
	if err := l.requirePool(); err != nil {
		return err
	}
	if caller != l.pool.Admin {
		return errorf(KindUnauthorized, "%s is not the pool admin", caller.Hex())
	}
	return nil
}

// lookupAsset must be called with mu held.
func (l *Ledger) lookupAsset(assetID common.Address) (*assetEntry, error) {
	entry, ok := l.assets[assetID]
	if !ok {
		return nil, errorf(KindUnsupportedToken, "asset %s is not supported", assetID.Hex())
	}
	return entry, nil
}

// stakeEntry returns the slot for (owner, asset), creating an empty one when
// create is set. A created slot stays invisible until an operation commits.
func (l *Ledger) stakeEntry(owner, asset common.Address, create bool) *stakeEntry {
	key := stakeKey{owner: owner, asset: asset}
	l.stakesMu.Lock()
	defer l.stakesMu.Unlock()
	entry, ok := l.stakes[key]
	if !ok && create {
		entry = &stakeEntry{}
		l.stakes[key] = entry
	}
	return entry
}

func (l *Ledger) newEntry(op string, caller common.Address, now uint64) model.JournalEntry {
	return model.JournalEntry{
		ID:       uuid.NewString(),
		Sequence: l.seq.Add(1),
		Op:       op,
		Caller:   caller,
		Now:      now,
	}
}

func (l *Ledger) finish(op string, caller common.Address, asset *common.Address, entry model.JournalEntry, err error) {
	fields := []zap.Field{zap.String("op", op), zap.String("caller", caller.Hex())}
	if asset != nil {
		fields = append(fields, zap.String("asset", asset.Hex()))
	}
	if err != nil {
		if kind, ok := KindOf(err); ok {
			fields = append(fields, zap.String("kind", string(kind)))
		}
		l.logger.Info("operation rejected", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug("operation committed", append(fields, zap.Uint64("sequence", entry.Sequence))...)
	if l.observer != nil {
		l.observer.Committed(entry)
	}
}

func (l *Ledger) debitWallet(ctx context.Context, owner, asset common.Address, amount uint64) error {
	balance, err := l.wallet.Balance(ctx, owner, asset)
	if err != nil {
		return fmt.Errorf("read wallet balance: %w", err)
	}
	if balance < amount {
		return errorf(KindInsufficientBalance, "wallet holds %d, need %d", balance, amount)
	}
	if err := l.wallet.Debit(ctx, owner, asset, amount); err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}
	return nil
}

func (l *Ledger) creditWallet(ctx context.Context, owner, asset common.Address, amount uint64) error {
	if err := l.wallet.Credit(ctx, owner, asset, amount); err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

func addrPtr(addr common.Address) *common.Address {
	return &addr
}
