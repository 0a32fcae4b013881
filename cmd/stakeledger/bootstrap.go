package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/genesis"
	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
	"github.com/surya-moorthy/escrow-reward-system/internal/wallet"
)

// restoreLedger brings l and wallets back to the last persisted state: the
// snapshot followed by every journal entry recorded after it. When nothing
// has been persisted and a genesis file is set, the genesis is applied and
// saved as the first snapshot. Call it before observers are installed.
func restoreLedger(ctx context.Context, st stores, l *ledger.Ledger, wallets *wallet.Memory, genesisPath string, logger *zap.Logger) error {
	snap, ok, err := st.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		if err := l.Restore(snap); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		wallets.Load(snap.Wallets)
		logger.Info("snapshot restored", zap.Uint64("sequence", snap.Sequence), zap.Int("assets", len(snap.Assets)), zap.Int("stakes", len(snap.Stakes)))
	}

	entries, err := st.replay.Since(ctx, snap.Sequence)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	if !ok && genesisPath != "" {
		if len(entries) > 0 {
			return fmt.Errorf("journal holds %d entries but no snapshot exists, refusing to apply genesis %s", len(entries), genesisPath)
		}
		return applyGenesis(ctx, st, l, wallets, genesisPath, logger)
	}

	res, err := l.Replay(ctx, entries)
	if err != nil {
		return err
	}
	if res.Gap != 0 {
		logger.Warn("journal has a gap, later entries skipped",
			zap.Uint64("missing_sequence", res.Gap),
			zap.Int("skipped", res.Skipped),
			zap.Uint64("sequence", l.Sequence()))
	}
	if res.Applied > 0 {
		logger.Info("journal replayed", zap.Int("entries", res.Applied), zap.Uint64("sequence", l.Sequence()))
	} else if !ok {
		logger.Info("starting with an empty ledger")
	}
	return nil
}

func applyGenesis(ctx context.Context, st stores, l *ledger.Ledger, wallets *wallet.Memory, path string, logger *zap.Logger) error {
	g, err := genesis.Load(path)
	if err != nil {
		return err
	}
	if err := genesis.Apply(ctx, g, l, wallets); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	snap := l.SnapshotWith(wallets.Balances)
	snap.TakenAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := st.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("save genesis snapshot: %w", err)
	}
	logger.Info("genesis applied", zap.String("genesis", path), zap.Int("assets", len(g.Assets)), zap.Uint64("sequence", snap.Sequence))
	return nil
}

// warnConversionMismatch reports configured conversion settings that a
// restored pool overrides.
func warnConversionMismatch(l *ledger.Ledger, cfg ledger.Config, logger *zap.Logger) {
	pool, err := l.CurrentPool()
	if err != nil {
		return
	}
	if cfg.RewardAsset != (common.Address{}) && cfg.RewardAsset != pool.RewardAsset {
		logger.Warn("configured reward asset ignored, pool keeps its own",
			zap.String("configured", cfg.RewardAsset.Hex()),
			zap.String("pool", pool.RewardAsset.Hex()))
	}
	if (cfg.PayoutNumerator != 0 && cfg.PayoutNumerator != pool.PayoutNumerator) ||
		(cfg.PayoutDenominator != 0 && cfg.PayoutDenominator != pool.PayoutDenominator) {
		logger.Warn("configured payout ratio ignored, pool keeps its own",
			zap.Uint64("configured_numerator", cfg.PayoutNumerator),
			zap.Uint64("configured_denominator", cfg.PayoutDenominator),
			zap.Uint64("pool_numerator", pool.PayoutNumerator),
			zap.Uint64("pool_denominator", pool.PayoutDenominator))
	}
}
