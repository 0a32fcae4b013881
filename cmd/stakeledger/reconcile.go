package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/chain"
	"github.com/surya-moorthy/escrow-reward-system/internal/config"
	"github.com/surya-moorthy/escrow-reward-system/internal/reconcile"
)

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReconcile(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	assets, err := reconcile.ParseAddresses(cfg.Assets)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.StoreConfig, logger)
	if err != nil {
		return err
	}
	defer st.close()

	snap, ok, err := st.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return fmt.Errorf("no snapshot in %s store", cfg.Store)
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	block := cfg.Block
	if block == 0 {
		// pin every read to one block so vaults are compared at the same height
		if block, err = chainClient.LatestBlockNumber(ctx); err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
	}

	out, err := reconcile.NewJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer out.Close()

	logger.Info("reconcile start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.Uint64("block", block),
		zap.Uint64("sequence", snap.Sequence),
		zap.Int("assets", len(snap.Assets)),
		zap.Int("asset_filter", len(assets)),
		zap.String("out", cfg.Out),
	)

	summary, err := reconcile.New(reconcile.Config{
		Block:        block,
		Assets:       assets,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, logger).Run(ctx, snap, out)
	if err != nil {
		return err
	}
	if !summary.OK() {
		return fmt.Errorf("reconcile found %d mismatched and %d unreadable vaults", summary.Mismatched, summary.Failed)
	}
	return nil
}
