package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/surya-moorthy/escrow-reward-system/internal/config"
	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
)

func runInspect(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadInspect(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
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

	pending, err := st.replay.Since(ctx, snap.Sequence)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if snap.Pool != nil {
		fmt.Fprintf(w, "pool\t%s\n", snap.Pool.ID.Hex())
		fmt.Fprintf(w, "admin\t%s\n", snap.Pool.Admin.Hex())
		fmt.Fprintf(w, "reward asset\t%s\n", snap.Pool.RewardAsset.Hex())
		fmt.Fprintf(w, "payout\t%d/%d\n", snap.Pool.PayoutNumerator, snap.Pool.PayoutDenominator)
	} else {
		fmt.Fprintf(w, "pool\tnot initialized\n")
	}
	fmt.Fprintf(w, "treasury\t%d\n", snap.Treasury.Balance)
	fmt.Fprintf(w, "sequence\t%d\n", snap.Sequence)
	fmt.Fprintf(w, "taken at\t%s\n", snap.TakenAt)
	fmt.Fprintf(w, "journal after snapshot\t%d\n", len(pending))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ASSET\tVAULT\tRATE\tLOCK\tTOTAL STAKED")
	for _, asset := range snap.Assets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", asset.AssetID.Hex(), asset.Vault.Hex(), asset.RewardRate, asset.LockDuration, asset.TotalStaked)
	}
	fmt.Fprintf(w, "\nstakes\t%d\n", len(snap.Stakes))
	fmt.Fprintf(w, "wallets\t%d\n", len(snap.Wallets))
	if err := w.Flush(); err != nil {
		return err
	}

	if err := ledger.CheckSnapshot(snap); err != nil {
		return fmt.Errorf("snapshot fails accounting check: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "accounting check passed")
	return nil
}
