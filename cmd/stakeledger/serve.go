package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/api"
	"github.com/surya-moorthy/escrow-reward-system/internal/config"
	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
	"github.com/surya-moorthy/escrow-reward-system/internal/metrics"
	"github.com/surya-moorthy/escrow-reward-system/internal/model"
	"github.com/surya-moorthy/escrow-reward-system/internal/persist"
	"github.com/surya-moorthy/escrow-reward-system/internal/wallet"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var rewardAsset common.Address
	if cfg.RewardAsset != "" {
		if !common.IsHexAddress(cfg.RewardAsset) {
			return fmt.Errorf("invalid reward asset %q", cfg.RewardAsset)
		}
		rewardAsset = common.HexToAddress(cfg.RewardAsset)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.StoreConfig, logger)
	if err != nil {
		return err
	}
	defer st.close()

	wallets := wallet.NewMemory()
	m := metrics.New()
	ledgerCfg := ledger.Config{
		RewardAsset:       rewardAsset,
		PayoutNumerator:   cfg.PayoutNumerator,
		PayoutDenominator: cfg.PayoutDenominator,
	}
	l, err := ledger.New(ledgerCfg, wallets, nil, logger.Named("ledger"))
	if err != nil {
		return err
	}
	if err := restoreLedger(ctx, st, l, wallets, cfg.Genesis, logger); err != nil {
		return err
	}
	warnConversionMismatch(l, ledgerCfg, logger)
	m.Seed(l.Snapshot())

	recorder := persist.NewRecorder(persist.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
	}, st.journal, st.snapshots, func() model.Snapshot {
		return l.SnapshotWith(wallets.Balances)
	}, logger.Named("persist"))
	recorder.OnFailure(m.PersistFailed)
	l.SetObserver(ledger.Observers{m, recorder})

	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	recorderDone := make(chan error, 1)
	go func() { recorderDone <- recorder.Run(recorderCtx) }()
	defer func() {
		stopRecorder()
		if err := <-recorderDone; err != nil {
			logger.Warn("recorder", zap.Error(err))
		}
		logger.Info("stakeledger stopped", zap.Uint64("persist_failures", recorder.Failures()))
	}()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(l, api.NewMonotonicClock(clockFloor(l.Snapshot())), m, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("stakeledger start",
		zap.String("listen", cfg.Listen),
		zap.String("store", cfg.Store),
		zap.String("reward_asset", rewardAsset.Hex()),
		zap.Uint64("payout_numerator", cfg.PayoutNumerator),
		zap.Uint64("payout_denominator", cfg.PayoutDenominator),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err, open := <-serveErr:
		if open && err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}

// clockFloor returns the latest time recorded in snap so the clock never
// starts behind an existing checkpoint.
func clockFloor(snap model.Snapshot) uint64 {
	var floor uint64
	if snap.Pool != nil {
		floor = snap.Pool.CreatedAt
	}
	for _, asset := range snap.Assets {
		if asset.AddedAt > floor {
			floor = asset.AddedAt
		}
	}
	for _, stake := range snap.Stakes {
		if stake.LastCheckpoint > floor {
			floor = stake.LastCheckpoint
		}
	}
	return floor
}
