package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "stakeledger",
		Short:        "Custodial staking ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP service",
		RunE:  runServe,
	}

	addStoreFlags(serveCmd)
	serveCmd.Flags().String("listen", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().String("genesis", "", "genesis YAML applied when no snapshot exists")
	serveCmd.Flags().String("reward-asset", "", "asset id claims are paid in")
	serveCmd.Flags().Uint64("payout-numerator", 1, "points to reward conversion numerator")
	serveCmd.Flags().Uint64("payout-denominator", 1, "points to reward conversion denominator")
	serveCmd.Flags().Int("batch-size", 100, "journal entries per write")
	serveCmd.Flags().Duration("flush-interval", time.Second, "maximum delay before a partial batch is written")
	serveCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare vault balances on chain with the ledger snapshot",
		RunE:  runReconcile,
	}

	addStoreFlags(reconcileCmd)
	reconcileCmd.Flags().String("rpc", "", "EVM RPC URL")
	reconcileCmd.Flags().StringSlice("asset", nil, "asset ids to check (comma-separated), default all")
	reconcileCmd.Flags().Uint64("block", 0, "block to read balances at, 0 means latest")
	reconcileCmd.Flags().String("out", "./data/reconcile.jsonl", "output report JSONL")
	reconcileCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	reconcileCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	reconcileCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(reconcileCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored snapshot and verify its accounting",
		RunE:  runInspect,
	}

	addStoreFlags(inspectCmd)
	inspectCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(inspectCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "file", "snapshot store (file, leveldb, postgres)")
	cmd.Flags().String("state-file", "./data/snapshot.json", "snapshot file for the file store")
	cmd.Flags().String("leveldb-path", "./data/ledger.db", "database directory for the leveldb store")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for the postgres store")
	cmd.Flags().String("journal", "./data/journal.jsonl", "journal JSONL for the file store")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
