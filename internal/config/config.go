package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "STAKELEDGER"

// Snapshot store backends.
const (
	StoreFile     = "file"
	StoreLevelDB  = "leveldb"
	StorePostgres = "postgres"
)

// StoreConfig selects where snapshots and the journal live.
type StoreConfig struct {
	Store       string
	StateFile   string
	LevelDBPath string
	PGDSN       string
	Journal     string
}

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	StoreConfig
	Listen            string
	Genesis           string
	RewardAsset       string
	PayoutNumerator   uint64
	PayoutDenominator uint64
	BatchSize         int
	FlushInterval     time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v := newViper()
	setStoreDefaults(v)
	v.SetDefault("listen", "127.0.0.1:8080")
	v.SetDefault("payout-numerator", uint64(1))
	v.SetDefault("payout-denominator", uint64(1))
	v.SetDefault("batch-size", 100)
	v.SetDefault("flush-interval", time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if err := read(v, cfgFile, flags); err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		StoreConfig:       storeConfig(v),
		Listen:            v.GetString("listen"),
		Genesis:           v.GetString("genesis"),
		RewardAsset:       v.GetString("reward-asset"),
		PayoutNumerator:   v.GetUint64("payout-numerator"),
		PayoutDenominator: v.GetUint64("payout-denominator"),
		BatchSize:         v.GetInt("batch-size"),
		FlushInterval:     v.GetDuration("flush-interval"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}
	if err := cfg.StoreConfig.validate(); err != nil {
		return ServeConfig{}, err
	}
	if cfg.PayoutDenominator == 0 {
		return ServeConfig{}, fmt.Errorf("payout-denominator must be greater than zero")
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func setStoreDefaults(v *viper.Viper) {
	v.SetDefault("store", StoreFile)
	v.SetDefault("state-file", "./data/snapshot.json")
	v.SetDefault("leveldb-path", "./data/ledger.db")
	v.SetDefault("journal", "./data/journal.jsonl")
}

func storeConfig(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Store:       strings.ToLower(v.GetString("store")),
		StateFile:   v.GetString("state-file"),
		LevelDBPath: v.GetString("leveldb-path"),
		PGDSN:       v.GetString("pg-dsn"),
		Journal:     v.GetString("journal"),
	}
}

func (c StoreConfig) validate() error {
	switch c.Store {
	case StoreFile:
		if c.StateFile == "" {
			return fmt.Errorf("state-file is required for the file store")
		}
	case StoreLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("leveldb-path is required for the leveldb store")
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q (want file, leveldb or postgres)", c.Store)
	}
	return nil
}

func read(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
