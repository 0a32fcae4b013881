package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
	"github.com/surya-moorthy/escrow-reward-system/internal/retry"
)

const (
	StatusMatch    = "match"
	StatusMismatch = "mismatch"
	StatusError    = "error"
)

// BalanceReader reads ERC-20 balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DecimalsReader is implemented by readers that can report token decimals.
// Results then carry the decimals so amounts can be read in whole tokens.
type DecimalsReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Writer receives one result per asset.
type Writer interface {
	Write(value interface{}) error
}

// Config controls where and how balances are read.
type Config struct {
	// Block pins reads to a block; zero reads the latest state.
	Block uint64
	// Assets limits the check to these assets; empty checks all.
	Assets       []common.Address
	MaxRetries   int
	RetryBackoff time.Duration
}

// Result compares one vault's on-chain balance with the ledger.
type Result struct {
	AssetID     string `json:"asset_id"`
	Vault       string `json:"vault"`
	TotalStaked string `json:"total_staked"`
	OnChain     string `json:"on_chain,omitempty"`
	Delta       string `json:"delta,omitempty"`
	Decimals    *uint8 `json:"decimals,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Block       uint64 `json:"block,omitempty"`
	CheckedAt   string `json:"checked_at"`
}

// Summary counts results by status.
type Summary struct {
	Assets     int
	Matched    int
	Mismatched int
	Failed     int
}

// OK reports whether every asset matched.
func (s Summary) OK() bool {
	return s.Mismatched == 0 && s.Failed == 0
}

// Reconciler checks every vault in a snapshot against chain balances.
type Reconciler struct {
	cfg    Config
	reader BalanceReader
	logger *zap.Logger
}

func New(cfg Config, reader BalanceReader, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, reader: reader, logger: logger}
}

// Run writes one Result per asset of snap to out.
func (r *Reconciler) Run(ctx context.Context, snap model.Snapshot, out Writer) (Summary, error) {
	if r.reader == nil {
		return Summary{}, fmt.Errorf("balance reader is nil")
	}
	if out == nil {
		return Summary{}, fmt.Errorf("result writer is nil")
	}

	var block *big.Int
	if r.cfg.Block > 0 {
		block = new(big.Int).SetUint64(r.cfg.Block)
	}

	only := make(map[common.Address]struct{}, len(r.cfg.Assets))
	for _, id := range r.cfg.Assets {
		only[id] = struct{}{}
	}

	var summary Summary
	for _, asset := range snap.Assets {
		if len(only) > 0 {
			if _, ok := only[asset.AssetID]; !ok {
				continue
			}
		}
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		result := r.check(ctx, asset, block)
		summary.Assets++
		switch result.Status {
		case StatusMatch:
			summary.Matched++
		case StatusMismatch:
			summary.Mismatched++
			r.logger.Warn("vault balance mismatch",
				zap.String("asset", result.AssetID),
				zap.String("vault", result.Vault),
				zap.String("total_staked", result.TotalStaked),
				zap.String("on_chain", result.OnChain),
			)
		default:
			summary.Failed++
		}

		if err := out.Write(result); err != nil {
			return summary, fmt.Errorf("write result: %w", err)
		}
	}

	r.logger.Info("reconcile complete",
		zap.Int("assets", summary.Assets),
		zap.Int("matched", summary.Matched),
		zap.Int("mismatched", summary.Mismatched),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

func (r *Reconciler) check(ctx context.Context, asset model.SupportedAsset, block *big.Int) Result {
	result := Result{
		AssetID:     asset.AssetID.Hex(),
		Vault:       asset.Vault.Hex(),
		TotalStaked: fmt.Sprintf("%d", asset.TotalStaked),
		Block:       r.cfg.Block,
		CheckedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	var balance *big.Int
	policy := retry.Policy{
		MaxRetries: r.cfg.MaxRetries,
		BaseDelay:  r.cfg.RetryBackoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.logger.Warn("balanceOf failed, retrying",
				zap.String("asset", result.AssetID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		balance, err = r.reader.BalanceOf(ctx, asset.AssetID, asset.Vault, block)
		return err
	})
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	if dr, ok := r.reader.(DecimalsReader); ok {
		dec, err := dr.Decimals(ctx, asset.AssetID)
		if err != nil {
			r.logger.Debug("decimals unavailable", zap.Error(err), zap.String("asset", result.AssetID))
		} else {
			result.Decimals = &dec
		}
	}

	expected := new(big.Int).SetUint64(asset.TotalStaked)
	result.OnChain = balance.String()
	if balance.Cmp(expected) == 0 {
		result.Status = StatusMatch
		return result
	}
	result.Status = StatusMismatch
	result.Delta = new(big.Int).Sub(balance, expected).String()
	return result
}
