package genesis

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
)

// Genesis describes the state a fresh deployment boots into.
type Genesis struct {
	Admin    string    `yaml:"admin"`
	Time     uint64    `yaml:"time"`
	Wallets  []Balance `yaml:"wallets"`
	Assets   []Asset   `yaml:"assets"`
	Treasury uint64    `yaml:"treasury"`
}

// Balance seeds an external wallet.
type Balance struct {
	Owner   string `yaml:"owner"`
	Asset   string `yaml:"asset"`
	Balance uint64 `yaml:"balance"`
}

// Asset registers a supported asset at boot.
type Asset struct {
	ID           string `yaml:"id"`
	Vault        string `yaml:"vault"`
	RewardRate   uint64 `yaml:"reward_rate"`
	LockDuration uint64 `yaml:"lock_duration"`
}

// Crediter is the part of a wallet genesis needs.
type Crediter interface {
	Credit(ctx context.Context, owner, asset common.Address, amount uint64) error
}

// Load reads and validates a genesis file.
func Load(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

// Validate checks every address in g.
func (g Genesis) Validate() error {
	if _, err := parseAddress("admin", g.Admin, false); err != nil {
		return err
	}
	for i, w := range g.Wallets {
		if _, err := parseAddress(fmt.Sprintf("wallets[%d].owner", i), w.Owner, false); err != nil {
			return err
		}
		if _, err := parseAddress(fmt.Sprintf("wallets[%d].asset", i), w.Asset, false); err != nil {
			return err
		}
	}
	for i, a := range g.Assets {
		if _, err := parseAddress(fmt.Sprintf("assets[%d].id", i), a.ID, false); err != nil {
			return err
		}
		if _, err := parseAddress(fmt.Sprintf("assets[%d].vault", i), a.Vault, true); err != nil {
			return err
		}
	}
	return nil
}

// Apply credits the wallets, creates the pool, registers the assets and
// funds the treasury from the admin's wallet.
func Apply(ctx context.Context, g Genesis, l *ledger.Ledger, wallet Crediter) error {
	if err := g.Validate(); err != nil {
		return err
	}
	for _, w := range g.Wallets {
		if err := wallet.Credit(ctx, common.HexToAddress(w.Owner), common.HexToAddress(w.Asset), w.Balance); err != nil {
			return fmt.Errorf("credit genesis wallet %s: %w", w.Owner, err)
		}
	}

	admin := common.HexToAddress(g.Admin)
	if _, err := l.InitializePool(admin, g.Time); err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	for _, a := range g.Assets {
		var vault common.Address
		if a.Vault != "" {
			vault = common.HexToAddress(a.Vault)
		}
		if _, err := l.AddSupportedAsset(admin, common.HexToAddress(a.ID), vault, a.RewardRate, a.LockDuration, g.Time); err != nil {
			return fmt.Errorf("add asset %s: %w", a.ID, err)
		}
	}
	if g.Treasury > 0 {
		if _, err := l.FundTreasury(ctx, admin, g.Treasury, g.Time); err != nil {
			return fmt.Errorf("fund treasury: %w", err)
		}
	}
	return nil
}

func parseAddress(field, raw string, optional bool) (common.Address, error) {
	if raw == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("genesis %s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}
