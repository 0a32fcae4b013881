package model

import "github.com/ethereum/go-ethereum/common"

// VaultBalance is the escrowed balance held for one asset.
type VaultBalance struct {
	AssetID common.Address `json:"asset_id"`
	Vault   common.Address `json:"vault"`
	Balance uint64         `json:"balance,string"`
}

// WalletBalance is an external wallet balance for (owner, asset).
type WalletBalance struct {
	Owner   common.Address `json:"owner"`
	AssetID common.Address `json:"asset_id"`
	Balance uint64         `json:"balance,string"`
}

// Snapshot is a point-in-time copy of the whole ledger.
type Snapshot struct {
	Pool     *Pool            `json:"pool,omitempty"`
	Assets   []SupportedAsset `json:"assets"`
	Stakes   []UserStake      `json:"stakes"`
	Vaults   []VaultBalance   `json:"vaults"`
	Treasury Treasury         `json:"treasury"`
	Wallets  []WalletBalance  `json:"wallets,omitempty"`
	Sequence uint64           `json:"sequence"`
	TakenAt  string           `json:"taken_at"`
}
