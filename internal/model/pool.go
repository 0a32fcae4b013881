package model

import "github.com/ethereum/go-ethereum/common"

// Pool is the single staking pool record of a deployment.
type Pool struct {
	ID                common.Hash    `json:"id"`
	Admin             common.Address `json:"admin"`
	RewardAsset       common.Address `json:"reward_asset"`
	PayoutNumerator   uint64         `json:"payout_numerator,string"`
	PayoutDenominator uint64         `json:"payout_denominator,string"`
	CreatedAt         uint64         `json:"created_at"`
}

// SupportedAsset is a registry entry for a stakeable asset.
type SupportedAsset struct {
	AssetID      common.Address `json:"asset_id"`
	Vault        common.Address `json:"vault"`
	RewardRate   uint64         `json:"reward_rate,string"`
	TotalStaked  uint64         `json:"total_staked,string"`
	LockDuration uint64         `json:"lock_duration"`
	AddedAt      uint64         `json:"added_at"`
}

// Treasury holds reward liquidity funded by the admin.
type Treasury struct {
	Balance uint64 `json:"balance,string"`
}
