package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

type initializePoolRequest struct {
	Caller common.Address `json:"caller"`
}

type addAssetRequest struct {
	Caller       common.Address `json:"caller"`
	AssetID      common.Address `json:"asset_id"`
	Vault        common.Address `json:"vault"`
	RewardRate   uint64         `json:"reward_rate,string"`
	LockDuration uint64         `json:"lock_duration,string"`
}

type stakeRequest struct {
	Caller  common.Address `json:"caller"`
	AssetID common.Address `json:"asset_id"`
	Amount  uint64         `json:"amount,string"`
}

type claimRequest struct {
	Caller  common.Address `json:"caller"`
	AssetID common.Address `json:"asset_id"`
}

type treasuryRequest struct {
	Caller common.Address `json:"caller"`
	Amount uint64         `json:"amount,string"`
}

type updateAdminRequest struct {
	Caller   common.Address `json:"caller"`
	NewAdmin common.Address `json:"new_admin"`
}

type claimResponse struct {
	Stake  model.UserStake `json:"stake"`
	Payout uint64          `json:"payout,string"`
}
