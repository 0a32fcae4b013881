package model

import "github.com/ethereum/go-ethereum/common"

// UserStake tracks one owner's position in one asset.
type UserStake struct {
	Owner          common.Address `json:"owner"`
	AssetID        common.Address `json:"asset_id"`
	StakedAmount   uint64         `json:"staked_amount,string"`
	LastCheckpoint uint64         `json:"last_checkpoint_time"`
	AccruedPoints  uint64         `json:"accrued_points,string"`
	UnlockTime     uint64         `json:"unlock_time,omitempty"`
}
