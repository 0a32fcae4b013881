package model

import "github.com/ethereum/go-ethereum/common"

// Operation names recorded in the journal.
const (
	OpInitializePool    = "initialize_pool"
	OpAddSupportedAsset = "add_supported_asset"
	OpStake             = "stake"
	OpUnstake           = "unstake"
	OpClaimRewards      = "claim_rewards"
	OpFundTreasury      = "fund_treasury"
	OpWithdrawTreasury  = "withdraw_treasury"
	OpUpdateAdmin       = "update_admin"
)

// JournalEntry records one committed ledger operation.
type JournalEntry struct {
	ID       string          `json:"id"`
	Sequence uint64          `json:"sequence"`
	Op       string          `json:"op"`
	Caller   common.Address  `json:"caller"`
	AssetID  *common.Address `json:"asset_id,omitempty"`
	Target   *common.Address `json:"target,omitempty"`
	Amount   uint64          `json:"amount,string"`
	Payout   uint64          `json:"payout,omitempty,string"`
	Now      uint64          `json:"now"`
	Pool     *Pool           `json:"pool,omitempty"`
	Stake    *UserStake      `json:"stake,omitempty"`
	Asset    *SupportedAsset `json:"asset,omitempty"`
	Treasury *Treasury       `json:"treasury,omitempty"`
	Recorded string          `json:"recorded_at"`
}
