package challenge

import "math/big"

type CreateChallengeRequest struct {
	TargetDays  uint64 `json:"target_days"`
	PenaltyType string `json:"penalty_type"`
	Category    string `json:"category"`
	Description string `json:"description"`
	// StakeWei is a base-10 integer string.
	StakeWei string `json:"stake_wei"`
}

// CreateParams is a validated CreateChallengeRequest.
type CreateParams struct {
	TargetDays  uint64
	PenaltyType PenaltyType
	Category    Category
	Description string
	Stake       *big.Int
}

type CreateChallengeResult struct {
	ChallengeID uint64   `json:"challenge_id"`
	TxHash      string   `json:"tx_hash"`
	Description string   `json:"habit_description"`
	Category    Category `json:"category"`
}

type TxResult struct {
	ChallengeID uint64 `json:"challenge_id"`
	TxHash      string `json:"tx_hash"`
}

type ChallengeList struct {
	Address   string      `json:"address"`
	Count     uint64      `json:"count"`
	Active    []Challenge `json:"active"`
	Completed []Challenge `json:"completed"`
}

type RewardEstimate struct {
	StakeWei  string `json:"stake_wei"`
	Days      uint64 `json:"target_days"`
	RewardWei string `json:"reward_wei"`
}

// TokenMeta describes the reward token for display.
type TokenMeta struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}
