package checkin

import (
	"time"

	"github.com/google/uuid"

	"strictHabitAPI/internal/types/challenge"
)

// Outcome is the per-challenge result of one daily verification pass.
type Outcome string

const (
	OutcomeVerified        Outcome = "verified"
	OutcomeNotYetSatisfied Outcome = "not_yet_satisfied"
	OutcomeNeedsAuth       Outcome = "needs_auth"
	OutcomeCheckFailed     Outcome = "check_failed"
	OutcomeSkipped         Outcome = "skipped"
)

// ClockedIn reports the display signal. CheckFailed renders like NotYetSatisfied.
func (o Outcome) ClockedIn() bool {
	return o == OutcomeVerified
}

type Result struct {
	ChallengeID uint64             `json:"challenge_id"`
	Category    challenge.Category `json:"category"`
	Outcome     Outcome            `json:"outcome"`
	ClockedIn   bool               `json:"clocked_in"`
	Cached      bool               `json:"cached,omitempty"`
	TxHash      string             `json:"tx_hash,omitempty"`
	Message     string             `json:"message,omitempty"`
	AuthURL     string             `json:"auth_url,omitempty"`
}

type Report struct {
	RunID          uuid.UUID `json:"run_id"`
	Day            string    `json:"day"`
	SucceededCount int       `json:"succeeded_count"`
	TxHashes       []string  `json:"tx_hashes"`
	AnyClockedIn   bool      `json:"any_clocked_in"`
	NothingToCheck bool      `json:"nothing_to_check"`
	Message        string    `json:"message"`
	Results        []Result  `json:"results"`
}

type TodayStatus struct {
	Day          string   `json:"day"`
	ChallengeIDs []uint64 `json:"completed_today"`
}

type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

type ReadingNoteRequest struct {
	Content string `json:"content"`
}

type ReadingVerdict struct {
	ChallengeID uint64  `json:"challenge_id"`
	Verdict     Verdict `json:"verdict"`
	Message     string  `json:"message"`
	TxHash      string  `json:"tx_hash,omitempty"`
	// BelowSuggestedLength is advisory; the agent decides.
	BelowSuggestedLength bool `json:"below_suggested_length,omitempty"`
}

// HistoryEntry is one persisted clock-in outcome.
type HistoryEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"`
	ChallengeID   uint64    `json:"challenge_id" db:"challenge_id"`
	Day           string    `json:"day" db:"check_in_day"`
	Outcome       string    `json:"outcome" db:"outcome"`
	TxHash        string    `json:"tx_hash,omitempty" db:"tx_hash"`
	Message       string    `json:"message,omitempty" db:"message"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
