package challenge

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

type PenaltyType uint8

const (
	PenaltyBurn    PenaltyType = 0
	PenaltyCharity PenaltyType = 1
	PenaltyDev     PenaltyType = 2
)

func (p PenaltyType) Valid() bool {
	return p <= PenaltyDev
}

func (p PenaltyType) String() string {
	switch p {
	case PenaltyBurn:
		return "burn"
	case PenaltyCharity:
		return "charity"
	case PenaltyDev:
		return "dev"
	default:
		return "unknown"
	}
}

func ParsePenaltyType(s string) (PenaltyType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "burn":
		return PenaltyBurn, true
	case "charity":
		return PenaltyCharity, true
	case "dev":
		return PenaltyDev, true
	}
	return 0, false
}

func (p PenaltyType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PenaltyType) UnmarshalText(b []byte) error {
	v, ok := ParsePenaltyType(string(b))
	if !ok {
		return fmt.Errorf("unknown penalty type %q", b)
	}
	*p = v
	return nil
}

// Status is monotonic and only ever advanced by the escrow contract.
type Status uint8

const (
	StatusActive    Status = 0
	StatusCompleted Status = 1
	StatusFailed    Status = 2
	StatusWithdrawn Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusActive, StatusCompleted, StatusFailed, StatusWithdrawn} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// Minimum challenge length accepted by the escrow contract.
const MinTargetDays = 7

type Challenge struct {
	ID               uint64      `json:"id"`
	StakeAmount      *big.Int    `json:"stake_amount"`
	TargetDays       uint64      `json:"target_days"`
	CompletedDays    uint64      `json:"completed_days"`
	StartTime        time.Time   `json:"start_time"`
	PenaltyType      PenaltyType `json:"penalty_type"`
	Status           Status      `json:"status"`
	ResurrectionUsed bool        `json:"resurrection_used"`
	HabitDescription string      `json:"habit_description"`
	Category         Category    `json:"category"`
}

func (c *Challenge) IsActive() bool {
	return c.Status == StatusActive
}

// Partition splits challenges into active and terminal sets, preserving order.
func Partition(challenges []Challenge) (active, terminal []Challenge) {
	active = make([]Challenge, 0, len(challenges))
	terminal = make([]Challenge, 0, len(challenges))
	for _, c := range challenges {
		if c.IsActive() {
			active = append(active, c)
		} else {
			terminal = append(terminal, c)
		}
	}
	return active, terminal
}
