package prefilter

import (
	"time"

	"github.com/google/uuid"

	"github.com/gocityvibes/emini/internal/market"
)

// SetupType identifies the recognized setup patterns.
type SetupType string

const (
	SetupORBRetestGo   SetupType = "ORB_retest_go"
	SetupEMAPullback   SetupType = "20EMA_pullback"
	SetupVWAPRejection SetupType = "VWAP_rejection"
	SetupNone          SetupType = "none"
)

// Direction is the candidate trade direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Candidate is a scored setup opportunity awaiting a trade/skip decision.
// Candidates are time-sensitive: past ExpiresAt they must not be escalated.
type Candidate struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Bar         market.Bar         `json:"bar"`
	Setup       SetupType          `json:"setup"`
	Direction   Direction          `json:"direction"`
	Score       float64            `json:"score"` // 0-100 confluence score
	Subscores   map[string]float64 `json:"subscores"`
	RiskFactors []string           `json:"risk_factors"`
	Indicators  market.Indicators  `json:"indicators"`
	Session     string             `json:"session"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

func newCandidate(symbol string, bar market.Bar, setup SetupType, dir Direction, session string, validity time.Duration) *Candidate {
	return &Candidate{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Bar:       bar,
		Setup:     setup,
		Direction: dir,
		Session:   session,
		CreatedAt: bar.Timestamp,
		ExpiresAt: bar.Timestamp.Add(validity),
	}
}

// Expired reports whether the candidate's validity window has passed.
func (c *Candidate) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
