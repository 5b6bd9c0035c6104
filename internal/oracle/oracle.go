// Package oracle wraps the external advisory service behind a capability
// interface. The oracle is consulted under a strict daily budget; transport
// failures and timeouts always degrade to a skip decision (fail-closed).
package oracle

import (
	"context"
	"time"

	"github.com/gocityvibes/emini/internal/prefilter"
)

// Action is the advisory verdict.
type Action string

const (
	ActionTrade Action = "trade"
	ActionSkip  Action = "skip"
)

// Decision is the oracle's output for one candidate. Immutable once
// recorded. Confidence uses a stable 0-100 scale comparable across calls.
type Decision struct {
	CandidateID string              `json:"candidate_id"`
	Action      Action              `json:"action"`
	Direction   prefilter.Direction `json:"direction"`
	Confidence  int                 `json:"confidence"`
	StopLoss    float64             `json:"stop_loss"`   // points from entry
	TakeProfit  float64             `json:"take_profit"` // points from entry
	Reasoning   string              `json:"reasoning,omitempty"`
	DecidedAt   time.Time           `json:"decided_at"`
	Source      string              `json:"source"` // provider name or "fallback"
}

// Context carries learning state alongside the candidate so the oracle can
// weigh pattern history.
type Context struct {
	FingerprintStatus  string  `json:"fingerprint_status,omitempty"`
	FingerprintWinRate float64 `json:"fingerprint_win_rate,omitempty"`
	FingerprintSamples int     `json:"fingerprint_samples,omitempty"`
	ConfidenceFloor    int     `json:"confidence_floor"`
	TradesToday        int     `json:"trades_today"`
	PointsToday        float64 `json:"points_today"`
}

// Oracle evaluates one candidate. Implementations must honor ctx
// cancellation and return within their configured timeout.
type Oracle interface {
	Evaluate(ctx context.Context, cand *prefilter.Candidate, octx Context) (*Decision, error)
}

// SkipDecision builds the deterministic fallback used when the oracle is
// unavailable or times out.
func SkipDecision(cand *prefilter.Candidate, reason string) *Decision {
	return &Decision{
		CandidateID: cand.ID,
		Action:      ActionSkip,
		Direction:   cand.Direction,
		Confidence:  0,
		Reasoning:   reason,
		DecidedAt:   time.Now().UTC(),
		Source:      "fallback",
	}
}
