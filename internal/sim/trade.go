package sim

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gocityvibes/emini/internal/prefilter"
)

// Trade lifecycle states.
type State string

const (
	StatePending State = "pending"
	StateOpen    State = "open"
	StateClosed  State = "closed"
)

// Exit reasons. Exactly one is recorded per closed trade.
type ExitReason string

const (
	ExitStoppedOut   ExitReason = "stopped_out"
	ExitTargetHit    ExitReason = "target_hit"
	ExitTimeStopped  ExitReason = "time_stopped"
	ExitTrailingStop ExitReason = "trailing_exit"
	ExitBreakeven    ExitReason = "breakeven"
	ExitForced       ExitReason = "forced"
)

// ErrTradeClosed guards the post-close immutability invariant.
var ErrTradeClosed = errors.New("trade already closed")

// Trade is one simulated bracket trade. Once State is StateClosed the
// record is append-only; any further mutation attempt is an invariant
// violation surfaced as ErrTradeClosed.
type Trade struct {
	ID          string              `json:"id"`
	CandidateID string              `json:"candidate_id"`
	Fingerprint string              `json:"fingerprint"`
	Setup       prefilter.SetupType `json:"setup"`
	Direction   prefilter.Direction `json:"direction"`
	Session     string              `json:"session"`
	Confidence  int                 `json:"confidence"`

	State State `json:"state"`

	EntryPrice float64   `json:"entry_price"` // actual fill after slippage
	EntryTime  time.Time `json:"entry_time"`

	StopLoss   float64 `json:"stop_loss"`   // current stop level (absolute)
	InitialSL  float64 `json:"initial_sl"`  // stop as placed at entry
	TakeProfit float64 `json:"take_profit"` // target level (absolute)

	BreakevenMoved bool `json:"breakeven_moved"`
	TrailActive    bool `json:"trail_active"`

	ExitPrice  float64    `json:"exit_price,omitempty"`
	ExitTime   time.Time  `json:"exit_time,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`

	GrossPoints float64 `json:"gross_points"`
	NetPoints   float64 `json:"net_points"` // after commission + slippage
	MAE         float64 `json:"mae"`        // max adverse excursion, points
	MFE         float64 `json:"mfe"`        // max favorable excursion, points

	highWater float64
	lowWater  float64
}

func newTrade(cand *prefilter.Candidate, confidence int) *Trade {
	return &Trade{
		ID:          uuid.New().String(),
		CandidateID: cand.ID,
		Setup:       cand.Setup,
		Direction:   cand.Direction,
		Session:     cand.Session,
		Confidence:  confidence,
		State:       StatePending,
	}
}

// Long reports the trade direction.
func (t *Trade) Long() bool {
	return t.Direction == prefilter.DirectionLong
}

// Closed reports whether the trade has been finalized.
func (t *Trade) Closed() bool {
	return t.State == StateClosed
}

// Win reports a positive net outcome. Only meaningful once closed.
func (t *Trade) Win() bool {
	return t.NetPoints > 0
}
