package engine

import (
	"time"

	"github.com/gocityvibes/emini/internal/budget"
	"github.com/gocityvibes/emini/internal/prefilter"
	"github.com/gocityvibes/emini/internal/session"
	"github.com/gocityvibes/emini/internal/sim"
)

// Status is the pull-based reporting snapshot. It is always a consistent
// copy; readers never observe partial cycle state.
type Status struct {
	State       State                       `json:"state"`
	Profile     string                      `json:"profile,omitempty"`
	StateReason string                      `json:"state_reason,omitempty"`
	TradingDate string                      `json:"trading_date"`
	LastBarTime time.Time                   `json:"last_bar_time"`
	OpenTrade   *sim.Trade                  `json:"open_trade,omitempty"`
	ClosedToday int                         `json:"closed_today"`
	WinsToday   int                         `json:"wins_today"`
	Governor    session.Snapshot            `json:"governor"`
	Budget      budget.Snapshot             `json:"budget"`
	Floors      map[prefilter.SetupType]int `json:"confidence_floors"`
}

// Snapshot returns a copy of the engine's observable state.
func (e *Engine) Snapshot() Status {
	e.mu.RLock()
	st := Status{
		State:       e.state,
		Profile:     e.profile,
		StateReason: e.stateReason,
		TradingDate: e.tradingDate,
		LastBarTime: e.lastBarTime,
		ClosedToday: e.closedToday,
		WinsToday:   e.winsToday,
	}
	if e.openTrade != nil {
		cp := *e.openTrade
		st.OpenTrade = &cp
	}
	e.mu.RUnlock()

	st.Governor = e.governor.Snapshot()
	st.Budget = e.scheduler.Status()
	st.Floors = e.calibrator.Floors()
	return st
}

// RecentTrades returns up to n finalized trades, newest first.
func (e *Engine) RecentTrades(n int) []*sim.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n > len(e.recentTrades) {
		n = len(e.recentTrades)
	}
	out := make([]*sim.Trade, n)
	for i := 0; i < n; i++ {
		cp := *e.recentTrades[len(e.recentTrades)-1-i]
		out[i] = &cp
	}
	return out
}
