package session

import (
	"sync"
	"time"

	"github.com/gocityvibes/emini/config"
)

// Governor skip reason codes.
const (
	ReasonOK                = "ok"
	ReasonOutsideSession    = "outside_session"
	ReasonMaxTrades         = "max_trades_reached"
	ReasonConsecutiveLosses = "consecutive_loss_stop"
	ReasonDailyPointStop    = "daily_point_stop"
)

// Governor tracks intraday risk counters and gates new trade entries.
// Counters reset when the trading date changes.
type Governor struct {
	mu sync.RWMutex

	validator *Validator
	cfg       config.RiskConfig

	tradingDate       string
	tradesToday       int
	consecutiveLosses int
	pointsToday       float64
}

// NewGovernor creates a governor bound to a session validator.
func NewGovernor(cfg config.RiskConfig, validator *Validator) *Governor {
	return &Governor{cfg: cfg, validator: validator}
}

// Check runs every predicate in order and returns the first violation's
// reason code, or ReasonOK.
func (g *Governor) Check(ts time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(ts)

	if info := g.validator.Resolve(ts); !info.TradableNow {
		return false, ReasonOutsideSession
	}
	if g.tradesToday >= g.cfg.MaxTradesPerDay {
		return false, ReasonMaxTrades
	}
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return false, ReasonConsecutiveLosses
	}
	if g.pointsToday <= g.cfg.DailyPointStop {
		return false, ReasonDailyPointStop
	}
	return true, ReasonOK
}

// RecordEntry counts a new trade against the daily maximum.
func (g *Governor) RecordEntry(ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(ts)
	g.tradesToday++
}

// RecordOutcome feeds a finalized trade's realized points back into the
// loss counters.
func (g *Governor) RecordOutcome(ts time.Time, netPoints float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(ts)
	g.pointsToday += netPoints
	if netPoints < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}
}

func (g *Governor) rollDayLocked(ts time.Time) {
	date := g.validator.TradingDate(ts)
	if date != g.tradingDate {
		g.tradingDate = date
		g.tradesToday = 0
		g.consecutiveLosses = 0
		g.pointsToday = 0
	}
}

// Snapshot is a copy of the governor's daily counters for reporting.
type Snapshot struct {
	TradingDate       string  `json:"trading_date"`
	TradesToday       int     `json:"trades_today"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	PointsToday       float64 `json:"points_today"`
	MaxTradesPerDay   int     `json:"max_trades_per_day"`
}

// Snapshot returns the current counters.
func (g *Governor) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		TradingDate:       g.tradingDate,
		TradesToday:       g.tradesToday,
		ConsecutiveLosses: g.consecutiveLosses,
		PointsToday:       g.pointsToday,
		MaxTradesPerDay:   g.cfg.MaxTradesPerDay,
	}
}
