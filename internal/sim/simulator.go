// Package sim is the per-trade execution state machine: entry with
// slippage, stop-loss, take-profit, breakeven move, trailing ratchet, and
// a holding time-stop, evaluated against subsequent price action.
package sim

import (
	"fmt"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/oracle"
	"github.com/gocityvibes/emini/internal/prefilter"
)

// Simulator applies bracket-order rules to open trades. Costs are applied
// identically to every trade so backtests are reproducible.
type Simulator struct {
	cfg      config.RiskConfig
	tickSize float64
}

// NewSimulator creates a simulator from risk and market configuration.
func NewSimulator(riskCfg config.RiskConfig, marketCfg config.MarketConfig) *Simulator {
	return &Simulator{cfg: riskCfg, tickSize: marketCfg.TickSize}
}

func (s *Simulator) slippage() float64 {
	return s.cfg.SlippageTicks * s.tickSize
}

// Open fills the trade at the candidate bar's close plus adverse entry
// slippage and places brackets from the decision's levels, falling back to
// configured defaults when the oracle supplied none.
func (s *Simulator) Open(cand *prefilter.Candidate, dec *oracle.Decision, entryBar market.Bar) *Trade {
	t := newTrade(cand, dec.Confidence)

	intended := entryBar.Close
	if t.Long() {
		t.EntryPrice = intended + s.slippage()
	} else {
		t.EntryPrice = intended - s.slippage()
	}
	t.EntryTime = entryBar.Timestamp

	slPts := dec.StopLoss
	if slPts <= 0 {
		slPts = s.cfg.StopLossPoints
	}
	tpPts := dec.TakeProfit
	if tpPts <= 0 {
		tpPts = s.cfg.TakeProfitPoints
	}

	if t.Long() {
		t.StopLoss = t.EntryPrice - slPts
		t.TakeProfit = t.EntryPrice + tpPts
	} else {
		t.StopLoss = t.EntryPrice + slPts
		t.TakeProfit = t.EntryPrice - tpPts
	}
	t.InitialSL = t.StopLoss
	t.highWater = t.EntryPrice
	t.lowWater = t.EntryPrice
	t.State = StateOpen
	return t
}

// ProcessBar walks one bar's price action through the trade in intrabar
// order: open, then low/high (low first when the bar closed down), then
// close. Returns true when the trade closed on this bar.
func (s *Simulator) ProcessBar(t *Trade, bar market.Bar) (bool, error) {
	if t.Closed() {
		return false, fmt.Errorf("process bar: %w", ErrTradeClosed)
	}

	// Time-stop fires before the bar is consumed.
	if s.timedOut(t, bar.Timestamp) {
		return true, s.close(t, bar.Close, bar.Timestamp, ExitTimeStopped, true)
	}

	for _, price := range intrabarPath(bar) {
		closed, err := s.step(t, price, bar.Timestamp)
		if err != nil || closed {
			return closed, err
		}
	}
	return false, nil
}

// ProcessPrice advances the trade by a single price tick.
func (s *Simulator) ProcessPrice(t *Trade, price float64, ts time.Time) (bool, error) {
	if t.Closed() {
		return false, fmt.Errorf("process price: %w", ErrTradeClosed)
	}
	if s.timedOut(t, ts) {
		return true, s.close(t, price, ts, ExitTimeStopped, true)
	}
	return s.step(t, price, ts)
}

// step evaluates one price point in the priority order that resolves
// same-tick ambiguity: stop breach, target breach, breakeven trigger,
// trailing activation/ratchet.
func (s *Simulator) step(t *Trade, price float64, ts time.Time) (bool, error) {
	s.updateExcursions(t, price)

	// 1. stop-loss breach (covers initial, breakeven, and trailing stops)
	if s.stopHit(t, price) {
		reason := ExitStoppedOut
		if t.TrailActive {
			reason = ExitTrailingStop
		} else if t.BreakevenMoved {
			reason = ExitBreakeven
		}
		return true, s.close(t, t.StopLoss, ts, reason, true)
	}

	// 2. take-profit breach (limit fill, no exit slippage)
	if s.targetHit(t, price) {
		return true, s.close(t, t.TakeProfit, ts, ExitTargetHit, false)
	}

	// 3. breakeven trigger
	if !t.BreakevenMoved && s.favorable(t, price) >= s.cfg.BreakevenAtPoints {
		t.StopLoss = t.EntryPrice
		t.BreakevenMoved = true
	}

	// 4. trailing activation and ratchet; tightens only, never loosens
	if !t.TrailActive && s.favorable(t, price) >= s.cfg.TrailAfterPoints {
		t.TrailActive = true
	}
	if t.TrailActive {
		if t.Long() {
			if ns := price - s.cfg.TrailDistance; ns > t.StopLoss {
				t.StopLoss = ns
			}
		} else {
			if ns := price + s.cfg.TrailDistance; ns < t.StopLoss {
				t.StopLoss = ns
			}
		}
	}
	return false, nil
}

// ForceClose exits the trade at market, used when the engine stops with a
// position still open.
func (s *Simulator) ForceClose(t *Trade, price float64, ts time.Time) error {
	if t.Closed() {
		return fmt.Errorf("force close: %w", ErrTradeClosed)
	}
	return s.close(t, price, ts, ExitForced, true)
}

func (s *Simulator) close(t *Trade, exitPrice float64, ts time.Time, reason ExitReason, marketOrder bool) error {
	if t.Closed() {
		return ErrTradeClosed
	}

	// market-order exits eat exit slippage; limit fills do not
	if marketOrder {
		if t.Long() {
			exitPrice -= s.slippage()
		} else {
			exitPrice += s.slippage()
		}
	}

	t.ExitPrice = exitPrice
	t.ExitTime = ts
	t.ExitReason = reason

	// the fill itself is an excursion; keeps MAE <= realized <= MFE
	s.updateExcursions(t, exitPrice)

	if t.Long() {
		t.GrossPoints = exitPrice - t.EntryPrice
	} else {
		t.GrossPoints = t.EntryPrice - exitPrice
	}
	t.NetPoints = t.GrossPoints - s.cfg.CommissionPoints
	t.State = StateClosed
	return nil
}

func (s *Simulator) timedOut(t *Trade, now time.Time) bool {
	if s.cfg.TimeoutMinutes <= 0 {
		return false
	}
	return now.Sub(t.EntryTime) >= time.Duration(s.cfg.TimeoutMinutes)*time.Minute
}

func (s *Simulator) stopHit(t *Trade, price float64) bool {
	if t.Long() {
		return price <= t.StopLoss
	}
	return price >= t.StopLoss
}

func (s *Simulator) targetHit(t *Trade, price float64) bool {
	if t.Long() {
		return price >= t.TakeProfit
	}
	return price <= t.TakeProfit
}

// favorable returns the current favorable excursion in points.
func (s *Simulator) favorable(t *Trade, price float64) float64 {
	if t.Long() {
		return price - t.EntryPrice
	}
	return t.EntryPrice - price
}

// updateExcursions tracks MAE/MFE as running extrema of unrealized P&L.
func (s *Simulator) updateExcursions(t *Trade, price float64) {
	if price > t.highWater {
		t.highWater = price
	}
	if price < t.lowWater {
		t.lowWater = price
	}
	if t.Long() {
		t.MFE = t.highWater - t.EntryPrice
		t.MAE = t.lowWater - t.EntryPrice
	} else {
		t.MFE = t.EntryPrice - t.lowWater
		t.MAE = t.EntryPrice - t.highWater
	}
}

// intrabarPath orders a bar's OHLC points the way price most plausibly
// moved: open first, the far extreme last before the close when the bar
// closed in that direction.
func intrabarPath(bar market.Bar) []float64 {
	prices := []float64{bar.Open}
	switch {
	case bar.High != bar.Open && bar.Low != bar.Open:
		if bar.Close > bar.Open {
			prices = append(prices, bar.Low, bar.High)
		} else {
			prices = append(prices, bar.High, bar.Low)
		}
	case bar.High != bar.Open:
		prices = append(prices, bar.High)
	case bar.Low != bar.Open:
		prices = append(prices, bar.Low)
	}
	return append(prices, bar.Close)
}
