// Package prefilter turns bars into scored trade candidates. Scoring is a
// weighted confluence of technical factors; it is pure, so the same bar
// and rolling state always produce the same score.
package prefilter

import (
	"math"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/session"
)

// candidateValidity bounds how long a candidate may wait in the scheduler
// before its setup goes stale.
const candidateValidity = 90 * time.Second

// Scorer computes confluence scores for setup candidates.
type Scorer struct {
	cfg    config.PrefilterConfig
	symbol string
}

// NewScorer creates a scorer with validated weights (config.Validate has
// already checked the sum).
func NewScorer(cfg config.PrefilterConfig, symbol string) *Scorer {
	return &Scorer{cfg: cfg, symbol: symbol}
}

// Evaluate produces zero or one candidate for the bar. Returns nil when no
// setup is present, the rolling state is still warming up, or the score is
// below the floor.
func (s *Scorer) Evaluate(bar market.Bar, ind market.Indicators, recent []market.Bar, sess session.Info) *Candidate {
	if len(recent) < 10 {
		return nil // insufficient rolling statistics
	}

	setup, dir := s.identifySetup(bar, ind, recent)
	if setup == SetupNone {
		return nil
	}

	cand := newCandidate(s.symbol, bar, setup, dir, sess.CurrentSession, candidateValidity)
	cand.Indicators = ind

	sub := map[string]float64{
		"trend":            s.scoreTrend(ind),
		"volume":           s.scoreVolume(ind),
		"structure":        s.scoreStructure(setup),
		"atr_band":         s.scoreATRBand(ind),
		"session":          s.scoreSession(sess),
		"body_cleanliness": s.scoreBodyCleanliness(recent),
		"liquidity":        s.scoreLiquidity(recent),
		"news":             100.0, // no news feed wired; treated as clear
	}
	cand.Subscores = sub

	var total float64
	for factor, score := range sub {
		total += score * s.cfg.Weights[factor] / 100.0
	}
	cand.Score = math.Round(total*10) / 10
	cand.RiskFactors = s.riskFactors(sub, ind, sess)

	if cand.Score < s.cfg.MinScore {
		return nil
	}
	return cand
}

// identifySetup checks the three recognized patterns in priority order.
func (s *Scorer) identifySetup(bar market.Bar, ind market.Indicators, recent []market.Bar) (SetupType, Direction) {
	if ind.EMA20 == 0 || ind.VWAP == 0 {
		return SetupNone, DirectionLong
	}
	if dir, ok := s.isORBRetest(bar, ind, recent); ok {
		return SetupORBRetestGo, dir
	}
	if dir, ok := s.isEMAPullback(bar, ind, recent); ok {
		return SetupEMAPullback, dir
	}
	if dir, ok := s.isVWAPRejection(bar, ind, recent); ok {
		return SetupVWAPRejection, dir
	}
	return SetupNone, DirectionLong
}

// isORBRetest: price broke the opening range, pulled back, and now retests
// the breakout level with a confirming close.
func (s *Scorer) isORBRetest(bar market.Bar, ind market.Indicators, recent []market.Bar) (Direction, bool) {
	if ind.ORBHigh == 0 || ind.ORBLow == math.MaxFloat64 || len(recent) < 10 {
		return DirectionLong, false
	}
	var maxHigh, minLow float64
	minLow = math.MaxFloat64
	for _, b := range recent[len(recent)-10:] {
		maxHigh = math.Max(maxHigh, b.High)
		minLow = math.Min(minLow, b.Low)
	}
	brokeUp := maxHigh > ind.ORBHigh+0.5
	brokeDown := minLow < ind.ORBLow-0.5

	if brokeUp && math.Abs(bar.Close-ind.ORBHigh) < 1.0 && bar.Bullish() {
		return DirectionLong, true
	}
	if brokeDown && math.Abs(bar.Close-ind.ORBLow) < 1.0 && !bar.Bullish() {
		return DirectionShort, true
	}
	return DirectionLong, false
}

// isEMAPullback: price touched the 20 EMA recently and is bouncing off it
// in the direction of the EMA slope.
func (s *Scorer) isEMAPullback(bar market.Bar, ind market.Indicators, recent []market.Bar) (Direction, bool) {
	if math.Abs(bar.Close-ind.EMA20) >= 1.0 {
		return DirectionLong, false
	}
	touched := false
	for _, b := range tail(recent, 5) {
		if math.Abs(b.Close-ind.EMA20) < 0.5 {
			touched = true
			break
		}
	}
	if !touched {
		return DirectionLong, false
	}
	if ind.EMA20 > ind.EMA20Prev && bar.Close > ind.EMA20 {
		return DirectionLong, true
	}
	if ind.EMA20 < ind.EMA20Prev && bar.Close < ind.EMA20 {
		return DirectionShort, true
	}
	return DirectionLong, false
}

// isVWAPRejection: price tested VWAP within the last bars and is now moving
// away from it.
func (s *Scorer) isVWAPRejection(bar market.Bar, ind market.Indicators, recent []market.Bar) (Direction, bool) {
	tested := false
	for _, b := range tail(recent, 5) {
		if math.Abs(b.Close-ind.VWAP) < 0.5 {
			tested = true
			break
		}
	}
	if !tested || math.Abs(bar.Close-ind.VWAP) <= 0.5 {
		return DirectionLong, false
	}
	if bar.Close > ind.VWAP {
		return DirectionLong, true
	}
	return DirectionShort, true
}

func (s *Scorer) scoreTrend(ind market.Indicators) float64 {
	aboveEMA := ind.CurrentPrice > ind.EMA20
	aboveVWAP := ind.CurrentPrice > ind.VWAP
	emaRising := ind.EMA20 > ind.EMA20Prev

	var base float64
	switch {
	case aboveEMA == aboveVWAP && emaRising == aboveEMA:
		base = 100 // price, VWAP and slope all agree
	case aboveEMA == aboveVWAP:
		base = 75
	default:
		base = 25
	}
	return base
}

func (s *Scorer) scoreVolume(ind market.Indicators) float64 {
	vm := ind.VolumeMultiple
	switch {
	case vm >= 2.2:
		return 100
	case vm >= 1.8:
		return 80
	case vm >= 1.5:
		return 60
	case vm >= 1.2:
		return 40
	default:
		return 20
	}
}

func (s *Scorer) scoreStructure(setup SetupType) float64 {
	switch setup {
	case SetupORBRetestGo:
		return 100
	case SetupEMAPullback:
		return 90
	case SetupVWAPRejection:
		return 85
	default:
		return 0
	}
}

func (s *Scorer) scoreATRBand(ind market.Indicators) float64 {
	atr := ind.ATR
	switch {
	case atr >= s.cfg.ATRMin && atr <= s.cfg.ATRMax:
		if atr >= 1.0 && atr <= 1.5 {
			return 100
		}
		return 80
	case atr < s.cfg.ATRMin:
		return math.Max(0, atr/s.cfg.ATRMin*60)
	default:
		penalty := math.Min(60, (atr-s.cfg.ATRMax)*30)
		return math.Max(0, 60-penalty)
	}
}

func (s *Scorer) scoreSession(sess session.Info) float64 {
	switch sess.CurrentSession {
	case session.SessionRTHA:
		return 100
	case session.SessionRTHB:
		return 90
	default:
		return 0
	}
}

func (s *Scorer) scoreBodyCleanliness(recent []market.Bar) float64 {
	bars := tail(recent, 5)
	var ratios []float64
	for _, b := range bars {
		if r := b.Range(); r > 0 {
			ratios = append(ratios, b.Body()/r)
		}
	}
	if len(ratios) == 0 {
		return 0
	}
	var sum float64
	for _, r := range ratios {
		sum += r
	}
	avg := sum / float64(len(ratios))
	min := s.cfg.MinBodyRatio
	if avg >= min {
		return 60 + (avg-min)/(1-min)*40
	}
	return avg / min * 60
}

func (s *Scorer) scoreLiquidity(recent []market.Bar) float64 {
	bars := tail(recent, 10)
	if len(bars) < 10 {
		return 50 // neutral with thin history
	}
	var sum float64
	for _, b := range bars {
		sum += b.Range()
	}
	avg := sum / float64(len(bars))

	airGaps := 0
	for _, b := range bars {
		if b.Range() > 2*avg {
			airGaps++
		}
	}
	switch airGaps {
	case 0:
		return 100
	case 1:
		return 70
	case 2:
		return 40
	default:
		return 10
	}
}

// riskFactors flags conditions the scheduler uses to avoid spending budget
// on marginal candidates.
func (s *Scorer) riskFactors(sub map[string]float64, ind market.Indicators, sess session.Info) []string {
	var flags []string
	if sub["volume"] < 60 {
		flags = append(flags, "low_volume")
	}
	if sub["trend"] < 60 {
		flags = append(flags, "weak_trend_alignment")
	}
	if sub["atr_band"] < 60 {
		flags = append(flags, "suboptimal_volatility")
	}
	if math.Abs(ind.VWAPDistance) > 2.0 {
		flags = append(flags, "far_from_vwap")
	}
	if sess.CurrentSession == session.SessionLunch {
		flags = append(flags, "lunch_block")
	}
	return flags
}

func tail(bars []market.Bar, n int) []market.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
