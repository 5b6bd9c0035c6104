// Package calibrate adapts the per-setup confidence floor from trailing
// trade results. Cold periods raise the floor to demand stronger
// conviction, hot periods lower it to admit more trades, always inside a
// fixed band.
package calibrate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/prefilter"
)

// Adjustment records one recalibration event for audit.
type Adjustment struct {
	Setup     prefilter.SetupType `json:"setup"`
	OldFloor  int                 `json:"old_floor"`
	NewFloor  int                 `json:"new_floor"`
	WinRate   float64             `json:"win_rate"`
	Window    int                 `json:"window"`
	Timestamp time.Time           `json:"timestamp"`
}

type setupState struct {
	floor       int
	results     []bool // trailing window, oldest first
	sinceAdjust int
}

// Calibrator maintains one adaptive floor per setup type. Floors move in
// fixed steps, are clamped to [FloorMin, FloorMax], and reset to the base
// at the start of each trading day.
type Calibrator struct {
	mu     sync.RWMutex
	cfg    config.CalibratorConfig
	log    zerolog.Logger
	setups map[prefilter.SetupType]*setupState
	hist   []Adjustment
}

// NewCalibrator creates a calibrator with every setup at the base floor.
func NewCalibrator(cfg config.CalibratorConfig) *Calibrator {
	return &Calibrator{
		cfg:    cfg,
		log:    logging.Component("calibrate"),
		setups: make(map[prefilter.SetupType]*setupState),
	}
}

func (c *Calibrator) stateLocked(setup prefilter.SetupType) *setupState {
	st, ok := c.setups[setup]
	if !ok {
		st = &setupState{floor: c.cfg.BaseConfidenceMin}
		c.setups[setup] = st
	}
	return st
}

// Floor returns the current confidence floor for a setup.
func (c *Calibrator) Floor(setup prefilter.SetupType) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.setups[setup]; ok {
		return st.floor
	}
	return c.cfg.BaseConfidenceMin
}

// Admit reports whether a decision's confidence clears the setup's floor.
func (c *Calibrator) Admit(setup prefilter.SetupType, confidence int) bool {
	return confidence >= c.Floor(setup)
}

// RecordOutcome feeds one closed trade into the setup's trailing window
// and recalibrates when the cadence counter fires. Returns the adjustment
// when a floor moved, nil otherwise.
func (c *Calibrator) RecordOutcome(setup prefilter.SetupType, win bool, ts time.Time) *Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(setup)
	st.results = append(st.results, win)
	if len(st.results) > c.cfg.WindowSize {
		st.results = st.results[len(st.results)-c.cfg.WindowSize:]
	}
	st.sinceAdjust++

	if st.sinceAdjust < c.cfg.RecalibrateEvery || len(st.results) < c.cfg.RecalibrateEvery {
		return nil
	}
	st.sinceAdjust = 0

	wins := 0
	for _, w := range st.results {
		if w {
			wins++
		}
	}
	rate := 100 * float64(wins) / float64(len(st.results))

	old := st.floor
	switch {
	case rate < c.cfg.LowWinRate:
		st.floor += c.cfg.AdjustmentStep
	case rate >= c.cfg.HighWinRate:
		st.floor -= c.cfg.AdjustmentStep
	}
	st.floor = clamp(st.floor, c.cfg.FloorMin, c.cfg.FloorMax)
	if st.floor == old {
		return nil
	}

	adj := Adjustment{
		Setup:     setup,
		OldFloor:  old,
		NewFloor:  st.floor,
		WinRate:   rate,
		Window:    len(st.results),
		Timestamp: ts,
	}
	c.hist = append(c.hist, adj)
	c.log.Info().
		Str("setup", string(setup)).
		Int("old_floor", old).
		Int("new_floor", st.floor).
		Float64("win_rate", rate).
		Msg("confidence floor adjusted")
	return &adj
}

// ResetDaily returns every setup to the base floor and clears trailing
// windows. Called once per trading day.
func (c *Calibrator) ResetDaily() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.setups {
		st.floor = c.cfg.BaseConfidenceMin
		st.results = st.results[:0]
		st.sinceAdjust = 0
	}
}

// Floors returns a copy of every setup's current floor.
func (c *Calibrator) Floors() map[prefilter.SetupType]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[prefilter.SetupType]int, len(c.setups))
	for setup, st := range c.setups {
		out[setup] = st.floor
	}
	return out
}

// History returns recorded adjustments, oldest first.
func (c *Calibrator) History() []Adjustment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Adjustment, len(c.hist))
	copy(out, c.hist)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
