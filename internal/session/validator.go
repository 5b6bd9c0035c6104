// Package session enforces trading-window and daily risk restrictions.
// Every check is a pure predicate returning an allow flag plus a reason
// code; violations are expected control flow, never errors.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gocityvibes/emini/config"
)

// Session labels.
const (
	SessionRTHA    = "rth_a"
	SessionRTHB    = "rth_b"
	SessionLunch   = "lunch_block"
	SessionOutside = "outside_hours"
)

type window struct {
	startMin int // minutes after midnight
	endMin   int
}

func (w window) contains(minute int) bool {
	return minute >= w.startMin && minute <= w.endMin
}

// Validator resolves which trading session a timestamp falls in, in the
// configured exchange timezone.
type Validator struct {
	loc   *time.Location
	rthA  window
	rthB  window
	lunch window
}

// NewValidator parses "HH:MM-HH:MM" windows from config.
func NewValidator(cfg config.SessionConfig, timezone string) (*Validator, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	v := &Validator{loc: loc}
	if v.rthA, err = parseWindow(cfg.RTHA); err != nil {
		return nil, fmt.Errorf("invalid rth_a window: %w", err)
	}
	if v.rthB, err = parseWindow(cfg.RTHB); err != nil {
		return nil, fmt.Errorf("invalid rth_b window: %w", err)
	}
	if v.lunch, err = parseWindow(cfg.BlockLunch); err != nil {
		return nil, fmt.Errorf("invalid block_lunch window: %w", err)
	}
	return v, nil
}

func parseWindow(raw string) (window, error) {
	parts := strings.Split(raw, "-")
	if len(parts) != 2 {
		return window{}, fmt.Errorf("expected HH:MM-HH:MM, got %q", raw)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return window{}, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return window{}, err
	}
	if end < start {
		return window{}, fmt.Errorf("window end before start in %q", raw)
	}
	return window{startMin: start, endMin: end}, nil
}

func parseClock(s string) (int, error) {
	hm := strings.Split(strings.TrimSpace(s), ":")
	if len(hm) != 2 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// Info describes the session state at a point in time.
type Info struct {
	TradableNow    bool   `json:"tradable_now"`
	CurrentSession string `json:"current_session"`
	LocalTime      string `json:"local_time"`
	LocalDate      string `json:"local_date"`
}

// Resolve classifies the timestamp. Weekends are never tradable.
func (v *Validator) Resolve(ts time.Time) Info {
	local := ts.In(v.loc)
	minute := local.Hour()*60 + local.Minute()

	info := Info{
		LocalTime: local.Format("15:04:05"),
		LocalDate: local.Format("2006-01-02"),
	}

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		info.CurrentSession = SessionOutside
		return info
	}

	inLunch := v.lunch.contains(minute)
	switch {
	case inLunch:
		info.CurrentSession = SessionLunch
	case v.rthA.contains(minute):
		info.CurrentSession = SessionRTHA
		info.TradableNow = true
	case v.rthB.contains(minute):
		info.CurrentSession = SessionRTHB
		info.TradableNow = true
	default:
		info.CurrentSession = SessionOutside
	}
	return info
}

// TradingDate returns the calendar date of ts in the exchange timezone,
// used to key daily resets.
func (v *Validator) TradingDate(ts time.Time) string {
	return ts.In(v.loc).Format("2006-01-02")
}
