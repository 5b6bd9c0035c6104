package session

import (
	"testing"
	"time"

	"github.com/gocityvibes/emini/config"
)

const testTimezone = "America/Chicago"

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		RTHA:       "08:30-10:30",
		RTHB:       "13:00-14:30",
		BlockLunch: "11:30-12:30",
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(testSessionConfig(), testTimezone)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

// chicago builds a local timestamp on Tuesday 2026-01-06 unless a
// different day is given.
func chicago(t *testing.T, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(testTimezone)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return time.Date(2026, 1, day, hour, minute, 0, 0, loc)
}

func TestResolveSessions(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name     string
		ts       time.Time
		session  string
		tradable bool
	}{
		{"premarket", chicago(t, 6, 7, 0), SessionOutside, false},
		{"rth_a open", chicago(t, 6, 8, 30), SessionRTHA, true},
		{"rth_a mid", chicago(t, 6, 9, 15), SessionRTHA, true},
		{"rth_a close inclusive", chicago(t, 6, 10, 30), SessionRTHA, true},
		{"between windows", chicago(t, 6, 10, 31), SessionOutside, false},
		{"lunch", chicago(t, 6, 12, 0), SessionLunch, false},
		{"rth_b", chicago(t, 6, 13, 30), SessionRTHB, true},
		{"after close", chicago(t, 6, 15, 0), SessionOutside, false},
		{"saturday", chicago(t, 10, 9, 0), SessionOutside, false},
		{"sunday", chicago(t, 11, 13, 30), SessionOutside, false},
	}

	for _, tc := range cases {
		info := v.Resolve(tc.ts)
		if info.CurrentSession != tc.session {
			t.Errorf("%s: session = %s, want %s", tc.name, info.CurrentSession, tc.session)
		}
		if info.TradableNow != tc.tradable {
			t.Errorf("%s: tradable = %v, want %v", tc.name, info.TradableNow, tc.tradable)
		}
	}
}

func TestResolveConvertsToExchangeTimezone(t *testing.T) {
	v := newTestValidator(t)

	// 15:00 UTC on a Tuesday is 09:00 in Chicago, inside the morning window
	ts := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)
	info := v.Resolve(ts)
	if info.CurrentSession != SessionRTHA || !info.TradableNow {
		t.Fatalf("resolved %+v, want tradable rth_a", info)
	}
}

func TestTradingDateUsesExchangeTimezone(t *testing.T) {
	v := newTestValidator(t)

	// 02:00 UTC Jan 7 is still Jan 6 evening in Chicago
	ts := time.Date(2026, 1, 7, 2, 0, 0, 0, time.UTC)
	if got := v.TradingDate(ts); got != "2026-01-06" {
		t.Fatalf("TradingDate = %s, want 2026-01-06", got)
	}
}

func TestNewValidatorRejectsBadWindows(t *testing.T) {
	cfg := testSessionConfig()
	cfg.RTHA = "8am-10am"
	if _, err := NewValidator(cfg, testTimezone); err == nil {
		t.Fatal("accepted malformed window string")
	}

	cfg = testSessionConfig()
	cfg.RTHB = "14:30-13:00"
	if _, err := NewValidator(cfg, testTimezone); err == nil {
		t.Fatal("accepted window ending before it starts")
	}

	if _, err := NewValidator(testSessionConfig(), "Mars/Olympus"); err == nil {
		t.Fatal("accepted unknown timezone")
	}
}
