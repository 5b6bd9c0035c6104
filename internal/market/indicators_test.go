package market

import (
	"math"
	"testing"
	"time"
)

func barAt(ts time.Time, close float64, vol float64) Bar {
	return Bar{
		Timestamp: ts,
		Open:      close - 0.25,
		High:      close + 0.50,
		Low:       close - 0.50,
		Close:     close,
		Volume:    vol,
	}
}

func TestRollingStateWarmup(t *testing.T) {
	rs := NewRollingState(20)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 19; i++ {
		rs.Update(barAt(start.Add(time.Duration(i)*time.Minute), 5800, 1000), "2026-01-06")
	}
	if rs.Ready() {
		t.Fatal("ready with 19 bars")
	}
	rs.Update(barAt(start.Add(19*time.Minute), 5800, 1000), "2026-01-06")
	if !rs.Ready() {
		t.Fatal("not ready with 20 bars")
	}
}

func TestEMASeedAndConvergence(t *testing.T) {
	rs := NewRollingState(20)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	ind := rs.Update(barAt(start, 5800, 1000), "2026-01-06")
	if ind.EMA20 != 5800 {
		t.Fatalf("ema seed = %.2f, want first close", ind.EMA20)
	}

	// constant closes pin the EMA at the price
	for i := 1; i <= 40; i++ {
		ind = rs.Update(barAt(start.Add(time.Duration(i)*time.Minute), 5800, 1000), "2026-01-06")
	}
	if math.Abs(ind.EMA20-5800) > 1e-9 || math.Abs(ind.EMA20Prev-5800) > 1e-9 {
		t.Fatalf("ema drifted on constant input: %.6f prev %.6f", ind.EMA20, ind.EMA20Prev)
	}
}

func TestVWAPResetsOnSessionChange(t *testing.T) {
	rs := NewRollingState(20)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	rs.Update(barAt(start, 5800, 1000), "2026-01-06")
	ind := rs.Update(barAt(start.Add(time.Minute), 5810, 1000), "2026-01-06")
	if ind.VWAP <= 5800 || ind.VWAP >= 5810 {
		t.Fatalf("vwap = %.2f, want between the two typical prices", ind.VWAP)
	}

	// new session date drops the accumulated VWAP
	ind = rs.Update(barAt(start.Add(24*time.Hour), 5900, 1000), "2026-01-07")
	if math.Abs(ind.VWAP-5900) > 1.0 {
		t.Fatalf("vwap after session reset = %.2f, want near 5900", ind.VWAP)
	}
}

func TestOpeningRangeCapturedFromFirstBars(t *testing.T) {
	rs := NewRollingState(20)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	// first ten bars set the range; later extremes must not widen it
	var ind Indicators
	for i := 0; i < 10; i++ {
		ind = rs.Update(barAt(start.Add(time.Duration(i)*time.Minute), 5800+float64(i)*0.1, 1000), "2026-01-06")
	}
	orbHigh, orbLow := ind.ORBHigh, ind.ORBLow

	ind = rs.Update(barAt(start.Add(10*time.Minute), 5850, 1000), "2026-01-06")
	if ind.ORBHigh != orbHigh || ind.ORBLow != orbLow {
		t.Fatalf("opening range moved after bar 10: %.2f/%.2f -> %.2f/%.2f",
			orbHigh, orbLow, ind.ORBHigh, ind.ORBLow)
	}
}

func TestVolumeMultiple(t *testing.T) {
	rs := NewRollingState(20)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 19; i++ {
		rs.Update(barAt(start.Add(time.Duration(i)*time.Minute), 5800, 1000), "2026-01-06")
	}
	ind := rs.Update(barAt(start.Add(19*time.Minute), 5800, 2900), "2026-01-06")

	// MA20 = (19*1000 + 2900) / 20 = 1095
	want := 2900.0 / 1095.0
	if math.Abs(ind.VolumeMultiple-want) > 1e-9 {
		t.Fatalf("volume multiple = %.4f, want %.4f", ind.VolumeMultiple, want)
	}
}

func TestRecentReturnsCopiesOldestFirst(t *testing.T) {
	rs := NewRollingState(20)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rs.Update(barAt(start.Add(time.Duration(i)*time.Minute), 5800+float64(i), 1000), "2026-01-06")
	}

	recent := rs.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("recent = %d bars", len(recent))
	}
	if recent[0].Close != 5802 || recent[2].Close != 5804 {
		t.Fatalf("ordering wrong: %.0f..%.0f", recent[0].Close, recent[2].Close)
	}

	recent[0].Close = 0
	if rs.Recent(3)[0].Close != 5802 {
		t.Fatal("Recent returned internal storage, not a copy")
	}
}

func TestBarHelpers(t *testing.T) {
	up := Bar{Open: 5800.00, High: 5801.50, Low: 5799.00, Close: 5800.50}
	if !up.Bullish() || up.Range() != 2.5 || up.Body() != 0.5 {
		t.Fatalf("bullish bar helpers: %v %.2f %.2f", up.Bullish(), up.Range(), up.Body())
	}
	down := Bar{Open: 5800.50, High: 5801.00, Low: 5799.50, Close: 5800.00}
	if down.Bullish() || down.Body() != 0.5 {
		t.Fatalf("bearish bar helpers: %v %.2f", down.Bullish(), down.Body())
	}
}
