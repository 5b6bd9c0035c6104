package market

import "math"

// Indicators is a snapshot of the rolling technical state after the most
// recent bar. All values are in price points unless noted.
type Indicators struct {
	CurrentPrice   float64
	EMA20          float64
	EMA20Prev      float64
	VWAP           float64
	ATR            float64 // Wilder-smoothed 14-period ATR
	VolumeMA20     float64
	VolumeMultiple float64 // last bar volume / VolumeMA20
	EMADistance    float64 // close - EMA20
	VWAPDistance   float64 // close - VWAP
	ORBHigh        float64 // opening-range high (first N bars of the session)
	ORBLow         float64
	BarCount       int
}

// RollingState maintains incremental indicator computation over an ordered
// bar stream. It is single-writer: the decision cycle feeds it one bar at a
// time and reads the resulting snapshot synchronously.
type RollingState struct {
	bars []Bar // bounded recent-bar window

	ema20     float64
	ema20Prev float64
	atr       float64
	prevClose float64

	cumPV  float64 // cumulative price*volume for VWAP
	cumVol float64

	orbHigh  float64
	orbLow   float64
	orbBars  int
	sessDate string // VWAP/ORB reset key (YYYY-MM-DD in market tz)

	warmup   int
	maxBars  int
	orbCount int
}

const (
	atrPeriod  = 14
	emaPeriod  = 20
	volPeriod  = 20
	defaultORB = 10
)

// NewRollingState creates an indicator accumulator. warmup is the minimum
// number of bars before ready; the window retains enough history for every
// downstream consumer.
func NewRollingState(warmup int) *RollingState {
	if warmup < emaPeriod {
		warmup = emaPeriod
	}
	return &RollingState{
		warmup:   warmup,
		maxBars:  120,
		orbCount: defaultORB,
		orbLow:   math.MaxFloat64,
	}
}

// Update folds one bar into the rolling state and returns the snapshot.
// sessionDate keys the VWAP and opening-range reset; pass the bar's trading
// date in the market timezone.
func (rs *RollingState) Update(bar Bar, sessionDate string) Indicators {
	if sessionDate != rs.sessDate {
		rs.sessDate = sessionDate
		rs.cumPV = 0
		rs.cumVol = 0
		rs.orbHigh = 0
		rs.orbLow = math.MaxFloat64
		rs.orbBars = 0
	}

	rs.bars = append(rs.bars, bar)
	if len(rs.bars) > rs.maxBars {
		rs.bars = rs.bars[len(rs.bars)-rs.maxBars:]
	}

	// EMA20, seeded with the first close
	rs.ema20Prev = rs.ema20
	if len(rs.bars) == 1 {
		rs.ema20 = bar.Close
		rs.ema20Prev = bar.Close
	} else {
		k := 2.0 / float64(emaPeriod+1)
		rs.ema20 = bar.Close*k + rs.ema20*(1-k)
	}

	// Wilder ATR
	tr := bar.Range()
	if rs.prevClose > 0 {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-rs.prevClose), math.Abs(bar.Low-rs.prevClose)))
	}
	if rs.atr == 0 {
		rs.atr = tr
	} else {
		rs.atr = (rs.atr*(atrPeriod-1) + tr) / atrPeriod
	}
	rs.prevClose = bar.Close

	// Session VWAP
	typical := (bar.High + bar.Low + bar.Close) / 3
	rs.cumPV += typical * bar.Volume
	rs.cumVol += bar.Volume

	// Opening range over the session's first bars
	if rs.orbBars < rs.orbCount {
		if bar.High > rs.orbHigh {
			rs.orbHigh = bar.High
		}
		if bar.Low < rs.orbLow {
			rs.orbLow = bar.Low
		}
		rs.orbBars++
	}

	return rs.snapshot(bar)
}

func (rs *RollingState) snapshot(bar Bar) Indicators {
	ind := Indicators{
		CurrentPrice: bar.Close,
		EMA20:        rs.ema20,
		EMA20Prev:    rs.ema20Prev,
		ATR:          rs.atr,
		BarCount:     len(rs.bars),
		ORBHigh:      rs.orbHigh,
		ORBLow:       rs.orbLow,
	}
	if rs.cumVol > 0 {
		ind.VWAP = rs.cumPV / rs.cumVol
	}
	ind.EMADistance = bar.Close - ind.EMA20
	ind.VWAPDistance = bar.Close - ind.VWAP

	n := volPeriod
	if len(rs.bars) < n {
		n = len(rs.bars)
	}
	var volSum float64
	for _, b := range rs.bars[len(rs.bars)-n:] {
		volSum += b.Volume
	}
	if n > 0 {
		ind.VolumeMA20 = volSum / float64(n)
	}
	if ind.VolumeMA20 > 0 {
		ind.VolumeMultiple = bar.Volume / ind.VolumeMA20
	}
	return ind
}

// Ready reports whether enough bars have accumulated to emit candidates.
func (rs *RollingState) Ready() bool {
	return len(rs.bars) >= rs.warmup
}

// Recent returns up to n most recent bars, oldest first.
func (rs *RollingState) Recent(n int) []Bar {
	if n > len(rs.bars) {
		n = len(rs.bars)
	}
	out := make([]Bar, n)
	copy(out, rs.bars[len(rs.bars)-n:])
	return out
}
