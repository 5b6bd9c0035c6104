package market

import (
	"context"
	"time"
)

// Bar is a single OHLCV bar. Bars are immutable once produced and are
// processed in strict timestamp order.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Range returns the bar's high-low spread.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Provider supplies ordered bars for a symbol at a fixed interval.
// Implementations live outside the core; gaps are not fatal, a failed
// Latest simply means no candidate this tick.
type Provider interface {
	Fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]Bar, error)
	Latest(ctx context.Context, symbol string) (Bar, error)
}
