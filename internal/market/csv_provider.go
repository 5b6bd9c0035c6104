package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// CSVProvider serves bars from a recorded CSV file for offline replay.
// Expected columns: timestamp (RFC3339 or unix seconds), open, high, low,
// close, volume. Header rows are skipped.
type CSVProvider struct {
	bars []Bar
	pos  int
}

// NewCSVProvider loads the file eagerly and validates ordering.
func NewCSVProvider(path string) (*CSVProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse bar file: %w", err)
	}

	bars := make([]Bar, 0, len(records))
	for _, rec := range records {
		if len(rec) < 6 {
			continue
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			continue // header or malformed row
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		bars = append(bars, Bar{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars loaded from %s", path)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	return &CSVProvider{bars: bars}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Fetch returns the loaded bars inside [start, end].
func (p *CSVProvider) Fetch(_ context.Context, _, _ string, start, end time.Time) ([]Bar, error) {
	var out []Bar
	for _, b := range p.bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Latest advances the replay cursor by one bar. Returns an error once the
// recording is exhausted.
func (p *CSVProvider) Latest(_ context.Context, _ string) (Bar, error) {
	if p.pos >= len(p.bars) {
		return Bar{}, fmt.Errorf("replay exhausted after %d bars", len(p.bars))
	}
	b := p.bars[p.pos]
	p.pos++
	return b, nil
}

// All returns every loaded bar, oldest first.
func (p *CSVProvider) All() []Bar {
	out := make([]Bar, len(p.bars))
	copy(out, p.bars)
	return out
}
