package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeBarFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write bar file: %v", err)
	}
	return path
}

func TestCSVProviderLoadsAndSorts(t *testing.T) {
	// header, out-of-order rows, a malformed row, and a unix timestamp
	path := writeBarFile(t, `timestamp,open,high,low,close,volume
2026-01-06T15:02:00Z,5800.10,5800.60,5799.60,5800.20,1100
2026-01-06T15:00:00Z,5800.00,5800.50,5799.50,5800.10,1000
not-a-timestamp,x,x,x,x,x
1767711660,5800.05,5800.55,5799.55,5800.15,1050
`)

	p, err := NewCSVProvider(path)
	if err != nil {
		t.Fatalf("NewCSVProvider: %v", err)
	}
	bars := p.All()
	if len(bars) != 3 {
		t.Fatalf("loaded %d bars, want 3", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Fatalf("bars not sorted: %s then %s", bars[i-1].Timestamp, bars[i].Timestamp)
		}
	}
	if bars[0].Close != 5800.10 {
		t.Fatalf("first bar close = %.2f", bars[0].Close)
	}
}

func TestCSVProviderLatestExhausts(t *testing.T) {
	path := writeBarFile(t, "2026-01-06T15:00:00Z,5800.00,5800.50,5799.50,5800.10,1000\n")
	p, err := NewCSVProvider(path)
	if err != nil {
		t.Fatalf("NewCSVProvider: %v", err)
	}

	ctx := context.Background()
	if _, err := p.Latest(ctx, "MES=F"); err != nil {
		t.Fatalf("first Latest: %v", err)
	}
	if _, err := p.Latest(ctx, "MES=F"); err == nil {
		t.Fatal("Latest did not report exhaustion")
	}
}

func TestCSVProviderFetchRange(t *testing.T) {
	path := writeBarFile(t, `2026-01-06T15:00:00Z,5800,5801,5799,5800,1000
2026-01-06T15:01:00Z,5800,5801,5799,5800,1000
2026-01-06T15:02:00Z,5800,5801,5799,5800,1000
`)
	p, err := NewCSVProvider(path)
	if err != nil {
		t.Fatalf("NewCSVProvider: %v", err)
	}

	start := time.Date(2026, 1, 6, 15, 1, 0, 0, time.UTC)
	end := time.Date(2026, 1, 6, 15, 2, 0, 0, time.UTC)
	bars, err := p.Fetch(context.Background(), "MES=F", "1m", start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("fetched %d bars, want 2", len(bars))
	}
}

func TestCSVProviderRejectsEmptyFile(t *testing.T) {
	path := writeBarFile(t, "timestamp,open,high,low,close,volume\n")
	if _, err := NewCSVProvider(path); err == nil {
		t.Fatal("accepted a file with no parsable bars")
	}
}
