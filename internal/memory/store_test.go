package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/prefilter"
)

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		MinSamplesForGold:    20,
		GoldWinRate:          80,
		QuarantineWinRate:    50,
		QuarantineMinSamples: 15,
		CooldownHours:        12,
		EWMAAlpha:            0.2,
		HardNegativeCap:      200,
	}
}

func memCandidate(dir prefilter.Direction) *prefilter.Candidate {
	return &prefilter.Candidate{
		ID:        "cand-1",
		Setup:     prefilter.SetupEMAPullback,
		Direction: dir,
		Session:   "rth_a",
		Score:     91,
		Indicators: market.Indicators{
			CurrentPrice:   5800.40,
			EMA20:          5800.00,
			EMA20Prev:      5799.90,
			ATR:            1.00,
			VolumeMultiple: 2.60,
			VWAPDistance:   0.90,
		},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(ExtractFeatures(memCandidate(prefilter.DirectionLong)))
	b := Fingerprint(ExtractFeatures(memCandidate(prefilter.DirectionLong)))
	if a != b {
		t.Fatalf("same features hashed differently: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "pattern_") || len(a) != len("pattern_")+12 {
		t.Fatalf("unexpected fingerprint format %q", a)
	}

	short := Fingerprint(ExtractFeatures(memCandidate(prefilter.DirectionShort)))
	if short == a {
		t.Fatal("direction change did not change the fingerprint")
	}
}

func TestExtractFeaturesBins(t *testing.T) {
	f := ExtractFeatures(memCandidate(prefilter.DirectionLong))
	if f.ATRBin != "normal" {
		t.Errorf("atr bin = %s, want normal", f.ATRBin)
	}
	if f.VolumeBin != "extreme" {
		t.Errorf("volume bin = %s, want extreme", f.VolumeBin)
	}
	if f.EMAAlignment != "bull" {
		t.Errorf("ema alignment = %s, want bull", f.EMAAlignment)
	}
	if f.VWAPBin != "medium" {
		t.Errorf("vwap bin = %s, want medium", f.VWAPBin)
	}
}

func TestUnknownFingerprintIsProbation(t *testing.T) {
	s := NewStore(testMemoryConfig())
	if got := s.Status("pattern_ffffffffffff"); got != StatusProbation {
		t.Fatalf("status = %s, want probation", got)
	}
}

// outcome spacing of a day keeps the cooldown window from suppressing
// later transitions.
func feed(s *Store, cand *prefilter.Candidate, start time.Time, results []bool) Record {
	var rec Record
	for i, win := range results {
		pts := 1.0
		if !win {
			pts = -0.75
		}
		rec = s.Record(cand, Outcome{
			TradeID:   fmt.Sprintf("t%d", i),
			NetPoints: pts,
			Win:       win,
			ClosedAt:  start.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	return rec
}

func TestGoldPromotion(t *testing.T) {
	s := NewStore(testMemoryConfig())
	cand := memCandidate(prefilter.DirectionLong)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	// slow start, then the pattern proves out
	results := make([]bool, 0, 20)
	results = append(results, false, false, false)
	for i := 0; i < 17; i++ {
		results = append(results, true)
	}
	rec := feed(s, cand, start, results)

	if rec.Status != StatusGold {
		t.Fatalf("status = %s after 20 samples at 100%% trailing, want gold", rec.Status)
	}
	if rec.Samples != 20 || rec.Wins != 17 {
		t.Fatalf("samples=%d wins=%d", rec.Samples, rec.Wins)
	}
	if rec.WinRate != 85 {
		t.Fatalf("lifetime win rate = %.1f, want 85", rec.WinRate)
	}
	if rec.TrailingWR != 100 {
		t.Fatalf("trailing win rate = %.1f, want 100", rec.TrailingWR)
	}
}

func TestGoldNotReachedBeforeMinSamples(t *testing.T) {
	s := NewStore(testMemoryConfig())
	cand := memCandidate(prefilter.DirectionLong)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	rec := feed(s, cand, start, []bool{
		true, true, true, true, true, true, true, true, true, true,
		true, true, true, true, true, true, true, true, true, // 19 wins
	})
	if rec.Status != StatusProbation {
		t.Fatalf("status = %s at 19 samples, want probation", rec.Status)
	}
}

func TestQuarantineIsTerminal(t *testing.T) {
	s := NewStore(testMemoryConfig())
	cand := memCandidate(prefilter.DirectionLong)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	// prove out to gold, then decay hard
	results := make([]bool, 0, 40)
	results = append(results, false, false, false)
	for i := 0; i < 17; i++ {
		results = append(results, true)
	}
	for i := 0; i < 5; i++ {
		results = append(results, true)
	}
	for i := 0; i < 10; i++ {
		results = append(results, false)
	}
	rec := feed(s, cand, start, results)

	if rec.Status != StatusQuarantined {
		t.Fatalf("status = %s after trailing collapse, want quarantined", rec.Status)
	}

	// quarantine never re-promotes, whatever comes after
	wins := make([]bool, 20)
	for i := range wins {
		wins[i] = true
	}
	rec = feed(s, cand, start.Add(100*24*time.Hour), wins)
	if rec.Status != StatusQuarantined {
		t.Fatalf("status = %s after post-quarantine wins, want quarantined", rec.Status)
	}
}

func TestCooldownHoldsStatusAfterTransition(t *testing.T) {
	s := NewStore(testMemoryConfig())
	cand := memCandidate(prefilter.DirectionLong)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	// promote to gold with day-spaced outcomes
	results := make([]bool, 20)
	for i := range results {
		results[i] = true
	}
	rec := feed(s, cand, start, results)
	if rec.Status != StatusGold {
		t.Fatalf("setup failed, status = %s", rec.Status)
	}
	goldAt := rec.StatusSince

	// a losing streak inside the cooldown window cannot demote
	for i := 0; i < 15; i++ {
		rec = s.Record(cand, Outcome{
			TradeID:   fmt.Sprintf("cd%d", i),
			NetPoints: -0.75,
			Win:       false,
			ClosedAt:  goldAt.Add(time.Duration(i+1) * time.Minute),
		})
	}
	if rec.Status != StatusGold {
		t.Fatalf("status = %s during cooldown, want gold held", rec.Status)
	}

	// past the cooldown the same trailing record quarantines
	rec = s.Record(cand, Outcome{
		TradeID:   "after-cooldown",
		NetPoints: -0.75,
		Win:       false,
		ClosedAt:  goldAt.Add(13 * time.Hour),
	})
	if rec.Status != StatusQuarantined {
		t.Fatalf("status = %s after cooldown expiry, want quarantined", rec.Status)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := NewStore(testMemoryConfig())
	cand := memCandidate(prefilter.DirectionLong)
	fp := Fingerprint(ExtractFeatures(cand))

	s.Restore([]Record{{
		Fingerprint: fp,
		Status:      StatusGold,
		Samples:     25,
		Wins:        21,
		WinRate:     84,
		TrailingWR:  86.7,
	}})

	if got := s.Status(fp); got != StatusGold {
		t.Fatalf("restored status = %s, want gold", got)
	}
	rec, ok := s.Get(fp)
	if !ok || rec.Samples != 25 {
		t.Fatalf("restored record missing or wrong: ok=%v samples=%d", ok, rec.Samples)
	}

	// restored records keep accumulating
	rec = s.Record(cand, Outcome{TradeID: "t", NetPoints: 1.0, Win: true, ClosedAt: time.Now()})
	if rec.Samples != 26 {
		t.Fatalf("samples after restore+record = %d, want 26", rec.Samples)
	}
}

func TestSummariesOrderedBySamples(t *testing.T) {
	s := NewStore(testMemoryConfig())
	long := memCandidate(prefilter.DirectionLong)
	short := memCandidate(prefilter.DirectionShort)
	start := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	feed(s, long, start, []bool{true, true, true})
	feed(s, short, start, []bool{true})

	sums := s.Summaries()
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	if sums[0].Samples < sums[1].Samples {
		t.Fatal("summaries not ordered by sample count")
	}
}

func TestHardNegativeStoreBounded(t *testing.T) {
	h := NewHardNegativeStore(3)
	for i := 0; i < 5; i++ {
		h.Add(HardNegative{TradeID: fmt.Sprintf("t%d", i), Fingerprint: "pattern_aaaaaaaaaaaa"})
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d, want cap 3", h.Len())
	}

	recent := h.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries", len(recent))
	}
	if recent[0].TradeID != "t4" || recent[2].TradeID != "t2" {
		t.Fatalf("eviction order wrong: %s..%s", recent[0].TradeID, recent[2].TradeID)
	}
}

func TestHardNegativeForFingerprint(t *testing.T) {
	h := NewHardNegativeStore(10)
	h.Add(HardNegative{TradeID: "a", Fingerprint: "pattern_111111111111"})
	h.Add(HardNegative{TradeID: "b", Fingerprint: "pattern_222222222222"})
	h.Add(HardNegative{TradeID: "c", Fingerprint: "pattern_111111111111"})

	got := h.ForFingerprint("pattern_111111111111")
	if len(got) != 2 || got[0].TradeID != "c" || got[1].TradeID != "a" {
		t.Fatalf("ForFingerprint = %+v", got)
	}
}
