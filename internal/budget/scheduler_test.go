package budget

import (
	"fmt"
	"testing"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/prefilter"
)

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		DailyCallCap:           5,
		FlushIntervalSecs:      30,
		FlushMaxCandidates:     5,
		PerFlushCap:            5,
		ResetTimezone:          "UTC",
		EmergencyRecentPasses:  3,
		EmergencySessionLosses: 2,
	}
}

func cand(id string, score float64, ts time.Time) *prefilter.Candidate {
	return &prefilter.Candidate{
		ID:        id,
		Score:     score,
		CreatedAt: ts,
		ExpiresAt: ts.Add(90 * time.Second),
	}
}

func TestFlushRanksByScoreAndCapsSelection(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.PerFlushCap = 3
	s := NewScheduler(cfg, 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	for i, score := range []float64{80, 95, 75, 90, 85} {
		if ok, reason := s.Submit(cand(fmt.Sprintf("c%d", i), score, now), now); !ok {
			t.Fatalf("submit %d rejected: %s", i, reason)
		}
	}

	selected := s.Flush(now.Add(time.Second), 75)
	if len(selected) != 3 {
		t.Fatalf("selected %d, want per-flush cap 3", len(selected))
	}
	if selected[0].Score != 95 || selected[1].Score != 90 || selected[2].Score != 85 {
		t.Fatalf("ranking wrong: %.0f %.0f %.0f", selected[0].Score, selected[1].Score, selected[2].Score)
	}
}

func TestDailyCapNeverExceeded(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	consumed := 0
	for i := 0; i < 20; i++ {
		ok, _ := s.TryConsume(now, fmt.Sprintf("c%d", i))
		if ok {
			consumed++
		}
	}
	if consumed != 5 {
		t.Fatalf("consumed %d units, cap is 5", consumed)
	}
	if snap := s.Status(); snap.UsedToday != 5 || !snap.Paused || snap.PausedReason != ReasonBudgetExhausted {
		t.Fatalf("status after exhaustion: %+v", snap)
	}
}

// Five escalations drain the budget; a later stronger candidate degrades
// to skip with the budget_exhausted reason instead of spending a sixth
// unit.
func TestExhaustionDegradesToSkip(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	for i, score := range []float64{95, 90, 85, 80, 75} {
		c := cand(fmt.Sprintf("c%d", i), score, now)
		if ok, reason := s.Submit(c, now); !ok {
			t.Fatalf("submit rejected: %s", reason)
		}
	}
	selected := s.Flush(now.Add(time.Second), 75)
	if len(selected) != 5 {
		t.Fatalf("selected %d, want 5", len(selected))
	}
	for _, c := range selected {
		if ok, reason := s.TryConsume(now, c.ID); !ok {
			t.Fatalf("consume %s rejected: %s", c.ID, reason)
		}
	}

	late := cand("late", 99, now.Add(time.Minute))
	ok, reason := s.Submit(late, now.Add(time.Minute))
	if ok {
		t.Fatal("submission accepted after budget exhaustion")
	}
	if reason != ReasonBudgetExhausted {
		t.Fatalf("reason = %q, want %q", reason, ReasonBudgetExhausted)
	}
}

func TestDailyResetOncePerDay(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	day1 := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.TryConsume(day1, fmt.Sprintf("c%d", i))
	}
	if paused, _ := s.Paused(); !paused {
		t.Fatal("not paused at cap")
	}

	// later same day: still paused, no mid-day reset
	if ok, _ := s.TryConsume(day1.Add(5*time.Hour), "same-day"); ok {
		t.Fatal("mid-day reset granted budget")
	}

	// next calendar day: counter cleared, pause lifted
	day2 := day1.Add(24 * time.Hour)
	if ok, reason := s.TryConsume(day2, "next-day"); !ok {
		t.Fatalf("consume after daily reset rejected: %s", reason)
	}
	if snap := s.Status(); snap.UsedToday != 1 {
		t.Fatalf("used after reset = %d, want 1", snap.UsedToday)
	}
}

func TestExpiredCandidatesDroppedAtFlush(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	s.Submit(cand("fresh", 90, now), now)
	s.Submit(cand("stale", 95, now.Add(-5*time.Minute)), now.Add(-5*time.Minute))

	selected := s.Flush(now.Add(time.Second), 75)
	if len(selected) != 1 || selected[0].ID != "fresh" {
		t.Fatalf("flush returned %d candidates, want only the fresh one", len(selected))
	}
}

func TestRiskyCandidateRejected(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	risky := cand("risky", 92, now)
	risky.RiskFactors = []string{"low_volume", "weak_trend_alignment"}
	if ok, reason := s.Submit(risky, now); ok || reason != ReasonTooManyRisks {
		t.Fatalf("ok=%v reason=%q, want rejection with %q", ok, reason, ReasonTooManyRisks)
	}

	// severe flags weigh double
	lunch := cand("lunch", 92, now)
	lunch.RiskFactors = []string{"lunch_block"}
	if ok, reason := s.Submit(lunch, now); ok || reason != ReasonTooManyRisks {
		t.Fatalf("ok=%v reason=%q, want severe flag rejection", ok, reason)
	}
}

func TestEmergencyPause(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	// three recent escalations and two session losses trip the heuristic
	for i := 0; i < 3; i++ {
		if ok, _ := s.TryConsume(now, fmt.Sprintf("c%d", i)); !ok {
			t.Fatalf("consume %d rejected", i)
		}
	}
	s.RecordOutcome(-0.75)
	s.RecordOutcome(-0.81)

	ok, reason := s.TryConsume(now, "c4")
	if ok || reason != ReasonEmergencyPause {
		t.Fatalf("ok=%v reason=%q, want emergency pause", ok, reason)
	}
	if paused, pr := s.Paused(); !paused || pr != ReasonEmergencyPause {
		t.Fatalf("paused=%v reason=%q", paused, pr)
	}
}

func TestArrivalAfterFlushJoinsNextWindow(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

	s.Submit(cand("first", 90, now), now)
	_ = s.Flush(now.Add(time.Second), 75)

	// arrival after the flush lands in the fresh window
	s.Submit(cand("second", 85, now.Add(2*time.Second)), now.Add(2*time.Second))
	if snap := s.Status(); snap.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1", snap.QueueDepth)
	}

	selected := s.Flush(now.Add(40*time.Second), 75)
	if len(selected) != 1 || selected[0].ID != "second" {
		t.Fatalf("second flush = %v", selected)
	}
}

func TestRestoreSameDayOnly(t *testing.T) {
	s := NewScheduler(testBudgetConfig(), 1)
	today := s.Status().LastReset

	s.Restore(4, true, ReasonBudgetExhausted, today)
	if snap := s.Status(); snap.UsedToday != 4 || !snap.Paused {
		t.Fatalf("same-day restore ignored: %+v", snap)
	}

	s2 := NewScheduler(testBudgetConfig(), 1)
	s2.Restore(4, true, ReasonBudgetExhausted, "1999-01-01")
	if snap := s2.Status(); snap.UsedToday != 0 || snap.Paused {
		t.Fatalf("stale restore applied: %+v", snap)
	}
}
