// Package budget enforces the hard daily cap on advisory calls and batches
// candidates into ranked flush windows. It is the sole gate through which
// budget units are spent.
package budget

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/prefilter"
)

// Skip / pause reason codes.
const (
	ReasonOK              = "ok"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonPaused          = "paused"
	ReasonEmergencyPause  = "emergency_pause"
	ReasonTooManyRisks    = "too_many_risks"
	ReasonExpired         = "candidate_expired"
	ReasonNotSelected     = "not_selected_in_flush"
)

// Snapshot is the externally visible budget state.
type Snapshot struct {
	UsedToday    int    `json:"used_today"`
	DailyCap     int    `json:"daily_cap"`
	Remaining    int    `json:"remaining"`
	Paused       bool   `json:"paused"`
	PausedReason string `json:"paused_reason,omitempty"`
	LastReset    string `json:"last_reset_date"`
	QueueDepth   int    `json:"queue_depth"`
}

// Scheduler batches candidates and meters advisory spend. All state is
// guarded by one mutex so increment-and-compare on the daily counter is
// atomic relative to concurrent flush cycles.
type Scheduler struct {
	mu  sync.Mutex
	cfg config.BudgetConfig
	loc *time.Location
	log zerolog.Logger

	usedToday    int
	paused       bool
	pausedReason string
	lastReset    string

	queue     []*prefilter.Candidate
	next      []*prefilter.Candidate // arrivals during an active flush
	flushing  bool
	lastFlush time.Time

	maxRiskFlags  int
	recentPasses  []string
	sessionLosses int
}

// NewScheduler creates a scheduler. The reset timezone must already be
// validated by config.
func NewScheduler(cfg config.BudgetConfig, maxRiskFlags int) *Scheduler {
	loc, err := time.LoadLocation(cfg.ResetTimezone)
	if err != nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cfg:          cfg,
		loc:          loc,
		log:          logging.Component("budget"),
		maxRiskFlags: maxRiskFlags,
	}
	s.lastReset = s.dateKey(time.Now())
	return s
}

func (s *Scheduler) dateKey(ts time.Time) string {
	return ts.In(s.loc).Format("2006-01-02")
}

// resetIfNewDayLocked clears the daily counter exactly once per calendar
// day in the configured timezone, never mid-day.
func (s *Scheduler) resetIfNewDayLocked(now time.Time) {
	key := s.dateKey(now)
	if key == s.lastReset {
		return
	}
	s.lastReset = key
	s.usedToday = 0
	s.paused = false
	s.pausedReason = ""
	s.recentPasses = s.recentPasses[:0]
	s.sessionLosses = 0
	s.log.Info().Str("date", key).Msg("daily budget reset")
}

// Submit queues a candidate for the next flush. Returns false with a
// reason when the candidate is rejected outright (paused budget or too
// many risk flags). A candidate arriving while a flush is running is
// queued for the following flush, never raced into the current one.
func (s *Scheduler) Submit(cand *prefilter.Candidate, now time.Time) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetIfNewDayLocked(now)

	if s.paused {
		return false, s.pausedReason
	}
	if riskWeight(cand.RiskFactors) > s.maxRiskFlags {
		return false, ReasonTooManyRisks
	}
	if cand.Expired(now) {
		return false, ReasonExpired
	}

	if s.flushing {
		s.next = append(s.next, cand)
	} else {
		s.queue = append(s.queue, cand)
	}
	return true, ReasonOK
}

// riskWeight counts risk flags, weighting severe ones double.
func riskWeight(flags []string) int {
	severe := map[string]bool{"lunch_block": true, "outside_hours": true}
	w := 0
	for _, f := range flags {
		if severe[f] {
			w += 2
		} else {
			w++
		}
	}
	return w
}

// DueForFlush reports whether the batching window should close: either the
// wall-clock interval elapsed or enough candidates accumulated.
func (s *Scheduler) DueForFlush(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return false
	}
	if len(s.queue) >= s.cfg.FlushMaxCandidates {
		return true
	}
	return now.Sub(s.lastFlush) >= time.Duration(s.cfg.FlushIntervalSecs)*time.Second
}

// Flush closes the current batching window: expired candidates are
// dropped, the remainder ranked, and the top-K selected for escalation
// where K = min(remaining budget, per-flush cap). Candidates below the
// calibrated confidence floor's score proxy rank after those above it.
// Unselected candidates are discarded: setups are time-sensitive and are
// never queued past their validity window.
func (s *Scheduler) Flush(now time.Time, scoreFloor float64) []*prefilter.Candidate {
	s.mu.Lock()
	s.resetIfNewDayLocked(now)
	if s.paused || len(s.queue) == 0 {
		s.lastFlush = now
		s.queue = s.queue[:0]
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	live := batch[:0]
	for _, c := range batch {
		if !c.Expired(now) {
			live = append(live, c)
		}
	}

	sort.SliceStable(live, func(i, j int) bool {
		ai, aj := live[i].Score >= scoreFloor, live[j].Score >= scoreFloor
		if ai != aj {
			return ai
		}
		return live[i].Score > live[j].Score
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.cfg.DailyCallCap - s.usedToday
	if k > s.cfg.PerFlushCap {
		k = s.cfg.PerFlushCap
	}
	if k < 0 {
		k = 0
	}
	if k > len(live) {
		k = len(live)
	}
	selected := make([]*prefilter.Candidate, k)
	copy(selected, live[:k])

	// roll deferred arrivals into the fresh window
	s.queue = append(s.queue, s.next...)
	s.next = nil
	s.flushing = false
	s.lastFlush = now
	return selected
}

// TryConsume atomically spends one budget unit. When the cap is reached it
// flips the pause flag; subsequent candidates degrade to skip until the
// next daily reset.
func (s *Scheduler) TryConsume(now time.Time, candidateID string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetIfNewDayLocked(now)

	if s.paused {
		return false, s.pausedReason
	}
	if s.usedToday >= s.cfg.DailyCallCap {
		s.paused = true
		s.pausedReason = ReasonBudgetExhausted
		s.log.Warn().
			Int("cap", s.cfg.DailyCallCap).
			Msg("daily advisory cap reached, pausing escalation")
		return false, ReasonBudgetExhausted
	}
	if s.emergencyTriggeredLocked() {
		s.paused = true
		s.pausedReason = ReasonEmergencyPause
		return false, ReasonEmergencyPause
	}

	s.usedToday++
	s.recentPasses = append(s.recentPasses, candidateID)
	if n := s.cfg.EmergencyRecentPasses; n > 0 && len(s.recentPasses) > n {
		s.recentPasses = s.recentPasses[len(s.recentPasses)-n:]
	}
	if s.usedToday >= s.cfg.DailyCallCap {
		s.paused = true
		s.pausedReason = ReasonBudgetExhausted
	}
	return true, ReasonOK
}

// emergencyTriggeredLocked applies the safety heuristic: a run of recent
// escalations combined with session losses pauses spend for the day.
func (s *Scheduler) emergencyTriggeredLocked() bool {
	if s.cfg.EmergencyRecentPasses <= 0 || s.cfg.EmergencySessionLosses <= 0 {
		return false
	}
	return len(s.recentPasses) >= s.cfg.EmergencyRecentPasses &&
		s.sessionLosses >= s.cfg.EmergencySessionLosses
}

// RecordOutcome updates the session loss counter used by the emergency
// pause heuristic.
func (s *Scheduler) RecordOutcome(netPoints float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if netPoints < 0 {
		s.sessionLosses++
	}
}

// ResetSession clears session-scoped trackers (called on session change).
func (s *Scheduler) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLosses = 0
	s.recentPasses = s.recentPasses[:0]
}

// Paused reports whether advisory escalation is currently paused.
func (s *Scheduler) Paused() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.pausedReason
}

// Status returns a copy of the budget state for reporting.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.cfg.DailyCallCap - s.usedToday
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		UsedToday:    s.usedToday,
		DailyCap:     s.cfg.DailyCallCap,
		Remaining:    remaining,
		Paused:       s.paused,
		PausedReason: s.pausedReason,
		LastReset:    s.lastReset,
		QueueDepth:   len(s.queue) + len(s.next),
	}
}

// Restore rehydrates persisted budget state on startup so a restart cannot
// grant a fresh daily budget.
func (s *Scheduler) Restore(usedToday int, paused bool, pausedReason, lastReset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastReset == s.lastReset {
		s.usedToday = usedToday
		s.paused = paused
		s.pausedReason = pausedReason
	}
}
