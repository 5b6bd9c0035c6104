// Package engine composes the scoring, budgeting, advisory, and
// simulation layers into the per-bar decision cycle and owns the
// running/paused/stopped lifecycle.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/budget"
	"github.com/gocityvibes/emini/internal/calibrate"
	"github.com/gocityvibes/emini/internal/events"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/memory"
	"github.com/gocityvibes/emini/internal/oracle"
	"github.com/gocityvibes/emini/internal/prefilter"
	"github.com/gocityvibes/emini/internal/session"
	"github.com/gocityvibes/emini/internal/sim"
)

// State is the engine lifecycle. Control commands are the only writers.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Skip reasons owned by the engine itself.
const (
	ReasonQuarantined     = "fingerprint_quarantined"
	ReasonBelowFloor      = "below_confidence_floor"
	ReasonOracleSkip      = "oracle_skip"
	ReasonPositionOpen    = "position_open"
	ReasonEngineNotActive = "engine_not_running"
)

// Recorder persists decision-cycle artifacts. All methods are best-effort
// from the engine's point of view: a persistence failure is logged and the
// cycle continues.
type Recorder interface {
	SaveTrade(ctx context.Context, t *sim.Trade) error
	SavePattern(ctx context.Context, rec memory.Record) error
	SaveHardNegative(ctx context.Context, neg memory.HardNegative) error
	SaveBudgetState(ctx context.Context, snap budget.Snapshot) error
	SaveCalibration(ctx context.Context, adj calibrate.Adjustment) error
	SaveDailySummary(ctx context.Context, s DailyStats) error
}

// DailyStats is the per-day trade aggregate, upserted after every close so
// the persisted row is always current.
type DailyStats struct {
	Date        string  `json:"date"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	NetPoints   float64 `json:"net_points"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`
	OracleCalls int     `json:"oracle_calls"`
}

// Engine drives one symbol's decision cycle in strict bar order. All
// mutation happens on the caller's OnBar goroutine; control commands and
// snapshot reads may come from any goroutine.
type Engine struct {
	mu          sync.RWMutex
	state       State
	profile     string
	stateReason string
	generation  uint64 // bumped on stop; stale advisory results are dropped

	cfg        *config.Config
	scorer     *prefilter.Scorer
	validator  *session.Validator
	governor   *session.Governor
	scheduler  *budget.Scheduler
	advisor    oracle.Oracle
	simulator  *sim.Simulator
	patterns   *memory.Store
	negatives  *memory.HardNegativeStore
	calibrator *calibrate.Calibrator
	bus        *events.EventBus
	recorder   Recorder
	log        zerolog.Logger

	rolling     *market.RollingState
	openTrade   *sim.Trade
	openCand    *prefilter.Candidate
	tradingDate string

	closedToday  int
	winsToday    int
	pointsToday  float64
	largestWin   float64
	largestLoss  float64
	lastBarTime  time.Time
	recentTrades []*sim.Trade
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Scorer     *prefilter.Scorer
	Validator  *session.Validator
	Governor   *session.Governor
	Scheduler  *budget.Scheduler
	Advisor    oracle.Oracle
	Simulator  *sim.Simulator
	Patterns   *memory.Store
	Negatives  *memory.HardNegativeStore
	Calibrator *calibrate.Calibrator
	Bus        *events.EventBus
	Recorder   Recorder // optional
}

// New creates a stopped engine. Call Start to begin processing bars.
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		state:      StateStopped,
		cfg:        cfg,
		scorer:     deps.Scorer,
		validator:  deps.Validator,
		governor:   deps.Governor,
		scheduler:  deps.Scheduler,
		advisor:    deps.Advisor,
		simulator:  deps.Simulator,
		patterns:   deps.Patterns,
		negatives:  deps.Negatives,
		calibrator: deps.Calibrator,
		bus:        deps.Bus,
		recorder:   deps.Recorder,
		log:        logging.Component("engine"),
		rolling:    market.NewRollingState(cfg.MarketConfig.WarmupBars),
	}
}

// Start transitions to running with the given profile. Starting a running
// engine is a no-op; starting a paused engine resumes it.
func (e *Engine) Start(profile string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return
	}
	e.state = StateRunning
	e.profile = profile
	e.stateReason = ""
	e.log.Info().Str("profile", profile).Msg("engine started")
	e.publishState(StateRunning, "start")
}

// Pause stops new entries. Open trades continue simulating to close.
func (e *Engine) Pause(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}
	e.state = StatePaused
	e.stateReason = reason
	e.log.Info().Str("reason", reason).Msg("engine paused")
	e.publishState(StatePaused, reason)
}

// Stop halts the cycle. An open trade is force-closed on the next bar at
// market; advisory results resolving after this point are ignored.
func (e *Engine) Stop(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	e.state = StateStopped
	e.stateReason = reason
	e.generation++
	e.log.Info().Str("reason", reason).Msg("engine stopped")
	e.publishState(StateStopped, reason)
}

func (e *Engine) publishState(state State, reason string) {
	if e.bus != nil {
		e.bus.PublishEngineState(string(state), reason)
	}
}

// State returns the current lifecycle state and profile.
func (e *Engine) State() (State, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.profile
}

// OnBar advances the decision cycle by one bar. Bars must arrive in
// timestamp order; an out-of-order bar is dropped.
func (e *Engine) OnBar(ctx context.Context, bar market.Bar) {
	e.mu.Lock()
	if !bar.Timestamp.After(e.lastBarTime) && !e.lastBarTime.IsZero() {
		e.mu.Unlock()
		e.log.Debug().Time("bar", bar.Timestamp).Msg("out-of-order bar dropped")
		return
	}
	e.lastBarTime = bar.Timestamp
	state := e.state
	gen := e.generation
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.PublishPriceUpdate(e.cfg.MarketConfig.Symbol, bar.Close)
	}

	e.rollDay(bar.Timestamp)
	ind := e.rolling.Update(bar, e.validator.TradingDate(bar.Timestamp))

	// A stopped engine only unwinds: force-close any open position, then
	// nothing else runs.
	if state == StateStopped {
		e.forceCloseOpen(ctx, bar)
		return
	}

	e.manageOpenTrade(ctx, bar)

	if state != StateRunning {
		return
	}
	if !e.rolling.Ready() {
		return
	}

	sess := e.validator.Resolve(bar.Timestamp)
	e.scoreAndSubmit(bar, ind, sess)
	e.maybeFlush(ctx, bar, gen)
}

// rollDay resets day-scoped learning state when the trading date changes.
func (e *Engine) rollDay(ts time.Time) {
	date := e.validator.TradingDate(ts)
	e.mu.Lock()
	if date == e.tradingDate {
		e.mu.Unlock()
		return
	}
	first := e.tradingDate == ""
	e.tradingDate = date
	e.closedToday = 0
	e.winsToday = 0
	e.pointsToday = 0
	e.largestWin = 0
	e.largestLoss = 0
	e.mu.Unlock()

	if first {
		return
	}
	e.calibrator.ResetDaily()
	e.scheduler.ResetSession()
	e.log.Info().Str("date", date).Msg("trading day rolled")
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type: events.EventDailyReset,
			Data: map[string]interface{}{"date": date},
		})
	}
}

// manageOpenTrade walks the bar through an open position and runs close
// feedback when it exits.
func (e *Engine) manageOpenTrade(ctx context.Context, bar market.Bar) {
	e.mu.Lock()
	t := e.openTrade
	e.mu.Unlock()
	if t == nil {
		return
	}

	closed, err := e.simulator.ProcessBar(t, bar)
	if err != nil {
		e.log.Error().Err(err).Str("trade_id", t.ID).Msg("bar processing failed")
		return
	}
	if closed {
		e.finalizeTrade(ctx, t)
	}
}

func (e *Engine) forceCloseOpen(ctx context.Context, bar market.Bar) {
	e.mu.Lock()
	t := e.openTrade
	e.mu.Unlock()
	if t == nil {
		return
	}
	if err := e.simulator.ForceClose(t, bar.Open, bar.Timestamp); err != nil {
		e.log.Error().Err(err).Str("trade_id", t.ID).Msg("force close failed")
		return
	}
	e.finalizeTrade(ctx, t)
}

// scoreAndSubmit runs the prefilter and, when a candidate emerges, the
// governor and pattern gates before handing it to the scheduler. Governor
// violations short-circuit before any budget is considered.
func (e *Engine) scoreAndSubmit(bar market.Bar, ind market.Indicators, sess session.Info) {
	e.mu.RLock()
	hasOpen := e.openTrade != nil
	e.mu.RUnlock()
	if hasOpen {
		return // one position at a time
	}

	cand := e.scorer.Evaluate(bar, ind, e.rolling.Recent(20), sess)
	if cand == nil {
		return
	}
	if e.bus != nil {
		e.bus.PublishCandidateScored(cand.ID, string(cand.Setup), string(cand.Direction), cand.Score)
	}

	if ok, reason := e.governor.Check(bar.Timestamp); !ok {
		e.reject(cand.ID, reason)
		return
	}
	if fp, _, _ := e.patterns.Lookup(cand); e.patterns.Status(fp) == memory.StatusQuarantined {
		e.reject(cand.ID, ReasonQuarantined)
		return
	}
	if ok, reason := e.scheduler.Submit(cand, bar.Timestamp); !ok {
		e.reject(cand.ID, reason)
	}
}

func (e *Engine) reject(candidateID, reason string) {
	e.log.Debug().Str("candidate_id", candidateID).Str("reason", reason).Msg("candidate rejected")
	if e.bus != nil {
		e.bus.PublishCandidateRejected(candidateID, reason)
	}
}

// maybeFlush closes the batching window when due and escalates the ranked
// selection to the advisory oracle.
func (e *Engine) maybeFlush(ctx context.Context, bar market.Bar, gen uint64) {
	if !e.scheduler.DueForFlush(bar.Timestamp) {
		return
	}
	selected := e.scheduler.Flush(bar.Timestamp, e.rankingFloor())
	if len(selected) == 0 {
		return
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type: events.EventFlushSelected,
			Data: map[string]interface{}{"count": len(selected)},
		})
	}

	for _, cand := range selected {
		if e.openPosition() {
			e.reject(cand.ID, ReasonPositionOpen)
			continue
		}
		e.escalate(ctx, cand, bar, gen)
	}
}

// rankingFloor maps the strictest live confidence floor onto the score
// scale so low-floor candidates rank behind high-conviction ones.
func (e *Engine) rankingFloor() float64 {
	floor := e.cfg.CalibratorConfig.BaseConfidenceMin
	for _, f := range e.calibrator.Floors() {
		if f > floor {
			floor = f
		}
	}
	return float64(floor)
}

func (e *Engine) openPosition() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.openTrade != nil
}

// escalate spends one budget unit, consults the oracle, and opens a trade
// when the decision clears the calibrated confidence floor. Oracle failure
// degrades to skip; it never opens an untracked trade.
func (e *Engine) escalate(ctx context.Context, cand *prefilter.Candidate, bar market.Bar, gen uint64) {
	// the governor may have tripped since submission
	if ok, reason := e.governor.Check(bar.Timestamp); !ok {
		e.reject(cand.ID, reason)
		return
	}
	if ok, reason := e.scheduler.TryConsume(bar.Timestamp, cand.ID); !ok {
		e.reject(cand.ID, reason)
		if reason == budget.ReasonBudgetExhausted || reason == budget.ReasonEmergencyPause {
			snap := e.scheduler.Status()
			if e.bus != nil {
				e.bus.PublishBudgetPaused(reason, snap.UsedToday, snap.DailyCap)
			}
			e.persistBudget(ctx)
		}
		return
	}

	dec := e.consult(ctx, cand)

	// a result arriving after stop is discarded, the budget unit stays spent
	e.mu.RLock()
	stale := gen != e.generation || e.state == StateStopped
	e.mu.RUnlock()
	if stale {
		e.log.Info().Str("candidate_id", cand.ID).Msg("advisory result ignored after stop")
		return
	}

	if e.bus != nil {
		e.bus.PublishOracleDecision(cand.ID, string(dec.Action), dec.Source, dec.Confidence)
	}
	if dec.Action != oracle.ActionTrade {
		e.reject(cand.ID, ReasonOracleSkip)
		return
	}
	if !e.calibrator.Admit(cand.Setup, dec.Confidence) {
		e.reject(cand.ID, ReasonBelowFloor)
		return
	}

	e.openTradeFor(cand, dec, bar)
}

// consult calls the oracle with the configured timeout and bounded retry.
// Every failure path resolves to a skip decision.
func (e *Engine) consult(ctx context.Context, cand *prefilter.Candidate) *oracle.Decision {
	octx := e.buildOracleContext(cand)

	attempts := 1 + e.cfg.OracleConfig.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout())
		dec, err := e.advisor.Evaluate(callCtx, cand, octx)
		cancel()
		if err == nil && dec != nil {
			return dec
		}
		e.log.Warn().Err(err).
			Str("candidate_id", cand.ID).
			Int("attempt", attempt+1).
			Msg("advisory call failed")
	}
	return oracle.SkipDecision(cand, "oracle_unavailable")
}

func (e *Engine) buildOracleContext(cand *prefilter.Candidate) oracle.Context {
	gov := e.governor.Snapshot()
	octx := oracle.Context{
		ConfidenceFloor: e.calibrator.Floor(cand.Setup),
		TradesToday:     gov.TradesToday,
		PointsToday:     gov.PointsToday,
	}
	if _, rec, ok := e.patterns.Lookup(cand); ok {
		octx.FingerprintStatus = string(rec.Status)
		octx.FingerprintWinRate = rec.TrailingWR
		octx.FingerprintSamples = rec.Samples
	}
	return octx
}

func (e *Engine) openTradeFor(cand *prefilter.Candidate, dec *oracle.Decision, bar market.Bar) {
	t := e.simulator.Open(cand, dec, bar)
	t.Fingerprint = memory.Fingerprint(memory.ExtractFeatures(cand))

	e.mu.Lock()
	e.openTrade = t
	e.openCand = cand
	e.mu.Unlock()

	e.governor.RecordEntry(bar.Timestamp)
	e.log.Info().
		Str("trade_id", t.ID).
		Str("setup", string(t.Setup)).
		Str("direction", string(t.Direction)).
		Float64("entry", t.EntryPrice).
		Float64("stop", t.StopLoss).
		Float64("target", t.TakeProfit).
		Msg("trade opened")
	if e.bus != nil {
		e.bus.PublishTradeOpened(t.ID, string(t.Setup), string(t.Direction), t.EntryPrice, t.StopLoss, t.TakeProfit)
	}
}

// finalizeTrade runs the close feedback chain: governor and budget loss
// counters, pattern memory, hard negatives, calibrator, persistence.
func (e *Engine) finalizeTrade(ctx context.Context, t *sim.Trade) {
	e.mu.Lock()
	cand := e.openCand
	e.openTrade = nil
	e.openCand = nil
	e.closedToday++
	if t.Win() {
		e.winsToday++
	}
	e.pointsToday += t.NetPoints
	if t.NetPoints > e.largestWin {
		e.largestWin = t.NetPoints
	}
	if t.NetPoints < e.largestLoss {
		e.largestLoss = t.NetPoints
	}
	e.recentTrades = append(e.recentTrades, t)
	if len(e.recentTrades) > 100 {
		e.recentTrades = e.recentTrades[len(e.recentTrades)-100:]
	}
	e.mu.Unlock()

	e.log.Info().
		Str("trade_id", t.ID).
		Str("exit_reason", string(t.ExitReason)).
		Float64("net_points", t.NetPoints).
		Float64("mae", t.MAE).
		Float64("mfe", t.MFE).
		Msg("trade closed")
	if e.bus != nil {
		e.bus.PublishTradeClosed(t.ID, string(t.ExitReason), t.ExitPrice, t.NetPoints, t.MAE, t.MFE)
	}

	e.governor.RecordOutcome(t.ExitTime, t.NetPoints)
	e.scheduler.RecordOutcome(t.NetPoints)

	if cand != nil {
		before := e.patterns.Status(t.Fingerprint)
		rec := e.patterns.Record(cand, memory.Outcome{
			TradeID:   t.ID,
			NetPoints: t.NetPoints,
			Win:       t.Win(),
			ClosedAt:  t.ExitTime,
		})
		if rec.Status != before && e.bus != nil {
			e.bus.PublishPatternStatus(rec.Fingerprint, string(before), string(rec.Status), rec.Samples, rec.TrailingWR)
		}
		if e.recorder != nil {
			if err := e.recorder.SavePattern(ctx, rec); err != nil {
				e.log.Error().Err(err).Msg("pattern persist failed")
			}
		}

		if !t.Win() {
			neg := memory.HardNegative{
				TradeID:     t.ID,
				Fingerprint: rec.Fingerprint,
				Setup:       t.Setup,
				Direction:   t.Direction,
				Session:     t.Session,
				Score:       cand.Score,
				Confidence:  t.Confidence,
				NetPoints:   t.NetPoints,
				ExitReason:  string(t.ExitReason),
				Features:    rec.Features,
				RecordedAt:  t.ExitTime,
			}
			e.negatives.Add(neg)
			if e.recorder != nil {
				if err := e.recorder.SaveHardNegative(ctx, neg); err != nil {
					e.log.Error().Err(err).Msg("hard negative persist failed")
				}
			}
		}
	}

	if adj := e.calibrator.RecordOutcome(t.Setup, t.Win(), t.ExitTime); adj != nil {
		if e.bus != nil {
			e.bus.PublishFloorAdjusted(string(adj.Setup), adj.OldFloor, adj.NewFloor, adj.WinRate)
		}
		if e.recorder != nil {
			if err := e.recorder.SaveCalibration(ctx, *adj); err != nil {
				e.log.Error().Err(err).Msg("calibration persist failed")
			}
		}
	}

	if e.recorder != nil {
		if err := e.recorder.SaveTrade(ctx, t); err != nil {
			e.log.Error().Err(err).Str("trade_id", t.ID).Msg("trade persist failed")
		}
	}
	e.persistBudget(ctx)
	e.persistSummary(ctx)
}

func (e *Engine) persistBudget(ctx context.Context) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveBudgetState(ctx, e.scheduler.Status()); err != nil {
		e.log.Error().Err(err).Msg("budget persist failed")
	}
}

func (e *Engine) persistSummary(ctx context.Context) {
	if e.recorder == nil {
		return
	}
	e.mu.RLock()
	s := DailyStats{
		Date:        e.tradingDate,
		Trades:      e.closedToday,
		Wins:        e.winsToday,
		NetPoints:   e.pointsToday,
		LargestWin:  e.largestWin,
		LargestLoss: e.largestLoss,
	}
	e.mu.RUnlock()
	s.OracleCalls = e.scheduler.Status().UsedToday

	if err := e.recorder.SaveDailySummary(ctx, s); err != nil {
		e.log.Error().Err(err).Str("date", s.Date).Msg("daily summary persist failed")
	}
}
