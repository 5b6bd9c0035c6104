package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gocityvibes/emini/internal/budget"
	"github.com/gocityvibes/emini/internal/calibrate"
	"github.com/gocityvibes/emini/internal/engine"
	"github.com/gocityvibes/emini/internal/memory"
	"github.com/gocityvibes/emini/internal/prefilter"
	"github.com/gocityvibes/emini/internal/sim"
)

// Repository provides data access for decision-cycle artifacts. It
// implements the engine's Recorder contract.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveTrade upserts a finalized trade.
func (r *Repository) SaveTrade(ctx context.Context, t *sim.Trade) error {
	query := `
		INSERT INTO trades (
			id, candidate_id, fingerprint, setup, direction, session, confidence,
			entry_price, entry_time, stop_loss, initial_sl, take_profit,
			breakeven_moved, trail_active,
			exit_price, exit_time, exit_reason,
			gross_points, net_points, mae, mfe
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14,
			$15, $16, $17,
			$18, $19, $20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			stop_loss = EXCLUDED.stop_loss,
			breakeven_moved = EXCLUDED.breakeven_moved,
			trail_active = EXCLUDED.trail_active,
			exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time,
			exit_reason = EXCLUDED.exit_reason,
			gross_points = EXCLUDED.gross_points,
			net_points = EXCLUDED.net_points,
			mae = EXCLUDED.mae,
			mfe = EXCLUDED.mfe`

	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.CandidateID, t.Fingerprint, string(t.Setup), string(t.Direction), t.Session, t.Confidence,
		t.EntryPrice, t.EntryTime, t.StopLoss, t.InitialSL, t.TakeProfit,
		t.BreakevenMoved, t.TrailActive,
		nullableFloat(t.ExitPrice, t.Closed()), nullableTime(t.ExitTime), nullableString(string(t.ExitReason)),
		t.GrossPoints, t.NetPoints, t.MAE, t.MFE,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetTrades returns finalized trades, newest first.
func (r *Repository) GetTrades(ctx context.Context, limit int) ([]*sim.Trade, error) {
	query := `
		SELECT id, candidate_id, fingerprint, setup, direction, session, confidence,
			entry_price, entry_time, stop_loss, initial_sl, take_profit,
			breakeven_moved, trail_active,
			COALESCE(exit_price, 0), COALESCE(exit_time, entry_time), COALESCE(exit_reason, ''),
			COALESCE(gross_points, 0), COALESCE(net_points, 0),
			COALESCE(mae, 0), COALESCE(mfe, 0)
		FROM trades
		ORDER BY entry_time DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*sim.Trade
	for rows.Next() {
		t := &sim.Trade{State: sim.StateClosed}
		var setup, direction, exitReason string
		if err := rows.Scan(
			&t.ID, &t.CandidateID, &t.Fingerprint, &setup, &direction, &t.Session, &t.Confidence,
			&t.EntryPrice, &t.EntryTime, &t.StopLoss, &t.InitialSL, &t.TakeProfit,
			&t.BreakevenMoved, &t.TrailActive,
			&t.ExitPrice, &t.ExitTime, &exitReason,
			&t.GrossPoints, &t.NetPoints, &t.MAE, &t.MFE,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Setup = setupType(setup)
		t.Direction = directionType(direction)
		t.ExitReason = sim.ExitReason(exitReason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SavePattern upserts a fingerprint record.
func (r *Repository) SavePattern(ctx context.Context, rec memory.Record) error {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO fingerprints (
			fingerprint, features, status, samples, wins,
			win_rate, trailing_win_rate, expectancy, wilson_lower, total_points,
			first_seen, last_seen, status_since, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, CURRENT_TIMESTAMP)
		ON CONFLICT (fingerprint) DO UPDATE SET
			status = EXCLUDED.status,
			samples = EXCLUDED.samples,
			wins = EXCLUDED.wins,
			win_rate = EXCLUDED.win_rate,
			trailing_win_rate = EXCLUDED.trailing_win_rate,
			expectancy = EXCLUDED.expectancy,
			wilson_lower = EXCLUDED.wilson_lower,
			total_points = EXCLUDED.total_points,
			last_seen = EXCLUDED.last_seen,
			status_since = EXCLUDED.status_since,
			updated_at = CURRENT_TIMESTAMP`

	_, err = r.db.Pool.Exec(ctx, query,
		rec.Fingerprint, features, string(rec.Status), rec.Samples, rec.Wins,
		rec.WinRate, rec.TrailingWR, rec.Expectancy, rec.WilsonLower, rec.TotalPoints,
		rec.FirstSeen, rec.LastSeen, rec.StatusSince,
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

// LoadPatterns returns all persisted fingerprint records for startup
// rehydration.
func (r *Repository) LoadPatterns(ctx context.Context) ([]memory.Record, error) {
	query := `
		SELECT fingerprint, features, status, samples, wins,
			win_rate, trailing_win_rate, expectancy, wilson_lower, total_points,
			first_seen, last_seen, status_since
		FROM fingerprints`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		var rec memory.Record
		var status string
		var features []byte
		if err := rows.Scan(
			&rec.Fingerprint, &features, &status, &rec.Samples, &rec.Wins,
			&rec.WinRate, &rec.TrailingWR, &rec.Expectancy, &rec.WilsonLower, &rec.TotalPoints,
			&rec.FirstSeen, &rec.LastSeen, &rec.StatusSince,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		if err := json.Unmarshal(features, &rec.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
		rec.Status = memory.Status(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveHardNegative appends a losing example.
func (r *Repository) SaveHardNegative(ctx context.Context, neg memory.HardNegative) error {
	features, err := json.Marshal(neg.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO hard_negatives (
			trade_id, fingerprint, setup, direction, session,
			score, confidence, net_points, exit_reason, features, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Pool.Exec(ctx, query,
		neg.TradeID, neg.Fingerprint, string(neg.Setup), string(neg.Direction), neg.Session,
		neg.Score, neg.Confidence, neg.NetPoints, neg.ExitReason, features, neg.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save hard negative: %w", err)
	}
	return nil
}

// SaveBudgetState upserts the budget counters keyed by reset date.
func (r *Repository) SaveBudgetState(ctx context.Context, snap budget.Snapshot) error {
	query := `
		INSERT INTO budget_state (reset_date, used_today, daily_cap, paused, paused_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (reset_date) DO UPDATE SET
			used_today = EXCLUDED.used_today,
			paused = EXCLUDED.paused,
			paused_reason = EXCLUDED.paused_reason,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.Pool.Exec(ctx, query,
		snap.LastReset, snap.UsedToday, snap.DailyCap, snap.Paused, snap.PausedReason,
	)
	if err != nil {
		return fmt.Errorf("failed to save budget state: %w", err)
	}
	return nil
}

// LoadBudgetState returns the persisted budget for a reset date. A missing
// row is not an error; found is false.
func (r *Repository) LoadBudgetState(ctx context.Context, resetDate string) (budget.Snapshot, bool, error) {
	query := `
		SELECT reset_date, used_today, daily_cap, paused, COALESCE(paused_reason, '')
		FROM budget_state
		WHERE reset_date = $1`

	var snap budget.Snapshot
	err := r.db.Pool.QueryRow(ctx, query, resetDate).Scan(
		&snap.LastReset, &snap.UsedToday, &snap.DailyCap, &snap.Paused, &snap.PausedReason,
	)
	if err == pgx.ErrNoRows {
		return budget.Snapshot{}, false, nil
	}
	if err != nil {
		return budget.Snapshot{}, false, fmt.Errorf("failed to load budget state: %w", err)
	}
	return snap, true, nil
}

// SaveCalibration appends a calibration adjustment event.
func (r *Repository) SaveCalibration(ctx context.Context, adj calibrate.Adjustment) error {
	query := `
		INSERT INTO calibration_events (setup, old_floor, new_floor, win_rate, window_size, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Pool.Exec(ctx, query,
		string(adj.Setup), adj.OldFloor, adj.NewFloor, adj.WinRate, adj.Window, adj.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save calibration event: %w", err)
	}
	return nil
}

// DailySummary is the aggregated daily result row.
type DailySummary struct {
	TradingDate string  `json:"trading_date"`
	TradeCount  int     `json:"trade_count"`
	WinCount    int     `json:"win_count"`
	LossCount   int     `json:"loss_count"`
	WinRate     float64 `json:"win_rate"`
	NetPoints   float64 `json:"net_points"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`
	OracleCalls int     `json:"oracle_calls"`
}

// SaveDailySummary upserts one trading day's aggregate row from the
// engine's running totals.
func (r *Repository) SaveDailySummary(ctx context.Context, s engine.DailyStats) error {
	losses := s.Trades - s.Wins
	winRate := 0.0
	if s.Trades > 0 {
		winRate = float64(s.Wins) / float64(s.Trades) * 100
	}

	query := `
		INSERT INTO daily_summaries (
			trading_date, trade_count, win_count, loss_count, win_rate,
			net_points, largest_win, largest_loss, oracle_calls, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		ON CONFLICT (trading_date) DO UPDATE SET
			trade_count = EXCLUDED.trade_count,
			win_count = EXCLUDED.win_count,
			loss_count = EXCLUDED.loss_count,
			win_rate = EXCLUDED.win_rate,
			net_points = EXCLUDED.net_points,
			largest_win = EXCLUDED.largest_win,
			largest_loss = EXCLUDED.largest_loss,
			oracle_calls = EXCLUDED.oracle_calls,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.Pool.Exec(ctx, query,
		s.Date, s.Trades, s.Wins, losses, winRate,
		s.NetPoints, s.LargestWin, s.LargestLoss, s.OracleCalls,
	)
	if err != nil {
		return fmt.Errorf("failed to save daily summary: %w", err)
	}
	return nil
}

// GetDailySummaries returns recent daily summaries, newest first.
func (r *Repository) GetDailySummaries(ctx context.Context, limit int) ([]DailySummary, error) {
	query := `
		SELECT trading_date, trade_count, win_count, loss_count, win_rate,
			net_points, largest_win, largest_loss, oracle_calls
		FROM daily_summaries
		ORDER BY trading_date DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []DailySummary
	for rows.Next() {
		var s DailySummary
		if err := rows.Scan(
			&s.TradingDate, &s.TradeCount, &s.WinCount, &s.LossCount, &s.WinRate,
			&s.NetPoints, &s.LargestWin, &s.LargestLoss, &s.OracleCalls,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func setupType(s string) prefilter.SetupType {
	return prefilter.SetupType(s)
}

func directionType(s string) prefilter.Direction {
	return prefilter.Direction(s)
}

func nullableFloat(v float64, valid bool) interface{} {
	if !valid {
		return nil
	}
	return v
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
