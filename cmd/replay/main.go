// Command replay runs the decision engine over a CSV bar file with a
// deterministic offline oracle, printing a session summary. Useful for
// tuning scoring weights and risk parameters without spending advisory
// budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/budget"
	"github.com/gocityvibes/emini/internal/calibrate"
	"github.com/gocityvibes/emini/internal/engine"
	"github.com/gocityvibes/emini/internal/events"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/memory"
	"github.com/gocityvibes/emini/internal/oracle"
	"github.com/gocityvibes/emini/internal/prefilter"
	"github.com/gocityvibes/emini/internal/session"
	"github.com/gocityvibes/emini/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dataPath := flag.String("data", "", "CSV bar file (required)")
	minScore := flag.Float64("trade-above", 85, "offline oracle trades candidates scoring at or above this")
	flag.Parse()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -data bars.csv [-config config.json]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.LoggingConfig.Level = "warn"
	logging.Init(cfg.LoggingConfig)

	provider, err := market.NewCSVProvider(*dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "data: %v\n", err)
		os.Exit(1)
	}

	validator, err := session.NewValidator(cfg.SessionConfig, cfg.MarketConfig.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessions: %v\n", err)
		os.Exit(1)
	}

	// deterministic stand-in for the advisory service: trade anything at or
	// above the threshold with confidence proportional to score
	threshold := *minScore
	advisor := &oracle.ScriptedOracle{
		Default: func(cand *prefilter.Candidate, octx oracle.Context) *oracle.Decision {
			dec := oracle.SkipDecision(cand, "below_replay_threshold")
			if cand.Score >= threshold {
				dec.Action = oracle.ActionTrade
				dec.Confidence = int(cand.Score)
				dec.Reasoning = "replay heuristic"
			}
			return dec
		},
	}

	bus := events.NewEventBus()
	patterns := memory.NewStore(cfg.MemoryConfig)
	negatives := memory.NewHardNegativeStore(cfg.MemoryConfig.HardNegativeCap)
	eng := engine.New(cfg, engine.Deps{
		Scorer:     prefilter.NewScorer(cfg.PrefilterConfig, cfg.MarketConfig.Symbol),
		Validator:  validator,
		Governor:   session.NewGovernor(cfg.RiskConfig, validator),
		Scheduler:  budget.NewScheduler(cfg.BudgetConfig, cfg.PrefilterConfig.MaxRiskFlags),
		Advisor:    advisor,
		Simulator:  sim.NewSimulator(cfg.RiskConfig, cfg.MarketConfig),
		Patterns:   patterns,
		Negatives:  negatives,
		Calibrator: calibrate.NewCalibrator(cfg.CalibratorConfig),
		Bus:        bus,
	})

	ctx := context.Background()
	eng.Start("replay")
	bars := provider.All()
	for _, bar := range bars {
		eng.OnBar(ctx, bar)
	}
	eng.Stop("replay_complete")
	if len(bars) > 0 {
		// one synthetic tick so a still-open trade force-closes
		last := bars[len(bars)-1]
		eng.OnBar(ctx, market.Bar{
			Timestamp: last.Timestamp.Add(time.Minute),
			Open:      last.Close,
			High:      last.Close,
			Low:       last.Close,
			Close:     last.Close,
			Volume:    last.Volume,
		})
	}

	printSummary(eng, patterns, negatives, len(bars))
}

func printSummary(eng *engine.Engine, patterns *memory.Store, negatives *memory.HardNegativeStore, barCount int) {
	trades := eng.RecentTrades(100)
	wins, losses := 0, 0
	var net, largestWin, largestLoss float64
	for _, t := range trades {
		net += t.NetPoints
		if t.Win() {
			wins++
			if t.NetPoints > largestWin {
				largestWin = t.NetPoints
			}
		} else {
			losses++
			if t.NetPoints < largestLoss {
				largestLoss = t.NetPoints
			}
		}
	}

	snap := eng.Snapshot()
	fmt.Printf("bars processed:    %d\n", barCount)
	fmt.Printf("oracle calls:      %d/%d\n", snap.Budget.UsedToday, snap.Budget.DailyCap)
	fmt.Printf("trades:            %d (%d wins, %d losses)\n", len(trades), wins, losses)
	if len(trades) > 0 {
		fmt.Printf("win rate:          %.1f%%\n", 100*float64(wins)/float64(len(trades)))
	}
	fmt.Printf("net points:        %+.2f\n", net)
	fmt.Printf("largest win/loss:  %+.2f / %+.2f\n", largestWin, largestLoss)
	fmt.Printf("fingerprints:      %d tracked, %d hard negatives\n", patterns.Count(), negatives.Len())

	for _, rec := range patterns.Summaries() {
		fmt.Printf("  %s  %-11s samples=%d wr=%.0f%% exp=%+.2f\n",
			rec.Fingerprint, rec.Status, rec.Samples, rec.WinRate, rec.Expectancy)
	}
}
