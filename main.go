package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/api"
	"github.com/gocityvibes/emini/internal/auth"
	"github.com/gocityvibes/emini/internal/budget"
	"github.com/gocityvibes/emini/internal/cache"
	"github.com/gocityvibes/emini/internal/calibrate"
	"github.com/gocityvibes/emini/internal/database"
	"github.com/gocityvibes/emini/internal/engine"
	"github.com/gocityvibes/emini/internal/events"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/memory"
	"github.com/gocityvibes/emini/internal/oracle"
	"github.com/gocityvibes/emini/internal/prefilter"
	"github.com/gocityvibes/emini/internal/session"
	"github.com/gocityvibes/emini/internal/sim"
	"github.com/gocityvibes/emini/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dataPath := flag.String("data", "", "CSV bar file to feed the engine (offline mode)")
	speed := flag.Duration("speed", 0, "delay between replayed bars, 0 for full speed")
	autostart := flag.Bool("autostart", false, "start the engine immediately")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Init(config.LoggingConfig{Level: "info", Output: "stderr"})
		log := logging.Root()
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	logging.Init(cfg.LoggingConfig)
	log := logging.Root()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// oracle API key: vault first, env/config fallback
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("vault client failed")
	}
	if cfg.OracleConfig.APIKey == "" && vaultClient.IsEnabled() {
		key, err := vaultClient.OracleKey(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("oracle key retrieval failed")
		}
		cfg.OracleConfig.APIKey = key
	}

	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		repo = database.NewRepository(db)
	}

	liveState := cache.NewLiveState(cfg.RedisConfig)
	defer liveState.Close()

	validator, err := session.NewValidator(cfg.SessionConfig, cfg.MarketConfig.Timezone)
	if err != nil {
		log.Fatal().Err(err).Msg("session windows invalid")
	}

	bus := events.NewEventBus()
	governor := session.NewGovernor(cfg.RiskConfig, validator)
	scorer := prefilter.NewScorer(cfg.PrefilterConfig, cfg.MarketConfig.Symbol)
	scheduler := budget.NewScheduler(cfg.BudgetConfig, cfg.PrefilterConfig.MaxRiskFlags)
	patterns := memory.NewStore(cfg.MemoryConfig)
	negatives := memory.NewHardNegativeStore(cfg.MemoryConfig.HardNegativeCap)
	calibrator := calibrate.NewCalibrator(cfg.CalibratorConfig)
	simulator := sim.NewSimulator(cfg.RiskConfig, cfg.MarketConfig)
	advisor := oracle.NewLLMClient(cfg.OracleConfig)

	// rehydrate persisted learning and budget state so a restart cannot
	// grant a fresh daily budget or forget quarantined patterns
	if repo != nil {
		if records, err := repo.LoadPatterns(ctx); err != nil {
			log.Error().Err(err).Msg("pattern rehydration failed")
		} else {
			patterns.Restore(records)
		}
		today := validator.TradingDate(time.Now())
		if snap, found, err := repo.LoadBudgetState(ctx, today); err != nil {
			log.Error().Err(err).Msg("budget rehydration failed")
		} else if found {
			scheduler.Restore(snap.UsedToday, snap.Paused, snap.PausedReason, snap.LastReset)
		}
	}

	var recorder engine.Recorder
	if repo != nil {
		recorder = repo
	}
	eng := engine.New(cfg, engine.Deps{
		Scorer:     scorer,
		Validator:  validator,
		Governor:   governor,
		Scheduler:  scheduler,
		Advisor:    advisor,
		Simulator:  simulator,
		Patterns:   patterns,
		Negatives:  negatives,
		Calibrator: calibrator,
		Bus:        bus,
		Recorder:   recorder,
	})

	// mirror engine snapshots into the live-state cache for external readers
	bus.SubscribeAll(func(events.Event) {
		mctx := context.Background()
		snap := eng.Snapshot()
		_ = liveState.Set(mctx, cache.KeyEngineStatus, snap)
		_ = liveState.Set(mctx, cache.KeyBudgetState, snap.Budget)
		_ = liveState.Set(mctx, cache.KeyGovernorState, snap.Governor)
		_ = liveState.Set(mctx, cache.KeyFloors, snap.Floors)
		_ = liveState.Set(mctx, cache.KeyLastBar, snap.LastBarTime)
		if snap.OpenTrade != nil {
			_ = liveState.Set(mctx, cache.KeyOpenTrade, snap.OpenTrade)
		} else {
			liveState.Delete(mctx, cache.KeyOpenTrade)
		}
	})

	authService := auth.NewService(cfg.AuthConfig)
	server := api.NewServer(cfg.ServerConfig, eng, patterns, negatives, repo, authService, bus)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	if *autostart {
		eng.Start("standard")
	}

	if *dataPath != "" {
		go feedBars(ctx, eng, *dataPath, *speed)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("api server exited")
	}

	eng.Stop("shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

// feedBars streams a CSV bar file into the engine in timestamp order.
func feedBars(ctx context.Context, eng *engine.Engine, path string, delay time.Duration) {
	log := logging.Component("feed")
	provider, err := market.NewCSVProvider(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("bar file unreadable")
		return
	}

	bars := provider.All()
	log.Info().Int("bars", len(bars)).Str("path", path).Msg("replaying bar file")
	for _, bar := range bars {
		select {
		case <-ctx.Done():
			return
		default:
		}
		eng.OnBar(ctx, bar)
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	log.Info().Msg("bar file exhausted")
}
