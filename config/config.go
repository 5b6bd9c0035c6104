package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	MarketConfig     MarketConfig     `json:"market"`
	PrefilterConfig  PrefilterConfig  `json:"prefilter"`
	SessionConfig    SessionConfig    `json:"sessions"`
	RiskConfig       RiskConfig       `json:"risk"`
	OracleConfig     OracleConfig     `json:"oracle"`
	BudgetConfig     BudgetConfig     `json:"budget"`
	MemoryConfig     MemoryConfig     `json:"memory"`
	CalibratorConfig CalibratorConfig `json:"calibrator"`
	ServerConfig     ServerConfig     `json:"server"`
	AuthConfig       AuthConfig       `json:"auth"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	VaultConfig      VaultConfig      `json:"vault"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// MarketConfig describes the traded instrument and data cadence.
type MarketConfig struct {
	Symbol       string  `json:"symbol"`        // e.g. "MES=F"
	Interval     string  `json:"interval"`      // bar interval, e.g. "1m"
	TickSize     float64 `json:"tick_size"`     // 0.25 for MES
	ContractSize float64 `json:"contract_size"` // $ per point, 5.0 for MES
	WarmupBars   int     `json:"warmup_bars"`   // bars required before scoring
	Timezone     string  `json:"timezone"`      // exchange timezone, e.g. "America/Chicago"
}

// PrefilterConfig holds confluence scoring weights and thresholds.
// Weights must sum to 100.
type PrefilterConfig struct {
	MinScore     float64            `json:"min_score"`
	Weights      map[string]float64 `json:"weights"`
	ATRMin       float64            `json:"atr_min"`
	ATRMax       float64            `json:"atr_max"`
	MinBodyRatio float64            `json:"min_body_ratio"`
	MaxRiskFlags int                `json:"max_risk_flags"`
}

// SessionConfig defines tradable windows in the exchange timezone.
// Times are "HH:MM-HH:MM".
type SessionConfig struct {
	RTHA       string `json:"rth_a"`
	RTHB       string `json:"rth_b"`
	BlockLunch string `json:"block_lunch"`
}

// RiskConfig holds bracket and daily risk limits, all in price points.
type RiskConfig struct {
	StopLossPoints       float64 `json:"stop_loss_points"`
	TakeProfitPoints     float64 `json:"take_profit_points"`
	BreakevenAtPoints    float64 `json:"breakeven_at_points"`
	TrailAfterPoints     float64 `json:"trail_after_points"`
	TrailDistance        float64 `json:"trail_distance"`
	TimeoutMinutes       int     `json:"timeout_minutes"`
	CommissionPoints     float64 `json:"commission_points"`
	SlippageTicks        float64 `json:"slippage_ticks"`
	MaxTradesPerDay      int     `json:"max_trades_per_day"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	DailyPointStop       float64 `json:"daily_point_stop"` // negative floor, e.g. -3.0
}

// OracleConfig holds the advisory LLM settings.
type OracleConfig struct {
	Provider       string  `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey         string  `json:"api_key"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries"` // bounded retry on transport failure; 0 disables
}

// BudgetConfig controls advisory call admission.
type BudgetConfig struct {
	DailyCallCap           int    `json:"daily_call_cap"`
	FlushIntervalSecs      int    `json:"flush_interval_seconds"`
	FlushMaxCandidates     int    `json:"flush_max_candidates"` // accumulate trigger
	PerFlushCap            int    `json:"per_flush_cap"`
	ResetTimezone          string `json:"reset_timezone"`
	EmergencyRecentPasses  int    `json:"emergency_recent_passes"`
	EmergencySessionLosses int    `json:"emergency_session_losses"`
}

// MemoryConfig controls pattern promotion and hard-negative retention.
type MemoryConfig struct {
	MinSamplesForGold    int     `json:"min_samples_for_gold"`
	GoldWinRate          float64 `json:"gold_win_rate"`       // trailing WR bar, percent
	QuarantineWinRate    float64 `json:"quarantine_win_rate"` // floor, percent
	QuarantineMinSamples int     `json:"quarantine_min_samples"`
	CooldownHours        int     `json:"cooldown_hours"`
	EWMAAlpha            float64 `json:"ewma_alpha"`
	HardNegativeCap      int     `json:"hard_negative_cap"`
}

// CalibratorConfig controls the adaptive confidence floor.
type CalibratorConfig struct {
	BaseConfidenceMin int     `json:"confidence_min"` // 85
	FloorMin          int     `json:"floor_min"`      // 82
	FloorMax          int     `json:"floor_max"`      // 92
	AdjustmentStep    int     `json:"adjustment_step"`
	WindowSize        int     `json:"window_size"` // trailing trades considered
	RecalibrateEvery  int     `json:"recalibrate_every"`
	LowWinRate        float64 `json:"low_win_rate"`
	HighWinRate       float64 `json:"high_win_rate"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// AuthConfig holds operator authentication settings.
type AuthConfig struct {
	Enabled       bool   `json:"enabled"`
	JWTSecret     string `json:"jwt_secret"`
	Username      string `json:"username"`
	PasswordHash  string `json:"password_hash"` // bcrypt hash
	TokenTTLHours int    `json:"token_ttl_hours"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis live-state cache settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VaultConfig holds HashiCorp Vault settings for secret retrieval.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"` // path holding the oracle API key
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		MarketConfig: MarketConfig{
			Symbol:       "MES=F",
			Interval:     "1m",
			TickSize:     0.25,
			ContractSize: 5.0,
			WarmupBars:   20,
			Timezone:     "America/Chicago",
		},
		PrefilterConfig: PrefilterConfig{
			MinScore: 75,
			Weights: map[string]float64{
				"trend":            25,
				"volume":           20,
				"structure":        20,
				"atr_band":         10,
				"session":          10,
				"body_cleanliness": 5,
				"liquidity":        5,
				"news":             5,
			},
			ATRMin:       0.8,
			ATRMax:       2.0,
			MinBodyRatio: 0.35,
			MaxRiskFlags: 1,
		},
		SessionConfig: SessionConfig{
			RTHA:       "08:30-10:30",
			RTHB:       "13:00-14:45",
			BlockLunch: "11:30-13:00",
		},
		RiskConfig: RiskConfig{
			StopLossPoints:       0.75,
			TakeProfitPoints:     1.25,
			BreakevenAtPoints:    0.50,
			TrailAfterPoints:     1.00,
			TrailDistance:        0.25,
			TimeoutMinutes:       10,
			CommissionPoints:     0.06,
			SlippageTicks:        0.5,
			MaxTradesPerDay:      10,
			MaxConsecutiveLosses: 2,
			DailyPointStop:       -3.0,
		},
		OracleConfig: OracleConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			MaxTokens:      512,
			Temperature:    0.2,
			TimeoutSeconds: 20,
			MaxRetries:     1,
		},
		BudgetConfig: BudgetConfig{
			DailyCallCap:           50,
			FlushIntervalSecs:      30,
			FlushMaxCandidates:     5,
			PerFlushCap:            3,
			ResetTimezone:          "America/Chicago",
			EmergencyRecentPasses:  3,
			EmergencySessionLosses: 2,
		},
		MemoryConfig: MemoryConfig{
			MinSamplesForGold:    20,
			GoldWinRate:          80.0,
			QuarantineWinRate:    50.0,
			QuarantineMinSamples: 15,
			CooldownHours:        12,
			EWMAAlpha:            0.12,
			HardNegativeCap:      200,
		},
		CalibratorConfig: CalibratorConfig{
			BaseConfidenceMin: 85,
			FloorMin:          82,
			FloorMax:          92,
			AdjustmentStep:    2,
			WindowSize:        20,
			RecalibrateEvery:  5,
			LowWinRate:        78.0,
			HighWinRate:       85.0,
		},
		ServerConfig: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		AuthConfig: AuthConfig{
			TokenTTLHours: 24,
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		RedisConfig: RedisConfig{
			Address: "localhost:6379",
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// LoadConfig reads configuration from a JSON file, falling back to defaults,
// then applies environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var total float64
	for _, w := range c.PrefilterConfig.Weights {
		total += w
	}
	if total < 99.9 || total > 100.1 {
		return fmt.Errorf("prefilter weights must sum to 100, got %.1f", total)
	}
	if c.BudgetConfig.DailyCallCap <= 0 {
		return fmt.Errorf("budget daily_call_cap must be positive")
	}
	if c.CalibratorConfig.FloorMin > c.CalibratorConfig.FloorMax {
		return fmt.Errorf("calibrator floor_min %d exceeds floor_max %d",
			c.CalibratorConfig.FloorMin, c.CalibratorConfig.FloorMax)
	}
	if c.CalibratorConfig.BaseConfidenceMin < c.CalibratorConfig.FloorMin ||
		c.CalibratorConfig.BaseConfidenceMin > c.CalibratorConfig.FloorMax {
		return fmt.Errorf("calibrator confidence_min must lie within [floor_min, floor_max]")
	}
	if _, err := time.LoadLocation(c.MarketConfig.Timezone); err != nil {
		return fmt.Errorf("invalid market timezone %q: %w", c.MarketConfig.Timezone, err)
	}
	if _, err := time.LoadLocation(c.BudgetConfig.ResetTimezone); err != nil {
		return fmt.Errorf("invalid budget reset timezone %q: %w", c.BudgetConfig.ResetTimezone, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.OracleConfig.APIKey = v
	}
	if v := os.Getenv("ORACLE_PROVIDER"); v != "" {
		cfg.OracleConfig.Provider = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DatabaseConfig.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.DatabaseConfig.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DatabaseConfig.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DatabaseConfig.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DatabaseConfig.Database = v
	}
	if v := os.Getenv("REDIS_ADDRESS"); v != "" {
		cfg.RedisConfig.Address = v
		cfg.RedisConfig.Enabled = true
	}
	if v := os.Getenv("VAULT_ADDR"); v != "" {
		cfg.VaultConfig.Address = v
	}
	if v := os.Getenv("VAULT_TOKEN"); v != "" {
		cfg.VaultConfig.Token = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.AuthConfig.JWTSecret = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ServerConfig.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LoggingConfig.Level = v
	}
	if v := os.Getenv("DAILY_CALL_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BudgetConfig.DailyCallCap = n
		}
	}
}

// OracleTimeout returns the advisory call timeout as a duration.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.OracleConfig.TimeoutSeconds) * time.Second
}

// FlushInterval returns the scheduler batching window as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.BudgetConfig.FlushIntervalSecs) * time.Second
}
