package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrefilterConfig.Weights["trend"] = 90
	if err := cfg.Validate(); err == nil {
		t.Fatal("accepted weights not summing to 100")
	}
}

func TestValidateRejectsFloorBandInversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibratorConfig.FloorMin = 95
	if err := cfg.Validate(); err == nil {
		t.Fatal("accepted floor_min above floor_max")
	}
}

func TestValidateRejectsBaseOutsideBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibratorConfig.BaseConfidenceMin = 95
	if err := cfg.Validate(); err == nil {
		t.Fatal("accepted base confidence outside the floor band")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MarketConfig.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("accepted unknown timezone")
	}
}

func TestLoadConfigFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"budget":{"daily_call_cap":7},"market":{"symbol":"ES=F"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BudgetConfig.DailyCallCap != 7 {
		t.Fatalf("daily cap = %d, want file override 7", cfg.BudgetConfig.DailyCallCap)
	}
	if cfg.MarketConfig.Symbol != "ES=F" {
		t.Fatalf("symbol = %s", cfg.MarketConfig.Symbol)
	}
	// untouched sections keep their defaults
	if cfg.CalibratorConfig.BaseConfidenceMin != 85 {
		t.Fatalf("base confidence = %d", cfg.CalibratorConfig.BaseConfidenceMin)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORACLE_API_KEY", "sk-test")
	t.Setenv("DAILY_CALL_CAP", "11")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OracleConfig.APIKey != "sk-test" {
		t.Fatal("oracle api key env override not applied")
	}
	if cfg.BudgetConfig.DailyCallCap != 11 {
		t.Fatalf("daily cap = %d, want env override 11", cfg.BudgetConfig.DailyCallCap)
	}
}
