package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
)

func TestBuildWritesStructuredJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := build(config.LoggingConfig{Level: "debug", Output: path, JSONFormat: true})
	cl := l.With().Str("component", "widget").Logger()
	cl.Info().Str("state", "running").Msg("state change")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"component":"widget"`, `"state":"running"`, `"message":"state change"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
}

func TestBuildFallsBackToInfoOnBadLevel(t *testing.T) {
	l := build(config.LoggingConfig{Level: "chatty", Output: "stderr", JSONFormat: true})
	if l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s, want info", l.GetLevel())
	}
}

func TestComponentLoggerBindsAndChains(t *testing.T) {
	Init(config.LoggingConfig{Level: "error", Output: "stderr", JSONFormat: true})
	log := Component("widget")
	log.Info().Str("k", "v").Msg("suppressed below the root level")
	if log.GetLevel() != Root().GetLevel() {
		t.Fatalf("component level %s differs from root %s", log.GetLevel(), Root().GetLevel())
	}
}
