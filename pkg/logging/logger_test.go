package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
	if cfg.Service != "jobfeed" {
		t.Errorf("Expected default service jobfeed, got %q", cfg.Service)
	}
}

func TestSetup_Levels(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	tests := []struct {
		name      string
		level     LogLevel
		debugSeen bool
		infoSeen  bool
		warnSeen  bool
	}{
		{name: "debug", level: LevelDebug, debugSeen: true, infoSeen: true, warnSeen: true},
		{name: "info", level: LevelInfo, infoSeen: true, warnSeen: true},
		{name: "warn", level: LevelWarn, warnSeen: true},
		{name: "error", level: LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(Config{Level: tt.level, Output: &buf})

			logger.Debug().Msg("debug line")
			logger.Info().Msg("info line")
			logger.Warn().Msg("warn line")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.debugSeen {
				t.Errorf("debug line present = %v, want %v", got, tt.debugSeen)
			}
			if got := strings.Contains(out, "info line"); got != tt.infoSeen {
				t.Errorf("info line present = %v, want %v", got, tt.infoSeen)
			}
			if got := strings.Contains(out, "warn line"); got != tt.warnSeen {
				t.Errorf("warn line present = %v, want %v", got, tt.warnSeen)
			}
		})
	}
}

func TestSetup_JSONFields(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	Setup(Config{Level: LevelInfo, Output: &buf, Service: "jobfeed-test"})

	logger := NewLogger("feed")
	logger.Info().Str("cache_key", "jobs:q=go").Msg("Cache hit")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	want := map[string]string{
		"service":   "jobfeed-test",
		"component": "feed",
		"cache_key": "jobs:q=go",
		"message":   "Cache hit",
		"level":     "info",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("field %s = %v, want %v", k, line[k], v)
		}
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestSetup_Pretty(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: &buf})
	logger.Info().Msg("pretty line")

	out := buf.String()
	if !strings.Contains(out, "pretty line") {
		t.Errorf("missing message in %q", out)
	}
	if strings.HasPrefix(out, "{") {
		t.Errorf("pretty output should not be JSON: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
