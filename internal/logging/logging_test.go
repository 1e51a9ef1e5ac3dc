package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("slot_id", "s1").Msg("slot created")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["slot_id"] != "s1" || entry["service"] != "anomalyops" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupDevelopmentIsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("development", &buf)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
}

func TestSetupLevelOverride(t *testing.T) {
	t.Setenv("ANOMALYOPS_LOG_LEVEL", "WARN")
	logger := SetupWithWriter("development", &bytes.Buffer{})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
}
