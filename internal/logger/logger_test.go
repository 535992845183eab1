package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWriter_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := Logger{Level: "warn", Format: "json"}.SetupWriter(&buf)

	log.Info().Msg("hidden")
	log.Warn().Str("stage", "writing").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %q", buf.String())
	}
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if event["message"] != "shown" || event["stage"] != "writing" || event["level"] != "warn" {
		t.Errorf("unexpected event %v", event)
	}
}

func TestSetupWriter_Console(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	log := Logger{Level: "bogus", Format: "console", NoColor: true}.SetupWriter(&buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level for an unknown name, got %v", zerolog.GlobalLevel())
	}
	log.Info().Str("path", "out.shp").Msg("Output written")
	if got := buf.String(); !strings.Contains(got, "Output written") || !strings.Contains(got, "path=out.shp") {
		t.Errorf("unexpected console output %q", got)
	}
}
