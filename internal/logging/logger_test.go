package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/calvinalkan/tagstore/internal/logging"
)

func Test_New_Writes_JSON_When_Format_Is_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log, err := logging.New(&buf, "info", logging.FormatJSON)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info().Str("group", "team1").Msg("reloaded")
	log.Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d, want 1 (debug filtered): %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", lines[0], err)
	}

	if entry["group"] != "team1" || entry["message"] != "reloaded" || entry["level"] != "info" {
		t.Fatalf("entry=%v, want group/message/level fields", entry)
	}

	if _, ok := entry["time"]; !ok {
		t.Fatalf("entry=%v, want time field", entry)
	}
}

func Test_New_Writes_Console_Lines_By_Default(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log, err := logging.New(&buf, "debug", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Debug().Msg("scan complete")

	if got := buf.String(); !strings.Contains(got, "scan complete") || strings.HasPrefix(got, "{") {
		t.Fatalf("output=%q, want console line", got)
	}
}

func Test_New_Returns_Error_When_Level_Or_Format_Unknown(t *testing.T) {
	t.Parallel()

	if _, err := logging.New(&bytes.Buffer{}, "loud", ""); !errors.Is(err, logging.ErrInvalidLevel) {
		t.Fatalf("level: err=%v, want %v", err, logging.ErrInvalidLevel)
	}

	if _, err := logging.New(&bytes.Buffer{}, "info", "xml"); !errors.Is(err, logging.ErrInvalidFormat) {
		t.Fatalf("format: err=%v, want %v", err, logging.ErrInvalidFormat)
	}
}
