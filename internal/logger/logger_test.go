package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, "debug"), "judge")
	log.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "judge" || line["message"] != "hello" {
		t.Fatalf("unexpected fields %+v", line)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	_ = New(&buf, "loud")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info, got %s", zerolog.GlobalLevel())
	}
}

func TestRotatingFileWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.log")
	w := RotatingFile(path)
	log := New(w, "info")
	log.Warn().Str("session", "s-1").Msg("persist timer")
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !bytes.Contains(data, []byte(`"session":"s-1"`)) {
		t.Fatalf("log file missing entry: %s", data)
	}
}
