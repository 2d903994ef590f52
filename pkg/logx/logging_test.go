package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["err"] != "boom" {
		t.Fatalf("unexpected line: %v", m)
	}
	if n, _ := m["n"].(float64); n != 3 {
		t.Fatalf("n = %v, want 3", m["n"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error should be enabled")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	Nop().Warn("still nothing")
}

func TestFormatLine(t *testing.T) {
	got := formatLine([]byte(`{"level":"warn","message":"menu delete failed","season":7,"chat":-100}`))
	want := "[WARN] menu delete failed\n- chat=-100\n- season=7"
	if got != want {
		t.Fatalf("formatLine = %q, want %q", got, want)
	}
	if raw := formatLine([]byte("not json")); raw != "not json" {
		t.Fatalf("raw passthrough = %q", raw)
	}
	if long := truncate(strings.Repeat("x", 50), 20); len(long) != 20 || !strings.HasSuffix(long, "...") {
		t.Fatalf("truncate = %q", long)
	}
}

type lineRecorder struct {
	lines chan string
}

func (r *lineRecorder) SendLogLine(ctx context.Context, chatID int64, threadID int, text string) error {
	if chatID != -500 || threadID != 3 {
		return errors.New("wrong target")
	}
	r.lines <- text
	return nil
}

func TestTelegramSinkForwardsAboveMinLevel(t *testing.T) {
	rec := &lineRecorder{lines: make(chan string, 4)}
	sink := NewTelegramSink(rec)
	sink.apply(TelegramConfig{Enabled: true, ChatID: -500, ThreadID: 3, MinLevel: "warn", RatePerSec: 10})
	defer sink.close()

	_, _ = sink.WriteLevel(zerolog.InfoLevel, []byte(`{"level":"info","message":"quiet"}`))
	_, _ = sink.WriteLevel(zerolog.WarnLevel, []byte(`{"level":"warn","message":"loud"}`))

	select {
	case got := <-rec.lines:
		if got != "[WARN] loud" {
			t.Fatalf("line = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no line forwarded")
	}
	select {
	case extra := <-rec.lines:
		t.Fatalf("unexpected line %q", extra)
	case <-time.After(20 * time.Millisecond):
	}
}
