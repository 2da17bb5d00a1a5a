package wlog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesOneJSONLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.now = func() time.Time { return time.Unix(0, 0) }

	l.Info("worker.bind", Fields{"socket_path": "/tmp/x.sock"})
	l.Error("worker.accept_failed", Fields{"err": "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}

	var rec record
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Level != LevelInfo || rec.Event != "worker.bind" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Fields["socket_path"] != "/tmp/x.sock" {
		t.Fatalf("missing field: %+v", rec.Fields)
	}
}

func TestNilLoggerIsANoop(t *testing.T) {
	var l *Logger
	l.Info("should not panic", nil)
}
