package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}

	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := newFanoutHandler(infoHandler, debugHandler)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug when any handler accepts it")
	}

	slog.New(h).Debug("debug only message")

	if infoBuf.Len() != 0 {
		t.Error("info handler should not receive debug messages")
	}
	if debugBuf.Len() == 0 {
		t.Error("debug handler should receive debug messages")
	}
}

func TestFanoutHandlerWithAttrsAndGroup(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := newFanoutHandler(slog.NewJSONHandler(&buf1, nil), slog.NewJSONHandler(&buf2, nil))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("key", "value")}).WithGroup("batch"))
	logger.Info("test", slog.Int("size", 3))

	for i, buf := range []*bytes.Buffer{&buf1, &buf2} {
		out := buf.String()
		if !strings.Contains(out, `"key":"value"`) {
			t.Errorf("buffer %d missing attr: %s", i, out)
		}
		if !strings.Contains(out, `"batch":{"size":3}`) {
			t.Errorf("buffer %d missing group: %s", i, out)
		}
	}
}

func TestTeeLogger(t *testing.T) {
	var baseBuf, teeBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, nil))
	TeeLogger(base, slog.NewJSONHandler(&teeBuf, nil)).Info("teed message")

	if baseBuf.Len() == 0 || teeBuf.Len() == 0 {
		t.Fatalf("expected output in both buffers, base=%q tee=%q", baseBuf.String(), teeBuf.String())
	}

	teeBuf.Reset()
	TeeLogger(nil, slog.NewJSONHandler(&teeBuf, nil)).Info("no base")
	if teeBuf.Len() == 0 {
		t.Fatal("expected output with nil base")
	}
}

func TestWithSessionStampsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSession(slog.New(slog.NewJSONHandler(&buf, nil)), "run-1")
	logger.With("component", "daemon").Info("started")

	if !strings.Contains(buf.String(), `"session_id":"run-1"`) {
		t.Fatalf("expected session id in output, got %s", buf.String())
	}
	if WithSession(nil, "x") == nil {
		t.Fatal("expected nop logger for nil base")
	}
}

func TestPrettyHandlerRendersSubjectAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("batch delivered",
		slog.String(FieldComponent, "dispatcher"),
		slog.String(FieldCycleID, "0123456789abcdef"),
		slog.Int(FieldBatchSize, 2),
		slog.String(FieldCorrelationID, "hidden"),
	)

	out := buf.String()
	for _, want := range []string{"INFO [dispatcher] Cycle 01234567 – batch delivered", "- Batch size: 2", "+ 1 more field hidden"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "cycle_id") {
		t.Fatalf("subject fields should not repeat as bullets:\n%s", out)
	}
}

func TestComposeSubject(t *testing.T) {
	tests := []struct {
		cycle, item, want string
	}{
		{"", "", ""},
		{"abc", "", "Cycle abc"},
		{"", "7", "Item #7"},
		{"abcdefghijk", "7", "Cycle abcdefgh · Item #7"},
	}
	for _, tt := range tests {
		if got := composeSubject(tt.cycle, tt.item); got != tt.want {
			t.Errorf("composeSubject(%q, %q) = %q, want %q", tt.cycle, tt.item, got, tt.want)
		}
	}
}
