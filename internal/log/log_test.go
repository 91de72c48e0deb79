package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestJSONOutputCarriesAppAndFields(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(Options{App: "busstop-api", Level: slog.LevelInfo, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	lg.With("component", "server").Info(context.Background(), "hello", "port", 8080)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["app"] != "busstop-api" {
		t.Errorf("app = %v, want busstop-api", rec["app"])
	}
	if rec["component"] != "server" {
		t.Errorf("component = %v, want server", rec["component"])
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", rec["msg"])
	}
	if rec["port"] != float64(8080) {
		t.Errorf("port = %v, want 8080", rec["port"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(Options{App: "t", Level: slog.LevelWarn, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	lg.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record should be dropped at warn level, got %s", buf.String())
	}

	lg.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatal("warn record should be emitted")
	}
}

func TestErrorChainAttr(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(Options{App: "t", Level: slog.LevelInfo, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	inner := errors.New("root cause")
	lg.Error(context.Background(), &wrapped{inner, "outer"}, "failed")

	out := buf.String()
	if !strings.Contains(out, "root cause") || !strings.Contains(out, "error_chain") {
		t.Fatalf("expected error_chain with root cause, got %s", out)
	}
}

type wrapped struct {
	err error
	msg string
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestNopLoggerIsSafe(t *testing.T) {
	l := Nop()
	l.With("k", "v").Info(context.Background(), "nothing")
	if err := l.Sync(); err != nil {
		t.Fatal(err)
	}
}

func TestFromContextFallsBackToNop(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext should never return nil")
	}

	var buf bytes.Buffer
	real, _ := New(Options{App: "t", JsonFormat: true, Writer: &buf})
	ctx := WithContext(context.Background(), real)
	if FromContext(ctx) != real {
		t.Fatal("FromContext should return the stored logger")
	}
}
