package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/metrolabs/busstop-api/internal/log"
)

// infoSpy captures Info calls for access logging assertions.
type infoSpy struct {
	log.Logger
	mu    sync.Mutex
	lines []spyLine
}

type spyLine struct {
	msg string
	kv  []any
}

func newInfoSpy() *infoSpy {
	return &infoSpy{Logger: log.Nop()}
}

func (s *infoSpy) With(kv ...any) log.Logger { return s }

func (s *infoSpy) Info(ctx context.Context, msg string, kv ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, spyLine{msg: msg, kv: kv})
}

func (s *infoSpy) kvValue(line spyLine, key string) (any, bool) {
	for i := 0; i+1 < len(line.kv); i += 2 {
		if line.kv[i] == key {
			return line.kv[i+1], true
		}
	}
	return nil, false
}

func TestAccessLog_EmitsOneLine(t *testing.T) {
	spy := newInfoSpy()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	h := Chain(handler, WithLogger(spy), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/stops?limit=5", http.NoBody))

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(spy.lines))
	}
	line := spy.lines[0]
	if line.msg != "http request" {
		t.Fatalf("msg = %q", line.msg)
	}
	if v, ok := spy.kvValue(line, "http.response.status_code"); !ok || v != http.StatusTeapot {
		t.Fatalf("status_code = %v", v)
	}
	if v, ok := spy.kvValue(line, "http.response.body.size"); !ok || v != int64(len("short and stout")) {
		t.Fatalf("body.size = %v", v)
	}
}

func TestAccessLog_SkipsHealthEndpoints(t *testing.T) {
	spy := newInfoSpy()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Chain(handler, WithLogger(spy), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/-/healthy", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/-/ready", http.NoBody))

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.lines) != 0 {
		t.Fatalf("health probes should not be logged, got %d lines", len(spy.lines))
	}
}

func TestResponseWriter_DefaultsTo200(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	spy := newInfoSpy()
	h := Chain(handler, WithLogger(spy), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	spy.mu.Lock()
	defer spy.mu.Unlock()
	if len(spy.lines) != 1 {
		t.Fatalf("got %d lines", len(spy.lines))
	}
	if v, _ := spy.kvValue(spy.lines[0], "http.response.status_code"); v != http.StatusOK {
		t.Fatalf("implicit status = %v, want 200", v)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.Header.Set("X-Forwarded-Proto", "https, http")
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("got %q, want https", got)
	}

	r = httptest.NewRequest("GET", "/", http.NoBody)
	r.URL.Scheme = ""
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("got %q, want http fallback", got)
	}
}
