package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID("")(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", http.NoBody))

	if seen == "" {
		t.Fatal("expected generated request ID in context")
	}
	if len(seen) != 32 {
		t.Fatalf("id length = %d, want 32 hex chars", len(seen))
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatal("response header should echo the request ID")
	}
}

func TestRequestID_PropagatesExisting(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.Header.Set("X-Request-Id", "upstream-id")

	rec := httptest.NewRecorder()
	RequestID("X-Request-Id")(handler).ServeHTTP(rec, r)

	if seen != "upstream-id" {
		t.Fatalf("id = %q, want upstream-id", seen)
	}
	if rec.Header().Get("X-Request-Id") != "upstream-id" {
		t.Fatal("response header should echo the upstream ID")
	}
}
