package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr_NoTrustedHops(t *testing.T) {
	// TrustedHops=0 means no proxies: X-Forwarded-For is always ignored,
	// headers are cleared for defense in depth.
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "private IP ignores XFF when no trusted hops",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			want:       "10.0.0.1",
		},
		{
			name:       "public IP ignores XFF",
			remoteAddr: "203.0.113.1:1234",
			xff:        "10.0.0.1",
			want:       "203.0.113.1",
		},
		{
			name:       "loopback ignores XFF",
			remoteAddr: "127.0.0.1:1234",
			xff:        "198.51.100.7",
			want:       "127.0.0.1",
		},
		{
			name:       "no XFF returns RemoteAddr IP",
			remoteAddr: "10.0.0.1:1234",
			xff:        "",
			want:       "10.0.0.1",
		},
		{
			name:       "IPv6 private ignores XFF when no trusted hops",
			remoteAddr: "[fd00::1]:1234",
			xff:        "2001:db8::1",
			want:       "fd00::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			got := extractRealClientAddr(r, 0)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if r.Header.Get("X-Forwarded-For") != "" {
				t.Fatal("X-Forwarded-For should be stripped when untrusted")
			}
		})
	}
}

func TestExtractRealClientAddr_TrustedHops(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
	}{
		{
			name:       "single ALB takes rightmost entry",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			hops:       1,
			want:       "203.0.113.50",
		},
		{
			name:       "single ALB with spoofed prefix still takes rightmost",
			remoteAddr: "10.0.0.1:1234",
			xff:        "198.51.100.99, 203.0.113.50",
			hops:       1,
			want:       "203.0.113.50",
		},
		{
			name:       "CDN plus ALB takes second from end",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50, 198.51.100.10",
			hops:       2,
			want:       "203.0.113.50",
		},
		{
			name:       "fewer entries than hops fails closed",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			hops:       3,
			want:       "10.0.0.1",
		},
		{
			name:       "garbage XFF entry falls back to peer",
			remoteAddr: "10.0.0.1:1234",
			xff:        "not-an-ip",
			hops:       1,
			want:       "10.0.0.1",
		},
		{
			name:       "public peer never trusts XFF regardless of hops",
			remoteAddr: "203.0.113.1:1234",
			xff:        "198.51.100.5",
			hops:       1,
			want:       "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			got := extractRealClientAddr(r, tt.hops)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractRealClientAddr_Malformed(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.RemoteAddr = ""
	if got := extractRealClientAddr(r, 0); got != "0.0.0.0" {
		t.Fatalf("empty remote addr: got %q", got)
	}

	r = httptest.NewRequest("GET", "/", http.NoBody)
	r.RemoteAddr = "garbage:9:9"
	if got := extractRealClientAddr(r, 0); got == "" {
		t.Fatal("malformed remote addr should still return something")
	}
}

func TestClientIP_ContextRoundTrip(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIPFromContext(r.Context())
	})

	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.RemoteAddr = "10.0.0.9:5555"
	ClientIP(handler).ServeHTTP(httptest.NewRecorder(), r)

	if seen != "10.0.0.9" {
		t.Fatalf("context IP = %q, want 10.0.0.9", seen)
	}
}

func TestClientIPFromContext_Empty(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	// empty IP is not stored
	ctx := WithClientIP(context.Background(), "")
	if got := ClientIPFromContext(ctx); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
