package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if c.RateLimitMax != 600 {
		t.Errorf("RateLimitMax: want 600, got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow != 60*time.Second {
		t.Errorf("RateLimitWindow: want 60s, got %s", c.RateLimitWindow)
	}
	if c.StopsDBPath != "data/stops.db" {
		t.Errorf("StopsDBPath: want data/stops.db, got %q", c.StopsDBPath)
	}
	if c.EnableDatasetUpdates {
		t.Error("EnableDatasetUpdates: want false")
	}
	if c.TrustedHops != 0 {
		t.Errorf("TrustedHops: want 0, got %d", c.TrustedHops)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-level=debug",
		"-http-port=9090",
		"-admin-port=9100",
		"-rate-limit-max=100",
		"-rate-limit-window=30s",
		"-api-key=sekrit",
		"-stops-db-path=/tmp/stops.db",
		"-stops-csv-path=/tmp/stops.csv",
		"-trusted-hops=1",
	})

	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want debug, got %q", c.LogLevel)
	}
	if c.HTTPPort != 9090 || c.AdminPort != 9100 {
		t.Errorf("ports: got %d/%d", c.HTTPPort, c.AdminPort)
	}
	if c.RateLimitMax != 100 {
		t.Errorf("RateLimitMax: want 100, got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow != 30*time.Second {
		t.Errorf("RateLimitWindow: want 30s, got %s", c.RateLimitWindow)
	}
	if c.APIKey != "sekrit" {
		t.Errorf("APIKey: got %q", c.APIKey)
	}
	if c.StopsCSVPath != "/tmp/stops.csv" {
		t.Errorf("StopsCSVPath: got %q", c.StopsCSVPath)
	}
	if c.TrustedHops != 1 {
		t.Errorf("TrustedHops: got %d", c.TrustedHops)
	}
}

func TestFillFromEnv_Precedence(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=7000"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BUSSTOP_HTTP_PORT", "7100")
	t.Setenv("BUSSTOP_ADMIN_PORT", "7200")

	FillFromEnv(fs, "BUSSTOP_", nil)

	// cli wins over env
	if c.HTTPPort != 7000 {
		t.Errorf("HTTPPort: cli should win, got %d", c.HTTPPort)
	}
	// env wins over default
	if c.AdminPort != 7200 {
		t.Errorf("AdminPort: env should apply, got %d", c.AdminPort)
	}
}

func TestFillFromEnv_InvalidValueKeepsPrevious(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BUSSTOP_HTTP_PORT", "not-a-number")
	FillFromEnv(fs, "BUSSTOP_", nil)

	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: invalid env should keep default, got %d", c.HTTPPort)
	}
}

func TestValidate(t *testing.T) {
	valid := newTestConfig(t, nil)
	if err := Validate(valid); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*App)
		sub  string
	}{
		{"bad http port", func(c *App) { c.HTTPPort = 0 }, "HTTP_PORT"},
		{"bad admin port", func(c *App) { c.AdminPort = 70000 }, "ADMIN_PORT"},
		{"same ports", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"bad level", func(c *App) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"zero rate limit", func(c *App) { c.RateLimitMax = 0 }, "RATE_LIMIT_MAX"},
		{"zero window", func(c *App) { c.RateLimitWindow = 0 }, "RATE_LIMIT_WINDOW"},
		{"bad sample", func(c *App) { c.TraceSample = 1.5 }, "TRACE_SAMPLE"},
		{"pyro without server", func(c *App) { c.EnablePyroscope = true }, "PYRO_SERVER"},
		{"tracing without endpoint", func(c *App) { c.EnableTracing = true }, "OTLP_ENDPOINT"},
		{"tracing with scheme", func(c *App) { c.EnableTracing = true; c.OTLPEndpoint = "http://otel:4317" }, "OTLP_ENDPOINT"},
		{"empty db path", func(c *App) { c.StopsDBPath = "" }, "STOPS_DB_PATH"},
		{"s3 without ssm", func(c *App) { c.StopsS3Bucket = "b" }, "STOPS_SSM_PARAM"},
		{"updates without s3", func(c *App) { c.EnableDatasetUpdates = true }, "STOPS_S3_BUCKET"},
		{"negative hops", func(c *App) { c.TrustedHops = -1 }, "TRUSTED_HOPS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestConfig(t, nil)
			tc.mut(&c)
			wantErrContains(t, Validate(c), tc.sub)
		})
	}
}
