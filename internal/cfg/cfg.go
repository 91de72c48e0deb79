package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/metrolabs/busstop-api/internal/log"
)

// App holds all runtime configuration for the bus stop API server.
type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// sliding window admission control
	RateLimitMax    int
	RateLimitWindow time.Duration

	// X-Api-Key check on /stops routes; either a literal key or an SSM
	// parameter that holds it. Empty disables the check (dev mode).
	APIKey         string
	APIKeySSMParam string

	// dataset: local sqlite path plus either a CSV seed file or an
	// S3-published snapshot addressed by an SSM release parameter
	StopsDBPath          string
	StopsCSVPath         string
	StopsS3Bucket        string
	StopsS3Prefix        string
	StopsSSMParam        string
	DatasetSigningKeyARN string
	EnableDatasetUpdates bool

	// number of trusted reverse proxies for client IP resolution
	TrustedHops int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.IntVar(&c.RateLimitMax, "rate-limit-max", 600, "max requests per client per window")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", 60*time.Second, "sliding window size for rate limiting")
	fs.StringVar(&c.APIKey, "api-key", "", "API key required in X-Api-Key header (empty disables the check)")
	fs.StringVar(&c.APIKeySSMParam, "api-key-ssm-param", "", "ssm parameter holding the API key (overrides -api-key)")
	fs.StringVar(&c.StopsDBPath, "stops-db-path", "data/stops.db", "path to the local stops sqlite database")
	fs.StringVar(&c.StopsCSVPath, "stops-csv-path", "", "CSV file to seed the stops table from at startup")
	fs.StringVar(&c.StopsS3Bucket, "stops-s3-bucket", "", "s3 bucket holding stops dataset snapshots")
	fs.StringVar(&c.StopsS3Prefix, "stops-s3-prefix", "datasets/stops", "s3 prefix (key) for stops snapshots")
	fs.StringVar(&c.StopsSSMParam, "stops-ssm-param", "", "ssm parameter holding the current snapshot sha256")
	fs.StringVar(&c.DatasetSigningKeyARN, "dataset-signing-key-arn", "", "KMS key ARN for dataset snapshot signature verification")
	fs.BoolVar(&c.EnableDatasetUpdates, "enable-dataset-updates", false, "poll ssm for new dataset snapshots and reload")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies for X-Forwarded-For (0 ignores the header)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log level
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	// Admission control
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX must be >= 1 (got %d)", c.RateLimitMax))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive (got %s)", c.RateLimitWindow))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Dataset
	if c.StopsDBPath == "" {
		errs = append(errs, fmt.Errorf("STOPS_DB_PATH is required"))
	}
	if c.StopsS3Bucket != "" && c.StopsSSMParam == "" {
		errs = append(errs, fmt.Errorf("STOPS_SSM_PARAM is required when STOPS_S3_BUCKET is set"))
	}
	if c.EnableDatasetUpdates && c.StopsS3Bucket == "" {
		errs = append(errs, fmt.Errorf("STOPS_S3_BUCKET is required when ENABLE_DATASET_UPDATES=true"))
	}

	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
