package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/metrolabs/busstop-api/internal/cfg"
	"github.com/metrolabs/busstop-api/internal/cryptoutil"
	"github.com/metrolabs/busstop-api/internal/dataset"
	"github.com/metrolabs/busstop-api/internal/health"
	"github.com/metrolabs/busstop-api/internal/httpmw"
	"github.com/metrolabs/busstop-api/internal/httpserver"
	"github.com/metrolabs/busstop-api/internal/log"
	"github.com/metrolabs/busstop-api/internal/metrics"
	"github.com/metrolabs/busstop-api/internal/opshttp"
	"github.com/metrolabs/busstop-api/internal/otelx"
	"github.com/metrolabs/busstop-api/internal/prof"
	"github.com/metrolabs/busstop-api/internal/ratelimit"
	"github.com/metrolabs/busstop-api/internal/stops"
	"github.com/metrolabs/busstop-api/internal/stopshttp"
	v "github.com/metrolabs/busstop-api/internal/version"
)

const appName = "busstop-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix BUSSTOP_ and validate
	cfg.FillFromEnv(flag.CommandLine, "BUSSTOP_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        appName,
		Version:    vi.Version,
		Commit:     vi.Commit,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_dataset_updates", conf.EnableDatasetUpdates,
		"rate_limit_max", conf.RateLimitMax,
		"rate_limit_window", conf.RateLimitWindow,
		"stops_db_path", conf.StopsDBPath,
		"stops_csv_path", conf.StopsCSVPath,
		"stops_s3_bucket", conf.StopsS3Bucket,
		"stops_s3_prefix", conf.StopsS3Prefix,
		"stops_ssm_param", conf.StopsSSMParam,
		"dataset_signing_key_arn", conf.DatasetSigningKeyARN,
		"trusted_hops", conf.TrustedHops,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// AWS clients are only needed for the S3 dataset pipeline and SSM-held
	// secrets; local CSV setups never touch AWS.
	useS3Dataset := conf.StopsSSMParam != "" && conf.StopsS3Bucket != ""
	var awsCfg aws.Config
	if useS3Dataset || conf.APIKeySSMParam != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	// Resolve the API key, possibly from SSM
	apiKey := conf.APIKey
	if conf.APIKeySSMParam != "" {
		out, err := ssm.NewFromConfig(awsCfg).GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(conf.APIKeySSMParam),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			L.Error(ctx, err, "failed to fetch api key from ssm", "param", conf.APIKeySSMParam)
			os.Exit(1)
		}
		apiKey = aws.ToString(out.Parameter.Value)
	}
	if apiKey == "" {
		L.Warn(ctx, "no api key configured, /stops routes are unauthenticated")
	}

	// Open the stops store
	store, err := stops.Open(ctx, conf.StopsDBPath)
	if err != nil {
		L.Error(ctx, err, "failed to open stops store", "path", conf.StopsDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// Load the dataset: local CSV seed, or an S3-published snapshot
	// addressed by the hash held in an SSM release parameter.
	switch {
	case conf.StopsCSVPath != "":
		rows, err := dataset.LoadCSVFile(ctx, store, conf.StopsCSVPath)
		if err != nil {
			L.Error(ctx, err, "failed to load stops csv", "path", conf.StopsCSVPath)
			os.Exit(1)
		}
		m.SetDatasetSource(dataset.SourceCSV)
		m.SetDatasetRows(int64(rows))
		m.SetDatasetLoadedTimestamp(time.Now())
		L.Info(ctx, "loaded stops dataset from csv", "path", conf.StopsCSVPath, "rows", rows)

	case useS3Dataset:
		var verifier dataset.SignatureVerifier
		if conf.DatasetSigningKeyARN != "" {
			verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.DatasetSigningKeyARN)
		}
		loader, err := dataset.NewLoader(ctx, dataset.LoaderOptions{
			Logger:    L,
			SSMParam:  conf.StopsSSMParam,
			S3Bucket:  conf.StopsS3Bucket,
			S3Prefix:  conf.StopsS3Prefix,
			Verifier:  verifier,
			AWSConfig: &awsCfg,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create dataset loader")
			os.Exit(1)
		}
		snap, err := loader.LoadIntoStore(ctx, store)
		if err != nil {
			// no dataset means nothing to serve, fail early and let
			// systemd restart us
			L.Error(ctx, err, "failed to load stops snapshot from s3")
			os.Exit(1)
		}
		m.SetDatasetSource(dataset.SourceS3)
		m.SetDatasetRows(int64(len(snap.Rows)))
		m.SetDatasetSnapshot(snap.SHA256)
		m.SetDatasetLoadedTimestamp(snap.LoadedAt)
		L.Info(ctx, "loaded stops dataset from s3", "rows", len(snap.Rows), "sha256", snap.SHA256)

		if conf.EnableDatasetUpdates {
			watcher := dataset.NewWatcher(&dataset.WatcherOptions{
				Logger:       L,
				Loader:       loader,
				Store:        store,
				PollInterval: dataset.DefaultPollInterval,
				CurrentHash:  snap.SHA256,
				Metrics:      m,
				OnSwap: func(snap *dataset.Snapshot) {
					m.SetDatasetRows(int64(len(snap.Rows)))
					m.SetDatasetSnapshot(snap.SHA256)
					m.SetDatasetLoadedTimestamp(snap.LoadedAt)
				},
			})
			go func() { _ = watcher.Run(ctx) }()
		}

	default:
		// rely on whatever a previous run left in the sqlite file;
		// readiness holds us out of rotation if it's empty
		if err := store.Ready(ctx); err != nil {
			L.Warn(ctx, "no dataset source configured and store is not ready", "error", err)
		} else {
			n, _ := store.Count(ctx)
			m.SetDatasetRows(n)
			L.Info(ctx, "serving existing stops dataset", "path", conf.StopsDBPath, "rows", n)
		}
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness needs both the shutdown gate open and a queryable dataset
	readiness := health.Multi(
		gate.Probe(),
		health.Func(store.Ready),
	)

	// Sliding-window rate limiter keyed by resolved client IP
	limiter := ratelimit.New(
		ratelimit.WithLimit(conf.RateLimitMax, conf.RateLimitWindow),
		ratelimit.WithOnDenied(func(clientID string) {
			m.IncRateLimitDenied()
		}),
		// only log the first denial of a streak to avoid log spam
		ratelimit.WithOnFirstDenied(func(clientID string) {
			m.IncRateLimitClientDenied()
			L.Warn(ctx, "rate limit triggered", "client", clientID)
		}),
	)

	resolver := stops.NewResolver(store, L)
	stopsAPI := stopshttp.NewAPI(store, resolver, L, m)

	// start public API server
	apiHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      func(method, route string) { m.IncHttpPanic() },
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		APIKey:       apiKey,
		Status:       stopshttp.StatusHandler(appName, vi.Version, startedAt),
		APIRoutes:    stopsAPI.RegisterRoutes,
		Health:       health.Static(true, ""),
		Readiness:    readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof
	// sg restricts inbound to internal monitoring infrastructure
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Static(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections before closing listeners
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(15 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	if err := store.Close(); err != nil {
		L.Error(context.Background(), err, "stops store close")
	}

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
