// Lookout prioritizes competitive-intelligence alerts and delivers them to
// recipients over the channels they prefer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/lookout/internal/alertapi"
	"github.com/linnemanlabs/lookout/internal/authmw"
	vc "github.com/linnemanlabs/lookout/internal/cfg"
	"github.com/linnemanlabs/lookout/internal/delivery"
	dmem "github.com/linnemanlabs/lookout/internal/delivery/memqueue"
	dmemstore "github.com/linnemanlabs/lookout/internal/delivery/memstore"
	dpg "github.com/linnemanlabs/lookout/internal/delivery/pgstore"
	"github.com/linnemanlabs/lookout/internal/delivery/redisqueue"
	"github.com/linnemanlabs/lookout/internal/llm/claude"
	"github.com/linnemanlabs/lookout/internal/notify/dashboard"
	"github.com/linnemanlabs/lookout/internal/notify/email"
	"github.com/linnemanlabs/lookout/internal/notify/slack"
	"github.com/linnemanlabs/lookout/internal/notify/sms"
	"github.com/linnemanlabs/lookout/internal/postgres"
	"github.com/linnemanlabs/lookout/internal/prefs"
	pmemstore "github.com/linnemanlabs/lookout/internal/prefs/memstore"
	ppg "github.com/linnemanlabs/lookout/internal/prefs/pgstore"
	"github.com/linnemanlabs/lookout/internal/priority"
)

const appName = "lookout"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// version metadata is reported in logs, metrics and traces
	v.AppName = appName
	v.Component = component

	vi := v.Get()

	// one config struct per package
	var (
		appCfg    vc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// command line wins over environment
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// LOOKOUT_* env vars fill in whatever the command line left unset
	cfg.FillFromEnv(flag.CommandLine, "LOOKOUT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// checks spanning more than one package
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// logger first so every later failure is structured
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)

	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"cluster_window_hours", appCfg.ClusterWindowHours,
		"dispatch_schedule", appCfg.DispatchSchedule,
	)

	// continuous profiling covers the whole process lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// shared prometheus registry for every subsystem
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Scoring configuration: built-in defaults unless an operator file is given
	scoring := priority.DefaultConfig()
	if appCfg.ScoringConfig != "" {
		scoring, err = priority.LoadConfig(appCfg.ScoringConfig)
		if err != nil {
			return fmt.Errorf("scoring config: %w", err)
		}
		L.Info(ctx, "loaded scoring config", "path", appCfg.ScoringConfig)
	}

	// Initialize the prioritization engine (pure - no store dependency).
	engine, err := priority.NewEngine(scoring, L, priority.NewMetrics(m.Registry()).Hooks())
	if err != nil {
		return fmt.Errorf("priority engine: %w", err)
	}

	// per-query DB latency, labelled with the HTTP method and chi route
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lookout_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))
	postgres.SetMinQueryLogDuration(appCfg.DBLogMinDuration)

	// Initialize the preference and delivery stores
	var (
		prefsStore    prefs.Store
		deliveryStore delivery.Store
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		ps, err := ppg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("preferences pgstore init: %w", err)
		}
		ds, err := dpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("delivery pgstore init: %w", err)
		}
		prefsStore, deliveryStore = ps, ds
		L.Info(ctx, "using postgres stores")
	} else {
		prefsStore, deliveryStore = pmemstore.New(), dmemstore.New()
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// Initialize the scheduled delivery queue. Redis lets replicas share it.
	var (
		queue      delivery.Queue
		closeQueue = func(context.Context) error { return nil }
	)
	if appCfg.RedisURL != "" {
		rq, err := redisqueue.New(ctx, appCfg.RedisURL, redisqueue.DefaultKey)
		if err != nil {
			return fmt.Errorf("redis queue: %w", err)
		}
		queue = rq
		closeQueue = func(context.Context) error { return rq.Close() }
		L.Info(ctx, "using redis delivery queue", "key", redisqueue.DefaultKey)
	} else {
		queue = dmem.New()
		L.Info(ctx, "using in-memory delivery queue (no redis-url configured)")
	}

	// Notification channels. The dashboard hub always runs since it also
	// backs the live stream endpoint; slack falls back to per-recipient webhooks.
	hub := dashboard.NewHub(L)
	svcOpts := []delivery.Option{
		delivery.WithNotifier(hub),
		delivery.WithNotifier(slack.New(appCfg.SlackWebhookURL, L)),
	}
	if appCfg.SMTPAddr != "" {
		svcOpts = append(svcOpts, delivery.WithNotifier(
			email.New(appCfg.SMTPAddr, appCfg.SMTPFrom, appCfg.SMTPUsername, appCfg.SMTPPassword, L),
		))
		L.Info(ctx, "notifier enabled", "type", "email", "smtp_addr", appCfg.SMTPAddr)
	}
	if appCfg.SMSGatewayURL != "" {
		svcOpts = append(svcOpts, delivery.WithNotifier(
			sms.New(appCfg.SMSGatewayURL, appCfg.SMSGatewayToken, L),
		))
		L.Info(ctx, "notifier enabled", "type", "sms")
	}

	// Claude writes cluster briefings when configured, otherwise the
	// template summary is used as-is.
	if appCfg.ClaudeAPIKey != "" {
		svcOpts = append(svcOpts, delivery.WithBriefer(claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)))
		L.Info(ctx, "initialized LLM briefer", "provider", "claude", "model", appCfg.ClaudeModel)
	}

	// Initialize the delivery service (owns scheduling, persistence, async dispatch).
	svc := delivery.NewService(engine, prefsStore, deliveryStore, queue, L, delivery.NewMetrics(m.Registry()), svcOpts...)

	// the in-memory queue starts empty; rebuild it from stored scheduled deliveries
	if appCfg.RedisURL == "" {
		n, err := svc.Requeue(ctx)
		if err != nil {
			return fmt.Errorf("requeue scheduled deliveries: %w", err)
		}
		if n > 0 {
			L.Info(ctx, "requeued scheduled deliveries", "count", n)
		}
	}

	// Release deferred deliveries on a schedule
	dispatcher, err := delivery.NewDispatcher(ctx, svc, appCfg.DispatchSchedule, L)
	if err != nil {
		return err
	}
	dispatcher.Start()

	// readiness flips to false once shutdown starts so the load balancer drains us
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	// ops listener: metrics, health, pprof
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// opshttp refuses public source IPs and forwarded requests; it is for internal scrapers only
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// API router
	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// http.route on logs and spans from the chi pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// method label for the DB query histogram
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	// oversized bodies get a 413
	r.Use(httpmw.MaxBody(1 << 20)) // alert batches carry recommendations, 1MB leaves room

	// health on the API listener too, for the load balancer
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes behind bearer auth
	alertapiHTTP := alertapi.New(L, svc,
		alertapi.WithClusterWindow(appCfg.ClusterWindowHours),
		alertapi.WithStream(hub),
	)
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(appCfg.APIToken))
		alertapiHTTP.RegisterRoutes(r)
	})

	// outer wrappers, innermost first. Each layer sees what the layers outside it put in the context.
	var h http.Handler = r

	// request logger carries trace_id and route
	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// server spans and trace propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = m.Middleware(h)

	// resolved client IP, honouring only the configured proxy hops
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// panics anywhere below become a logged 500
	h = httpmw.Recover(L, nil)(h)

	h = httpmw.SecurityHeaders(h)

	alertapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	alertapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, alertapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alertapi http listener")
		return err
	}
	defer func() {
		err := alertapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop alertapi http listener")
		}
	}()

	// Type=notify units wait for READY=1
	if err := notifySystemd(); err != nil {
		// not fatal: outside systemd there is no socket
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// give the load balancer time to notice; a second signal skips the wait
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Stop in order: stop accepting work, let queued and in-flight deliveries
	// finish, then release transports. The profiler stops on return via defer.
	stopAll(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"alertapi http server", alertapiHTTPStop},
		{"dispatcher", dispatcher.Stop},
		{"in-flight deliveries", func(ctx context.Context) error { return waitCtx(ctx, svc.Wait) }},
		{"dashboard hub", func(context.Context) error { hub.Close(); return nil }},
		{"delivery queue", closeQueue},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	})

	L.Info(context.Background(), "shutdown complete")
	return nil
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// stopAll runs each stop function in order with an equal slice of budget.
// Components that never started have a nil fn and are skipped.
func stopAll(L log.Logger, budget time.Duration, fns []stopFn) {
	if len(fns) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(fns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range fns {
		if s.fn == nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}

// waitCtx runs wait and returns when it does or when ctx expires.
func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
