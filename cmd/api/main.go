package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookpipeline/internal/batch"
	"bookpipeline/internal/catalog"
	"bookpipeline/internal/debuglog"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/health"
	"bookpipeline/internal/httpx"
	"bookpipeline/internal/ledger"
	"bookpipeline/internal/platform/callbacktoken"
	"bookpipeline/internal/platform/logging"
	"bookpipeline/internal/platform/workerapi"
	"bookpipeline/internal/recovery"
	"bookpipeline/internal/run"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	loadEnvFiles()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logBuffer := debuglog.NewBuffer(cfg.DebugLogCapacity)
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stderr,
		debuglog.NewHandler(logBuffer, slog.LevelDebug))
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage unavailable", "dsn", redactDSN(cfg.DSN), "error", err)
		os.Exit(1)
	}
	defer st.close()

	batches := batch.NewService(st.batches, logger)
	catalogSvc := catalog.NewService(st.catalog, logger)

	var callbacks *callbacktoken.Issuer
	runCfg := run.Config{MissLimit: cfg.MissLimit}
	if cfg.InternalSecret != "" {
		callbacks = callbacktoken.NewIssuer(cfg.InternalSecret, cfg.CallbackTTL)
		runCfg.Callbacks = callbacks
	}
	coord := run.NewCoordinator(st.runs, newRouterExecutor(cfg, logger), batches, st.items, runCfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	agg := health.NewAggregator(cfg.HealthWindow)
	coord.SetObserver(agg)
	rules, err := health.NewRuleSet(cfg.HealthRulesFile, logger)
	if err != nil {
		logger.Error("load alert rules", "path", cfg.HealthRulesFile, "error", err)
		os.Exit(1)
	}
	if err := rules.Watch(ctx); err != nil {
		logger.Warn("alert rules will not hot reload", "error", err)
	}
	monitor := health.NewMonitor(agg, batches, rules, reg, logger)

	guard := recovery.NewGuard()
	resume := recovery.NewResumeEngine(batches, st.items, coord, st.runs, guard, logger)
	rollback := recovery.NewRollbackEngine(batches, st.items, catalogSvc, guard, recovery.Config{}, logger)

	scheduler, err := startReconciler(cfg.ReconcileSchedule, coord, logger)
	if err != nil {
		logger.Error("invalid reconcile schedule", "schedule", cfg.ReconcileSchedule, "error", err)
		os.Exit(1)
	}
	defer func() { <-scheduler.Stop().Done() }()

	handler := newRouter(handlers{
		runs:     run.NewHTTPHandler(coord),
		batches:  batch.NewHTTPHandler(batches),
		recovery: recovery.NewHTTPHandler(resume, rollback),
		catalog:  catalog.NewHTTPHandler(catalogSvc),
		health:   health.NewHTTPHandler(monitor),
		logs:     debuglog.NewHTTPHandler(logBuffer),
		metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ready:    st.ping,
	}, routerOptions{
		internalSecret: cfg.InternalSecret,
		callbacks:      callbacks,
		allowedOrigins: cfg.AllowedOrigins,
		rateLimit:      httpx.NewRateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		maxBodyBytes:   1 << 20,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("starting server", "addr", cfg.Addr, "storage", st.kind)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouterExecutor(cfg Config, logger *slog.Logger) *executor.Router {
	rc := executor.RouterConfig{WorkDir: cfg.LocalWorkDir, QueuePrefix: cfg.QueuePrefix, Logger: logger}
	if cfg.LocalCommand != "" {
		rc.Local = executor.NewLocalExecutor(executor.LocalConfig{
			Command: cfg.LocalCommand,
			Args:    cfg.LocalArgs,
			WorkDir: cfg.LocalWorkDir,
			Logger:  logger,
		})
	}
	if cfg.WorkerBaseURL != "" {
		client := workerapi.NewClient(workerapi.Config{
			BaseURL:    cfg.WorkerBaseURL,
			Token:      cfg.WorkerToken,
			RPS:        cfg.WorkerRPS,
			MaxRetries: cfg.WorkerMaxRetries,
		})
		rc.Remote = executor.NewRemoteExecutor(client, logger)
	}
	return executor.NewRouter(rc)
}

// startReconciler polls every active run on schedule so that runs nobody
// is watching still reach a terminal state.
func startReconciler(schedule string, coord *run.Coordinator, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		report, err := coord.ReconcileActive(ctx)
		if err != nil {
			logger.Error("reconcile active runs", "error", err)
			return
		}
		if report.Polled > 0 {
			logger.Debug("reconciled active runs", "polled", report.Polled, "failed", report.Failed)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

type storage struct {
	kind    string
	batches batch.Repository
	runs    run.Repository
	items   ledger.Repository
	catalog catalog.Repository
	ping    func(ctx context.Context) error
	close   func()
}

// openStorage uses Postgres when DB_DSN is set and in-memory stores
// otherwise.
func openStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage, error) {
	if cfg.DSN == "" {
		logger.Warn("DB_DSN not set, using in-memory storage")
		return storage{
			kind:    "memory",
			batches: batch.NewMemoryRepo(),
			runs:    run.NewMemoryRepo(),
			items:   ledger.NewMemoryRepo(),
			catalog: catalog.NewMemoryRepo(),
			close:   func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return storage{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return storage{}, err
	}
	logger.Info("database connection OK", "dsn", redactDSN(cfg.DSN))

	return storage{
		kind:    "postgres",
		batches: batch.NewPostgresRepo(pool, cfg.DBTimeout),
		runs:    run.NewPostgresRepo(pool, cfg.DBTimeout),
		items:   ledger.NewPostgresRepo(pool, cfg.DBTimeout),
		catalog: catalog.NewPostgresRepo(pool, cfg.DBTimeout),
		ping:    pool.Ping,
		close:   pool.Close,
	}, nil
}
