package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/stint/internal/adapters/http/api"
	"github.com/okian/stint/internal/adapters/http/swagger"
	"github.com/okian/stint/internal/adapters/ws"
	app "github.com/okian/stint/internal/app"
	"github.com/okian/stint/internal/config"
	"github.com/okian/stint/internal/domain/history"
	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/internal/pipeline/sched"
	"github.com/okian/stint/internal/pipeline/sink"
	"github.com/okian/stint/pkg/logger"
	"github.com/okian/stint/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Outbound sinks: the WebSocket hub always, plus a rate-limited
	// commentary log when configured.
	hub := ws.NewHub(
		ws.WithSendBuffer(cfg.BroadcastBuffer),
		ws.WithLogger(log.Named("ws")),
	)
	defer func() { _ = hub.Close() }()

	out := sink.Multi{hub}
	if cfg.CommentaryRate > 0 {
		out = append(out, sink.NewRateLimited(commentarySink(log), cfg.CommentaryRate, cfg.CommentaryBurst))
	}

	// Create and start the service with configuration options
	svc := app.New(
		app.WithLogger(log),
		app.WithSchedulerCapacity(cfg.SchedulerCapacity),
		app.WithDropPolicy(sched.DropPolicy(cfg.DropPolicy)),
		app.WithEnrichTimeout(time.Duration(cfg.EnrichTimeoutMS)*time.Millisecond),
		app.WithGapThreshold(cfg.GapThresholdS),
		app.WithTempThreshold(cfg.TempThresholdC),
		app.WithShardCount(cfg.ShardCount),
		app.WithBudgets(budgetsFromConfig(cfg)),
		app.WithHistoryProvider(history.NewInMemoryProvider()),
		app.WithSink(out),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()

	// Register API docs under /api-docs
	swagger.Register(ctx, mux)

	// Register business API routes with the service dependency.
	apiServer := api.NewServer(svc, svc)
	apiServer.Register(ctx, mux)

	// Enriched event stream for subscribers.
	mux.HandleFunc("/stream", hub.HandleStream)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// budgetsFromConfig maps the config tier overrides onto priority options.
func budgetsFromConfig(cfg *config.Config) *priority.Budgets {
	var opts []priority.Option
	for name, ms := range cfg.TierBudgetsMS {
		if t, ok := tierByName(name); ok {
			opts = append(opts, priority.WithBudget(t, time.Duration(ms)*time.Millisecond))
		}
	}
	for name, ms := range cfg.TierWindowsMS {
		if t, ok := tierByName(name); ok {
			opts = append(opts, priority.WithWindow(t, time.Duration(ms)*time.Millisecond))
		}
	}
	return priority.NewBudgets(opts...)
}

func tierByName(name string) (model.Tier, bool) {
	switch name {
	case "CRITICAL":
		return model.TierCritical, true
	case "HIGH":
		return model.TierHigh, true
	case "MEDIUM":
		return model.TierMedium, true
	case "LOW":
		return model.TierLow, true
	}
	return "", false
}

// commentarySink logs enriched events as commentary lines; wrapped by the
// rate limiter so bursts do not flood the log.
func commentarySink(log logger.Logger) sink.Sink {
	commentary := log.Named("commentary")
	return sink.Func(func(ctx context.Context, ev model.EnrichedRaceEvent) error {
		commentary.Info(ctx, string(ev.Kind),
			logger.String("session", ev.SessionKey),
			logger.Uint64("sequence", ev.Sequence),
			logger.String("priority", string(ev.Priority)),
			logger.Any("subjects", ev.Subjects),
		)
		return nil
	})
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval) // Update every 10 seconds
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval) // Update every 5 seconds
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	// Update memory usage
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	// Update goroutine count
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	// Update GC pause time
	if m.NumGC > 0 {
		// Calculate average GC pause time
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	// GetStats refreshes the session and driver gauges as a side effect.
	stats := svc.GetStats()

	if queued, ok := stats["schedulerQueued"].(int); ok {
		metrics.UpdateSchedulerDepth(queued)
	}
	if pending, ok := stats["windowPending"].(int); ok {
		metrics.UpdateWindowPending(pending)
	}
}
