package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/cmd/gateway/internal/handlers"
	"github.com/Kocoro-lab/Shannon/go/coverage/cmd/gateway/internal/middleware"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/completion"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/config"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/health"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/pipeline"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/quota"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/registry"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/resolver"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/coverage/internal/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	health.Version = version
	cfg.Observability.Tracing.Version = version
	shutdownTracing, err := tracing.Initialize(cfg.Observability.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without export", zap.Error(err))
	}

	reg, err := loadRegistry(cfg.Registry.Path)
	if err != nil {
		logger.Fatal("Failed to load publisher registry", zap.Error(err))
	}
	logger.Info("Publisher registry loaded",
		zap.Int("version", reg.Version()),
		zap.Int("entries", reg.Len()),
	)

	validator := validation.NewValidator()
	validator.Threshold = cfg.Validation.LanguageThreshold

	hm := health.NewManager(logger)

	resolverOpts := []resolver.Option{
		resolver.WithTimeout(cfg.Resolver.Timeout),
		resolver.WithValidator(validator),
		resolver.WithHostLimiter(resolver.NewHostLimiter(cfg.Resolver.HostRate, cfg.Resolver.HostBurst)),
	}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Invalid redis URL", zap.Error(err))
		}
		cache := resolver.NewRedisCache(redis.NewClient(opts), cfg.Resolver.CacheTTL, logger)
		defer cache.Close()
		resolverOpts = append(resolverOpts, resolver.WithCache(cache))
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(cache, logger))
		logger.Info("Resolution cache enabled", zap.Duration("ttl", cfg.Resolver.CacheTTL))
	}
	res := resolver.New(logger, resolverOpts...)

	processor := citations.NewProcessor(res, reg, logger,
		citations.WithMaxCitations(cfg.Citations.MaxCitations),
		citations.WithConcurrency(cfg.Citations.Concurrency),
		citations.WithItemTimeout(cfg.Citations.ItemTimeout),
		citations.WithValidator(validator),
	)

	completer := completion.NewHTTPClient(cfg.Completion.BaseURL, cfg.Completion.Timeout, cfg.CircuitBreaker.Completion, logger)
	_ = hm.RegisterChecker(health.NewLLMServiceHealthChecker(cfg.Completion.BaseURL, completer.Ready, logger))

	secret := cfg.Quota.CookieSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("No cookie secret configured; usage cookies will not survive a restart")
	}
	cookies := quota.NewCookieCodec(cfg.Quota.CookieName, secret, cfg.Quota.SecureCookie)

	controller := pipeline.NewController(
		quota.NewGuard(cfg.Quota.DailyLimit),
		completer,
		processor,
		reg,
		logger,
		pipeline.WithCompletionTimeout(cfg.Completion.Timeout),
	)

	coverageHandler := handlers.NewCoverageHandler(controller, cookies, logger)
	healthHandler := health.NewHTTPHandler(hm, logger)
	tracingMiddleware := middleware.NewTracingMiddleware(logger).Middleware

	// Setup HTTP mux
	mux := http.NewServeMux()
	healthHandler.RegisterRoutes(mux)
	mux.Handle("POST /api/v1/coverage", tracingMiddleware(http.HandlerFunc(coverageHandler.Coverage)))

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      middleware.CORS(cfg.Server.AllowedOrigins)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Observability.Metrics.Enabled {
		circuitbreaker.StartMetricsCollection(ctx, 15*time.Second)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Observability.Metrics.Port),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Metrics server listening", zap.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Start server in goroutine
	go func() {
		logger.Info("Gateway starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("version", version),
			zap.String("completion_url", cfg.Completion.BaseURL),
			zap.Int("daily_limit", cfg.Quota.DailyLimit),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start gateway", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Gateway shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}

	logger.Info("Gateway stopped")
}

func newLogger(level, format string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.LoadDefault()
	}
	return registry.LoadFile(path)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
