package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/aegis-ai/warden/internal/api"
	"github.com/aegis-ai/warden/internal/audit"
	"github.com/aegis-ai/warden/internal/engine"
	"github.com/aegis-ai/warden/internal/ratelimit"
	"github.com/aegis-ai/warden/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const healthServiceName = "aegis.warden.v1.Warden"

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("WARDEN_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("WARDEN_HTTP_PORT", "8080")
	healthPort := envOrDefault("WARDEN_GRPC_HEALTH_PORT", "50061")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	authCacheTTL := envOrDefaultInt("WARDEN_AUTH_CACHE_TTL_S", 30)
	policyCacheTTL := envOrDefaultInt("WARDEN_POLICY_CACHE_TTL_S", 60)
	authFailOpen := envOrDefaultBool("WARDEN_AUTH_FAIL_OPEN", true)

	logger.Info("starting warden server",
		zap.String("http_port", httpPort),
		zap.String("grpc_health_port", healthPort),
		zap.Bool("auth_fail_open", authFailOpen),
	)

	// Rate limit overrides — optional operator YAML, built-ins otherwise
	var overrides []ratelimit.Config
	if path := os.Getenv("WARDEN_RATE_LIMITS"); path != "" {
		loaded, err := ratelimit.LoadOverrides(path)
		if err != nil {
			logger.Warn("rate limit overrides not loaded, using built-ins",
				zap.String("path", path),
				zap.Error(err),
			)
		} else {
			overrides = loaded
			logger.Info("rate limit overrides loaded",
				zap.String("path", path),
				zap.Int("services", len(overrides)),
			)
		}
	}

	// Audit — ClickHouse or LogWriter fallback
	var writer audit.Writer
	if clickhouseDSN != "" {
		chWriter, err := audit.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = audit.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = audit.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (decision log and analytics endpoints)
	var reader *audit.Reader
	if clickhouseDSN != "" {
		var err error
		reader, err = audit.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			reader = nil
		} else {
			defer func() { _ = reader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Postgres pool — runtimes, agent policies, API key auth. Without it
	// the server still authorizes requests: static auth, unrestricted
	// default policy, admin CRUD answering 503.
	var pgStore *store.Store
	var policyLoader *store.CachedPolicyLoader
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		policyLoader = store.NewCachedPolicyLoader(store.CachedPolicyLoaderConfig{
			Source:   pgStore,
			CacheTTL: time.Duration(policyCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, running with static auth and default policies")
	}

	// Engine. A typed-nil loader must not reach the interface field.
	var loader engine.PolicyLoader
	if policyLoader != nil {
		loader = policyLoader
	}
	eng := engine.New(engine.Config{
		Policies: loader,
		Limiter:  ratelimit.NewLimiter(),
		Logger:   logger,
	})

	// HTTP API server
	deps := &api.Dependencies{
		Store:         pgStore,
		Policies:      policyLoader,
		Engine:        eng,
		Writer:        writer,
		Reader:        reader,
		RateOverrides: overrides,
		Logger:        logger,
		CacheTTL:      time.Duration(authCacheTTL) * time.Second,
		AuthFailOpen:  authFailOpen,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC health sidecar for ECS health checks, reflection for grpcurl
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+healthPort)
	if err != nil {
		logger.Fatal("failed to listen for health checks", zap.String("port", healthPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc health server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown: stop advertising health, drain HTTP, stop gRPC
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("warden server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
