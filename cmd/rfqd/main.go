package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/internal/audit"
	"github.com/aomi-labs/delta-rfq-arena/internal/auth"
	"github.com/aomi-labs/delta-rfq-arena/internal/compiler"
	"github.com/aomi-labs/delta-rfq-arena/internal/gateway"
	"github.com/aomi-labs/delta-rfq-arena/internal/guardrail"
	"github.com/aomi-labs/delta-rfq-arena/internal/transport"
	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
)

type Config struct {
	Port            string
	NATSUrl         string
	RedisAddr       string
	PostgresDSN     string
	JWTSecret       string
	TokenTTL        time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
}

func loadConfig() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		NATSUrl:         getEnv("NATS_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 24*time.Hour),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store := buildStore(ctx, cfg, logger)
	cancel()
	defer store.Close()

	var bus *messaging.Client
	var tr transport.Transport = transport.NewNullTransport()
	if cfg.NATSUrl != "" {
		bus, err = messaging.NewClient(messaging.Config{
			URL:            cfg.NATSUrl,
			Name:           "rfqd",
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			logger.Fatal("NATS connect failed", zap.Error(err))
		}
		defer bus.Close()
		tr = transport.NewNATSTransport(bus, logger)
	}

	opts := []guardrail.RegistryOption{}
	if bus != nil {
		opts = append(opts, guardrail.WithBus(bus))
	}
	registry := guardrail.NewRegistry(store, tr, logger, opts...)

	authSvc := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	comp := compiler.NewRuleCompiler()

	gw := gateway.NewGateway(gateway.Config{
		Port:            cfg.Port,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, registry, comp, authSvc, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("rfqd listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("stopped")
}

// buildStore picks the receipt archive backend: Postgres when a DSN is set,
// Redis when an address is set, otherwise in-process memory.
func buildStore(ctx context.Context, cfg *Config, logger *zap.Logger) audit.Store {
	if cfg.PostgresDSN != "" {
		store, err := audit.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		logger.Info("receipt archive: postgres")
		return store
	}
	if cfg.RedisAddr != "" {
		store, err := audit.NewRedisStore(ctx, cfg.RedisAddr, getEnv("REDIS_PASSWORD", ""), getEnvInt("REDIS_DB", 0))
		if err != nil {
			logger.Fatal("redis store init failed", zap.Error(err))
		}
		logger.Info("receipt archive: redis")
		return store
	}
	logger.Info("receipt archive: memory")
	return audit.NewMemoryStore()
}
