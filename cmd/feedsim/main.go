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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aomi-labs/delta-rfq-arena/internal/feeds"
	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
)

// feedSpec binds one simulated source to its own listen port.
type feedSpec struct {
	cfg  feeds.SourceConfig
	port string
}

type Config struct {
	Asset             string
	BasePrice         decimal.Decimal
	BasePort          int
	StaleBy           time.Duration
	NATSUrl           string
	BroadcastInterval time.Duration
}

func loadConfig() *Config {
	return &Config{
		Asset:             getEnv("FEED_ASSET", "dETH"),
		BasePrice:         getEnvDecimal("FEED_BASE_PRICE", decimal.NewFromFloat(1950.5)),
		BasePort:          getEnvInt("FEED_BASE_PORT", 9100),
		StaleBy:           getEnvDuration("FEED_STALE_BY", 2*time.Minute),
		NATSUrl:           getEnv("NATS_URL", ""),
		BroadcastInterval: getEnvDuration("FEED_BROADCAST_INTERVAL", 2*time.Second),
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

func getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
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

	variance := decimal.NewFromFloat(0.1)
	specs := []feedSpec{
		{
			cfg: feeds.SourceConfig{
				Name:            "FeedA",
				Asset:           cfg.Asset,
				BasePrice:       cfg.BasePrice,
				VariancePercent: variance,
			},
			port: strconv.Itoa(cfg.BasePort),
		},
		{
			cfg: feeds.SourceConfig{
				Name:            "FeedB",
				Asset:           cfg.Asset,
				BasePrice:       cfg.BasePrice,
				VariancePercent: variance,
			},
			port: strconv.Itoa(cfg.BasePort + 1),
		},
		{
			cfg: feeds.SourceConfig{
				Name:       "FeedStale",
				Asset:      cfg.Asset,
				BasePrice:  cfg.BasePrice,
				ForceStale: true,
				StaleBy:    cfg.StaleBy,
			},
			port: strconv.Itoa(cfg.BasePort + 2),
		},
		{
			cfg: feeds.SourceConfig{
				Name:               "FeedManip",
				Asset:              cfg.Asset,
				BasePrice:          cfg.BasePrice,
				Malicious:          true,
				ManipulationFactor: decimal.NewFromFloat(1.5),
			},
			port: strconv.Itoa(cfg.BasePort + 3),
		},
	}

	configs := make([]feeds.SourceConfig, 0, len(specs))
	for _, spec := range specs {
		configs = append(configs, spec.cfg)
	}
	sim := feeds.NewSimulator(configs...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.NATSUrl != "" {
		bus, err := messaging.NewClient(messaging.Config{URL: cfg.NATSUrl, Name: "feedsim"})
		if err != nil {
			logger.Fatal("NATS connect failed", zap.Error(err))
		}
		defer bus.Close()

		broadcaster := feeds.NewBroadcaster(sim, bus, cfg.BroadcastInterval, logger)
		g.Go(func() error { return broadcaster.Run(gctx) })
		logger.Info("observation broadcast enabled", zap.String("nats", cfg.NATSUrl))
	}

	for _, spec := range specs {
		spec := spec
		srv := &http.Server{
			Addr:         ":" + spec.port,
			Handler:      feeds.NewServer(sim, spec.cfg.Name, logger).Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("feed listening",
				zap.String("source", spec.cfg.Name),
				zap.String("port", spec.port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal("feed simulator failed", zap.Error(err))
	}
	logger.Info("stopped")
}
