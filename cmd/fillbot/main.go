package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/internal/feeds"
	"github.com/aomi-labs/delta-rfq-arena/pkg/circuit"
	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// fillbot is a demo taker: it polls the quote list and submits fill attempts
// backed by simulated feed evidence.

type Config struct {
	EngineURL    string
	Taker        string
	PollInterval time.Duration
	BasePrice    decimal.Decimal
	NATSUrl      string
}

func loadConfig() *Config {
	base, err := decimal.NewFromString(getEnv("BASE_PRICE", "1950.50"))
	if err != nil {
		base = decimal.NewFromInt(1950)
	}
	return &Config{
		EngineURL:    getEnv("ENGINE_URL", "http://localhost:8080"),
		Taker:        getEnv("TAKER_NAME", "fillbot"),
		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		BasePrice:    base,
		NATSUrl:      getEnv("NATS_URL", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
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

type quoteListing struct {
	Quotes []struct {
		Quote  rfq.Quote  `json:"quote"`
		Policy rfq.Policy `json:"policy"`
		Status string     `json:"status"`
	} `json:"quotes"`
}

type bot struct {
	cfg     *Config
	client  *http.Client
	breaker *circuit.Breaker
	sim     *feeds.Simulator
	bus     *messaging.Client
	logger  *zap.Logger

	attempted map[uuid.UUID]bool
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	b := &bot{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New(circuit.Config{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
			Probes:      3,
		}, logger),
		sim: feeds.NewSimulator(
			feeds.SourceConfig{Name: "FeedA", Asset: "dETH", BasePrice: cfg.BasePrice, VariancePercent: decimal.NewFromFloat(0.1)},
			feeds.SourceConfig{Name: "FeedB", Asset: "dETH", BasePrice: cfg.BasePrice, VariancePercent: decimal.NewFromFloat(0.1)},
			feeds.SourceConfig{Name: "FeedC", Asset: "dETH", BasePrice: cfg.BasePrice, VariancePercent: decimal.NewFromFloat(0.1)},
		),
		logger:    logger,
		attempted: make(map[uuid.UUID]bool),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NATSUrl != "" {
		b.watchReceipts(cfg.NATSUrl)
		if b.bus != nil {
			defer b.bus.Close()
		}
	}

	logger.Info("fillbot started",
		zap.String("engine", cfg.EngineURL),
		zap.String("taker", cfg.Taker))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.bus != nil {
				b.bus.Unsubscribe(messaging.EventTypeReceiptRecorded)
			}
			logger.Info("fillbot stopped")
			return
		case <-ticker.C:
			if err := b.scan(ctx); err != nil {
				logger.Warn("scan failed", zap.Error(err))
			}
		}
	}
}

// watchReceipts logs every adjudication the engine publishes, so the bot
// sees outcomes for fills other takers raced it on.
func (b *bot) watchReceipts(natsURL string) {
	bus, err := messaging.NewClient(messaging.Config{URL: natsURL, Name: "fillbot"})
	if err != nil {
		b.logger.Warn("NATS connect failed, receipts via polling only", zap.Error(err))
		return
	}

	err = bus.Subscribe(messaging.EventTypeReceiptRecorded, func(msg *nats.Msg) {
		var event messaging.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		rcpt, err := messaging.ParseEventData[messaging.ReceiptEvent](&event)
		if err != nil {
			return
		}
		b.logger.Info("receipt observed",
			zap.String("quote_id", rcpt.QuoteID.String()),
			zap.String("taker", rcpt.Taker),
			zap.Bool("accepted", rcpt.Accepted),
			zap.String("reason", rcpt.Reason))
	})
	if err != nil {
		b.logger.Warn("receipt subscription failed", zap.Error(err))
		bus.Close()
		return
	}
	b.bus = bus
}

func (b *bot) scan(ctx context.Context) error {
	if b.bus != nil && !b.bus.IsConnected() {
		b.logger.Warn("bus disconnected, relying on polling")
	}

	var listing quoteListing
	err := b.breaker.Do(ctx, func() error {
		return b.getJSON(ctx, "/quotes", &listing)
	})
	if err != nil {
		return err
	}

	for _, entry := range listing.Quotes {
		if entry.Status != string(rfq.StatusActive) || b.attempted[entry.Quote.ID] {
			continue
		}
		b.attempted[entry.Quote.ID] = true
		b.attemptFill(ctx, entry.Quote, entry.Policy)
	}
	return nil
}

func (b *bot) attemptFill(ctx context.Context, quote rfq.Quote, policy rfq.Policy) {
	price := b.cfg.BasePrice
	if quote.Spec.LimitPrice != nil {
		price = *quote.Spec.LimitPrice
	}

	var evidence []rfq.FeedEvidence
	for _, source := range policy.AllowedSources {
		ev, err := b.sim.Observe(source)
		if err != nil {
			b.logger.Warn("no simulated source, skipping",
				zap.String("source", source),
				zap.String("quote_id", quote.ID.String()))
			continue
		}
		ev.Asset = quote.Spec.Asset
		evidence = append(evidence, ev)
	}

	req := rfq.FillRequest{
		Taker:    b.cfg.Taker,
		Size:     policy.MaxFillSize,
		Price:    price,
		Evidence: evidence,
	}

	var receipt rfq.Receipt
	err := b.breaker.Do(ctx, func() error {
		return b.postJSON(ctx, fmt.Sprintf("/quotes/%s/fill", quote.ID), req, &receipt)
	})
	if err != nil {
		b.logger.Warn("fill attempt failed",
			zap.String("quote_id", quote.ID.String()),
			zap.Error(err))
		return
	}

	if receipt.IsAccepted() {
		b.logger.Info("fill accepted",
			zap.String("quote_id", quote.ID.String()),
			zap.String("size", req.Size.String()),
			zap.String("price", req.Price.String()))
	} else {
		b.logger.Info("fill rejected",
			zap.String("quote_id", quote.ID.String()),
			zap.String("reason", string(receipt.RejectionCode())))
	}
}

func (b *bot) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.EngineURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("engine returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *bot) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.EngineURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("engine returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
