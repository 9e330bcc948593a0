package feeds

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// SourceConfig controls one simulated price feed. Behavior knobs let the
// demo binaries exercise the guardrail failure paths: a stale source backdates
// its timestamps, a malicious one skews its price.
type SourceConfig struct {
	Name               string
	Asset              string
	BasePrice          decimal.Decimal
	VariancePercent    decimal.Decimal
	ForceStale         bool
	StaleBy            time.Duration
	Malicious          bool
	ManipulationFactor decimal.Decimal
	Unsigned           bool
}

// Simulator produces feed evidence from a set of configured sources.
type Simulator struct {
	mu      sync.RWMutex
	sources map[string]SourceConfig
	rng     *rand.Rand
	now     func() time.Time
}

func NewSimulator(configs ...SourceConfig) *Simulator {
	s := &Simulator{
		sources: make(map[string]SourceConfig, len(configs)),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	for _, cfg := range configs {
		s.sources[cfg.Name] = cfg
	}
	return s
}

// WithClock overrides the wall clock.
func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.now = now
	return s
}

// WithSeed makes the price variance deterministic.
func (s *Simulator) WithSeed(seed int64) *Simulator {
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

// SetSource adds or replaces a source configuration.
func (s *Simulator) SetSource(cfg SourceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[cfg.Name] = cfg
}

// Sources lists the configured source names.
func (s *Simulator) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	return names
}

// Observe returns one observation from the named source.
func (s *Simulator) Observe(source string) (rfq.FeedEvidence, error) {
	s.mu.RLock()
	cfg, ok := s.sources[source]
	s.mu.RUnlock()
	if !ok {
		return rfq.FeedEvidence{}, fmt.Errorf("unknown feed source %q", source)
	}

	ts := s.now()
	if cfg.ForceStale {
		ts = ts.Add(-cfg.StaleBy)
	}

	price := cfg.BasePrice
	if cfg.Malicious {
		price = price.Mul(cfg.ManipulationFactor)
	} else if cfg.VariancePercent.IsPositive() {
		// Uniform in [-variance, +variance] around the base price.
		span := cfg.BasePrice.Mul(cfg.VariancePercent).Div(decimal.NewFromInt(100))
		jitter := decimal.NewFromFloat(s.jitter())
		price = price.Add(span.Mul(jitter))
	}

	ev := rfq.FeedEvidence{
		Source:    cfg.Name,
		Asset:     cfg.Asset,
		Price:     price,
		Timestamp: ts,
	}
	if !cfg.Unsigned {
		ev.Signature = fmt.Sprintf("sig_%s_%d", cfg.Name, ts.Unix())
	}
	return ev, nil
}

// ObserveAll gathers one observation from every configured source.
func (s *Simulator) ObserveAll() []rfq.FeedEvidence {
	var out []rfq.FeedEvidence
	for _, name := range s.Sources() {
		ev, err := s.Observe(name)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (s *Simulator) jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()*2 - 1
}
