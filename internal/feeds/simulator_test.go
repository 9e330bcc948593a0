package feeds

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator(t *testing.T) {
	t0 := time.Now()
	base := decimal.NewFromFloat(1950.5)

	t.Run("good source observes the base price, signed and fresh", func(t *testing.T) {
		sim := NewSimulator(SourceConfig{
			Name:      "FeedA",
			Asset:     "dETH",
			BasePrice: base,
		}).WithClock(func() time.Time { return t0 })

		ev, err := sim.Observe("FeedA")
		require.NoError(t, err)
		assert.Equal(t, "FeedA", ev.Source)
		assert.Equal(t, "dETH", ev.Asset)
		assert.True(t, ev.Price.Equal(base))
		assert.Equal(t, t0, ev.Timestamp)
		assert.NotEmpty(t, ev.Signature)
	})

	t.Run("variance stays within the configured band", func(t *testing.T) {
		sim := NewSimulator(SourceConfig{
			Name:            "FeedA",
			Asset:           "dETH",
			BasePrice:       decimal.NewFromInt(1000),
			VariancePercent: decimal.NewFromInt(1),
		}).WithSeed(7)

		for i := 0; i < 50; i++ {
			ev, err := sim.Observe("FeedA")
			require.NoError(t, err)
			assert.True(t, ev.Price.GreaterThanOrEqual(decimal.NewFromInt(990)), "got %s", ev.Price)
			assert.True(t, ev.Price.LessThanOrEqual(decimal.NewFromInt(1010)), "got %s", ev.Price)
		}
	})

	t.Run("stale source backdates its timestamps", func(t *testing.T) {
		sim := NewSimulator(SourceConfig{
			Name:       "FeedStale",
			Asset:      "dETH",
			BasePrice:  base,
			ForceStale: true,
			StaleBy:    2 * time.Minute,
		}).WithClock(func() time.Time { return t0 })

		ev, err := sim.Observe("FeedStale")
		require.NoError(t, err)
		assert.Equal(t, t0.Add(-2*time.Minute), ev.Timestamp)
	})

	t.Run("malicious source skews the price", func(t *testing.T) {
		sim := NewSimulator(SourceConfig{
			Name:               "FeedEvil",
			Asset:              "dETH",
			BasePrice:          decimal.NewFromInt(1000),
			Malicious:          true,
			ManipulationFactor: decimal.NewFromFloat(1.5),
		})

		ev, err := sim.Observe("FeedEvil")
		require.NoError(t, err)
		assert.True(t, ev.Price.Equal(decimal.NewFromInt(1500)))
	})

	t.Run("unsigned source omits the signature", func(t *testing.T) {
		sim := NewSimulator(SourceConfig{
			Name:      "FeedNoSig",
			Asset:     "dETH",
			BasePrice: base,
			Unsigned:  true,
		})

		ev, err := sim.Observe("FeedNoSig")
		require.NoError(t, err)
		assert.Empty(t, ev.Signature)
	})

	t.Run("unknown source is an error", func(t *testing.T) {
		sim := NewSimulator()
		_, err := sim.Observe("FeedX")
		assert.Error(t, err)
	})

	t.Run("ObserveAll covers every configured source", func(t *testing.T) {
		sim := NewSimulator(
			SourceConfig{Name: "FeedA", Asset: "dETH", BasePrice: base},
			SourceConfig{Name: "FeedB", Asset: "dETH", BasePrice: base},
		)
		assert.Len(t, sim.ObserveAll(), 2)
	})
}
