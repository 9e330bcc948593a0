package guardrail

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

func testPolicy() *rfq.Policy {
	return &rfq.Policy{
		QuoteID:            uuid.New(),
		MaxDebit:           decimal.NewFromInt(20000),
		ExpiresAt:          time.Now().Add(5 * time.Minute),
		AllowedSources:     []string{"FeedA", "FeedB"},
		MaxStaleness:       60 * time.Second,
		QuorumCount:        1,
		QuorumTolerancePct: decimal.NewFromFloat(1.0),
		Asset:              "dETH",
		Currency:           "USDD",
		RequireAtomicDvP:   true,
		NoSidePayments:     true,
		MaxFillSize:        decimal.NewFromInt(10),
		Nonce:              1,
	}
}

func observation(source string, price float64, ts time.Time) rfq.FeedEvidence {
	return rfq.FeedEvidence{
		Source:    source,
		Asset:     "dETH",
		Price:     decimal.NewFromFloat(price),
		Timestamp: ts,
		Signature: "sig_" + source,
	}
}

func TestValidateEvidence(t *testing.T) {
	now := time.Now()
	p := testPolicy()

	t.Run("should pass fresh authorized evidence", func(t *testing.T) {
		valid, reject := ValidateEvidence(p, []rfq.FeedEvidence{
			observation("FeedA", 1950, now),
			observation("FeedB", 1951, now),
		}, now)
		require.Nil(t, reject)
		assert.Len(t, valid, 2)
	})

	t.Run("should reject unauthorized source even when fresh", func(t *testing.T) {
		_, reject := ValidateEvidence(p, []rfq.FeedEvidence{
			observation("FeedA", 1950, now),
			observation("FeedX", 1950, now),
		}, now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonUnauthorizedSource, reject.Code)
		assert.Equal(t, "FeedX", reject.Detail.Source)
	})

	t.Run("age exactly at the bound is fresh", func(t *testing.T) {
		valid, reject := ValidateEvidence(p, []rfq.FeedEvidence{
			observation("FeedA", 1950, now.Add(-p.MaxStaleness)),
		}, now)
		require.Nil(t, reject)
		assert.Len(t, valid, 1)
	})

	t.Run("one second past the bound is stale", func(t *testing.T) {
		_, reject := ValidateEvidence(p, []rfq.FeedEvidence{
			observation("FeedA", 1950, now.Add(-p.MaxStaleness-time.Second)),
		}, now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonStaleFeed, reject.Code)
	})

	t.Run("future observations read as fresh", func(t *testing.T) {
		_, reject := ValidateEvidence(p, []rfq.FeedEvidence{
			observation("FeedA", 1950, now.Add(time.Minute)),
		}, now)
		assert.Nil(t, reject)
	})

	t.Run("should reject wrong asset", func(t *testing.T) {
		ev := observation("FeedA", 1950, now)
		ev.Asset = "dBTC"
		_, reject := ValidateEvidence(p, []rfq.FeedEvidence{ev}, now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonAssetMismatch, reject.Code)
	})

	t.Run("should reject missing signature", func(t *testing.T) {
		ev := observation("FeedA", 1950, now)
		ev.Signature = ""
		_, reject := ValidateEvidence(p, []rfq.FeedEvidence{ev}, now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonMissingProvenance, reject.Code)
	})

	t.Run("first failing item wins left to right", func(t *testing.T) {
		_, reject := ValidateEvidence(p, []rfq.FeedEvidence{
			observation("FeedX", 1950, now),
			observation("FeedA", 1950, now.Add(-time.Hour)),
		}, now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonUnauthorizedSource, reject.Code)
	})

	t.Run("empty evidence list passes validation", func(t *testing.T) {
		valid, reject := ValidateEvidence(p, nil, now)
		assert.Nil(t, reject)
		assert.Empty(t, valid)
	})
}
