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

func testQuote(p *rfq.Policy) *rfq.Quote {
	return &rfq.Quote{
		ID:     p.QuoteID,
		Status: rfq.StatusActive,
		Spec: rfq.QuoteSpec{
			Asset:    p.Asset,
			Size:     p.MaxFillSize,
			Side:     rfq.SideBuy,
			Currency: p.Currency,
		},
		CreatedAt: time.Now(),
		ExpiresAt: p.ExpiresAt,
		Maker:     "maker1",
	}
}

func testAttempt(quoteID uuid.UUID, size, price float64) *rfq.FillAttempt {
	return rfq.NewFillAttempt(quoteID, &rfq.FillRequest{
		Taker: "taker1",
		Size:  decimal.NewFromFloat(size),
		Price: decimal.NewFromFloat(price),
	}, time.Now())
}

func resolvedAt(price float64) *ResolvedPrice {
	return &ResolvedPrice{Price: decimal.NewFromFloat(price)}
}

func TestComputeSettlement(t *testing.T) {
	now := time.Now()

	t.Run("legs satisfy atomic DvP", func(t *testing.T) {
		p := testPolicy()
		q := testQuote(p)
		a := testAttempt(q.ID, 10, 1950.5)

		s, reject := ComputeSettlement(q, p, a, resolvedAt(1950.5), now)
		require.Nil(t, reject)

		assert.True(t, s.MakerDebit.Equal(decimal.NewFromInt(19505)))
		assert.True(t, s.MakerCredit.Equal(decimal.NewFromInt(10)))
		assert.True(t, s.MakerDebit.Equal(s.TakerCredit))
		assert.True(t, s.MakerCredit.Equal(s.TakerDebit))
		assert.Equal(t, "dETH", s.Asset)
		assert.Equal(t, "USDD", s.Currency)
		assert.Nil(t, s.Fee)
	})

	t.Run("unauthorized taker", func(t *testing.T) {
		p := testPolicy()
		p.AllowedTakers = []string{"alice"}
		q := testQuote(p)
		a := testAttempt(q.ID, 10, 1950.5)

		_, reject := ComputeSettlement(q, p, a, resolvedAt(1950.5), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonUnauthorizedTaker, reject.Code)
	})

	t.Run("buy side limit caps the price", func(t *testing.T) {
		p := testPolicy()
		q := testQuote(p)
		limit := decimal.NewFromInt(2000)
		q.Spec.LimitPrice = &limit

		_, reject := ComputeSettlement(q, p, testAttempt(q.ID, 5, 2001), resolvedAt(2000), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonPriceExceedsLimit, reject.Code)

		// Exactly at the limit is fine.
		s, reject := ComputeSettlement(q, p, testAttempt(q.ID, 5, 2000), resolvedAt(2000), now)
		require.Nil(t, reject)
		assert.True(t, s.MakerDebit.Equal(decimal.NewFromInt(10000)))
	})

	t.Run("sell side limit floors the price", func(t *testing.T) {
		p := testPolicy()
		q := testQuote(p)
		q.Spec.Side = rfq.SideSell
		limit := decimal.NewFromInt(1900)
		q.Spec.LimitPrice = &limit

		_, reject := ComputeSettlement(q, p, testAttempt(q.ID, 5, 1899), resolvedAt(1900), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonPriceBelowLimit, reject.Code)
	})

	t.Run("min credit floors the notional", func(t *testing.T) {
		p := testPolicy()
		mc := decimal.NewFromInt(19000)
		p.MinCredit = &mc
		q := testQuote(p)

		_, reject := ComputeSettlement(q, p, testAttempt(q.ID, 9, 2000), resolvedAt(2000), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonPriceBelowLimit, reject.Code)
		assert.NotNil(t, reject.Detail.MinCredit)
	})

	t.Run("max debit ceiling", func(t *testing.T) {
		p := testPolicy()
		q := testQuote(p)

		_, reject := ComputeSettlement(q, p, testAttempt(q.ID, 10, 2001), resolvedAt(2001), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonMaxDebitExceeded, reject.Code)

		// Exactly at the cap settles.
		s, reject := ComputeSettlement(q, p, testAttempt(q.ID, 10, 2000), resolvedAt(2000), now)
		require.Nil(t, reject)
		assert.True(t, s.MakerDebit.Equal(p.MaxDebit))
	})

	t.Run("resolved price is recorded but fill price drives the legs", func(t *testing.T) {
		p := testPolicy()
		q := testQuote(p)

		s, reject := ComputeSettlement(q, p, testAttempt(q.ID, 10, 1950.5), resolvedAt(1950), now)
		require.Nil(t, reject)
		assert.True(t, s.ResolvedPrice.Equal(decimal.NewFromInt(1950)))
		assert.True(t, s.MakerDebit.Equal(decimal.NewFromFloat(19505)))
	})
}

func TestSideTransfers(t *testing.T) {
	now := time.Now()

	withLegs := func(q *rfq.Quote, legs ...rfq.TransferLeg) *rfq.FillAttempt {
		a := testAttempt(q.ID, 10, 1950.5)
		a.SideTransfers = legs
		return a
	}

	t.Run("any extra leg without a fee allowlist is rejected", func(t *testing.T) {
		p := testPolicy()
		q := testQuote(p)

		_, reject := ComputeSettlement(q, p, withLegs(q, rfq.TransferLeg{
			Recipient: "mallory", Amount: decimal.NewFromInt(1), Currency: "USDD",
		}), resolvedAt(1950.5), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonSidePaymentDetected, reject.Code)
	})

	t.Run("allowlisted capped fee is carried on the settlement", func(t *testing.T) {
		p := testPolicy()
		p.FeeRecipient = "facilitator"
		p.FeeCap = decimal.NewFromInt(5)
		q := testQuote(p)

		s, reject := ComputeSettlement(q, p, withLegs(q, rfq.TransferLeg{
			Recipient: "facilitator", Amount: decimal.NewFromInt(5), Currency: "USDD",
		}), resolvedAt(1950.5), now)
		require.Nil(t, reject)
		require.NotNil(t, s.Fee)
		assert.Equal(t, "facilitator", s.Fee.Recipient)
	})

	t.Run("fee above the cap is a side payment", func(t *testing.T) {
		p := testPolicy()
		p.FeeRecipient = "facilitator"
		p.FeeCap = decimal.NewFromInt(5)
		q := testQuote(p)

		_, reject := ComputeSettlement(q, p, withLegs(q, rfq.TransferLeg{
			Recipient: "facilitator", Amount: decimal.NewFromInt(6), Currency: "USDD",
		}), resolvedAt(1950.5), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonSidePaymentDetected, reject.Code)
	})

	t.Run("wrong recipient is a side payment", func(t *testing.T) {
		p := testPolicy()
		p.FeeRecipient = "facilitator"
		p.FeeCap = decimal.NewFromInt(5)
		q := testQuote(p)

		_, reject := ComputeSettlement(q, p, withLegs(q, rfq.TransferLeg{
			Recipient: "mallory", Amount: decimal.NewFromInt(1), Currency: "USDD",
		}), resolvedAt(1950.5), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonSidePaymentDetected, reject.Code)
	})

	t.Run("more than one extra leg is always rejected", func(t *testing.T) {
		p := testPolicy()
		p.FeeRecipient = "facilitator"
		p.FeeCap = decimal.NewFromInt(5)
		q := testQuote(p)

		_, reject := ComputeSettlement(q, p, withLegs(q,
			rfq.TransferLeg{Recipient: "facilitator", Amount: decimal.NewFromInt(1), Currency: "USDD"},
			rfq.TransferLeg{Recipient: "facilitator", Amount: decimal.NewFromInt(1), Currency: "USDD"},
		), resolvedAt(1950.5), now)
		require.NotNil(t, reject)
		assert.Equal(t, rfq.ReasonSidePaymentDetected, reject.Code)
	})
}
