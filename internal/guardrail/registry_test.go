package guardrail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/internal/audit"
	"github.com/aomi-labs/delta-rfq-arena/internal/transport"
	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// failingStore simulates an archive backend outage.
type failingStore struct{}

func (failingStore) Append(context.Context, *rfq.Receipt) error { return errors.New("archive down") }
func (failingStore) List(context.Context, uuid.UUID) ([]*rfq.Receipt, error) {
	return nil, errors.New("archive down")
}
func (failingStore) Close() error { return nil }

// recordingBus captures published subjects in order.
type recordingBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	return nil
}

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.subjects))
	copy(out, b.subjects)
	return out
}

func newTestRegistry(t *testing.T, now func() time.Time) (*Registry, *transport.NullTransport) {
	t.Helper()
	tr := transport.NewNullTransport()
	opts := []RegistryOption{}
	if now != nil {
		opts = append(opts, WithRegistryClock(now))
	}
	return NewRegistry(audit.NewMemoryStore(), tr, zap.NewNop(), opts...), tr
}

func TestRegistryCreateQuote(t *testing.T) {
	ctx := context.Background()

	t.Run("should register a coherent quote and policy", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		p := testPolicy()
		q := testQuote(p)

		require.NoError(t, r.CreateQuote(ctx, q, p))

		view, err := r.GetQuote(q.ID)
		require.NoError(t, err)
		assert.Equal(t, rfq.StatusActive, view.Status)
		assert.Equal(t, "10", view.Remaining)
	})

	t.Run("should reject duplicate registration", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		p := testPolicy()
		q := testQuote(p)

		require.NoError(t, r.CreateQuote(ctx, q, p))
		assert.ErrorIs(t, r.CreateQuote(ctx, q, p), ErrQuoteExists)
	})

	t.Run("should reject an invalid policy", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		p := testPolicy()
		q := testQuote(p)
		p.AllowedSources = nil

		assert.ErrorIs(t, r.CreateQuote(ctx, q, p), rfq.ErrNoAllowedSources)
	})

	t.Run("should reject policy bound to another quote", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		p := testPolicy()
		q := testQuote(p)
		p.QuoteID = uuid.New()

		assert.ErrorIs(t, r.CreateQuote(ctx, q, p), ErrPolicyMismatch)
	})

	t.Run("should reject incoherent asset or oversize fill cap", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)

		p := testPolicy()
		q := testQuote(p)
		p.Asset = "dBTC"
		assert.ErrorIs(t, r.CreateQuote(ctx, q, p), ErrPolicyMismatch)

		p2 := testPolicy()
		q2 := testQuote(p2)
		p2.MaxFillSize = q2.Spec.Size.Add(decimal.NewFromInt(1))
		assert.ErrorIs(t, r.CreateQuote(ctx, q2, p2), ErrPolicyMismatch)
	})
}

func TestRegistryListing(t *testing.T) {
	ctx := context.Background()
	t0 := time.Now()

	t.Run("expired quotes stay listed with projected status", func(t *testing.T) {
		clock := t0
		r, _ := newTestRegistry(t, func() time.Time { return clock })

		p := testPolicy()
		p.ExpiresAt = t0.Add(time.Minute)
		q := testQuote(p)
		q.ExpiresAt = p.ExpiresAt
		require.NoError(t, r.CreateQuote(ctx, q, p))

		clock = t0.Add(2 * time.Minute)

		views := r.ListQuotes()
		require.Len(t, views, 1)
		assert.Equal(t, rfq.StatusExpired, views[0].Status)

		view, err := r.GetQuote(q.ID)
		require.NoError(t, err)
		assert.Equal(t, rfq.StatusExpired, view.Status)
	})

	t.Run("unknown quote id is an error", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		_, err := r.GetQuote(uuid.New())
		assert.ErrorIs(t, err, ErrQuoteNotFound)
	})
}

func TestRegistryCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("maker can cancel, others cannot", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		p := testPolicy()
		q := testQuote(p)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		_, err := r.CancelQuote(ctx, q.ID, "mallory")
		assert.ErrorIs(t, err, ErrNotMaker)

		reason, err := r.CancelQuote(ctx, q.ID, q.Maker)
		require.NoError(t, err)
		assert.Nil(t, reason)

		view, err := r.GetQuote(q.ID)
		require.NoError(t, err)
		assert.Equal(t, rfq.StatusCancelled, view.Status)
	})

	t.Run("cancelled quote rejects fills with quote_not_active", func(t *testing.T) {
		t0 := time.Now()
		r, _ := newTestRegistry(t, func() time.Time { return t0 })
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		_, err := r.CancelQuote(ctx, q.ID, q.Maker)
		require.NoError(t, err)

		receipt, err := r.AttemptFill(ctx, q.ID, &rfq.FillRequest{
			Taker: "taker1",
			Size:  decimal.NewFromInt(10),
			Price: decimal.NewFromFloat(1950.5),
			Evidence: []rfq.FeedEvidence{
				observation("FeedA", 1950, t0),
				observation("FeedB", 1951, t0),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, rfq.ReasonQuoteNotActive, receipt.RejectionCode())
	})
}

func TestRegistryAttemptFill(t *testing.T) {
	ctx := context.Background()
	t0 := time.Now()

	fillReq := func() *rfq.FillRequest {
		return &rfq.FillRequest{
			Taker: "taker1",
			Size:  decimal.NewFromInt(10),
			Price: decimal.NewFromFloat(1950.5),
			Evidence: []rfq.FeedEvidence{
				observation("FeedA", 1950, t0),
				observation("FeedB", 1951, t0),
			},
		}
	}

	t.Run("accepted fill archives a receipt and submits settlement", func(t *testing.T) {
		r, tr := newTestRegistry(t, func() time.Time { return t0 })
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		receipt, err := r.AttemptFill(ctx, q.ID, fillReq())
		require.NoError(t, err)
		require.True(t, receipt.IsAccepted())

		bundles := tr.Submitted()
		require.Len(t, bundles, 1)
		assert.Equal(t, q.ID, bundles[0].QuoteID)
		assert.Equal(t, q.Maker, bundles[0].Maker)
		assert.True(t, bundles[0].Settlement.MakerDebit.Equal(decimal.NewFromInt(19505)))

		receipts, err := r.Receipts(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.True(t, receipts[0].IsAccepted())
	})

	t.Run("rejected fills are archived in order", func(t *testing.T) {
		r, tr := newTestRegistry(t, func() time.Time { return t0 })
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		bad := fillReq()
		bad.Evidence = bad.Evidence[:1]
		receipt, err := r.AttemptFill(ctx, q.ID, bad)
		require.NoError(t, err)
		assert.Equal(t, rfq.ReasonQuorumNotMet, receipt.RejectionCode())

		receipt, err = r.AttemptFill(ctx, q.ID, fillReq())
		require.NoError(t, err)
		assert.True(t, receipt.IsAccepted())

		receipts, err := r.Receipts(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, receipts, 2)
		assert.Equal(t, rfq.ReasonQuorumNotMet, receipts[0].RejectionCode())
		assert.True(t, receipts[1].IsAccepted())

		assert.Len(t, tr.Submitted(), 1)
	})

	t.Run("accepted fill survives an archive outage", func(t *testing.T) {
		tr := transport.NewNullTransport()
		r := NewRegistry(failingStore{}, tr, zap.NewNop(),
			WithRegistryClock(func() time.Time { return t0 }))
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		receipt, err := r.AttemptFill(ctx, q.ID, fillReq())
		require.NoError(t, err)
		require.NotNil(t, receipt)
		assert.True(t, receipt.IsAccepted())

		view, err := r.GetQuote(q.ID)
		require.NoError(t, err)
		assert.Equal(t, rfq.StatusFilled, view.Status)
		assert.Len(t, tr.Submitted(), 1)
	})

	t.Run("lifecycle events reach the bus", func(t *testing.T) {
		bus := &recordingBus{}
		clock := t0
		tr := transport.NewNullTransport()
		r := NewRegistry(audit.NewMemoryStore(), tr, zap.NewNop(),
			WithRegistryClock(func() time.Time { return clock }),
			WithBus(bus))
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		receipt, err := r.AttemptFill(ctx, q.ID, fillReq())
		require.NoError(t, err)
		require.True(t, receipt.IsAccepted())

		assert.Equal(t, []string{
			messaging.EventTypeQuoteCreated,
			messaging.EventTypeQuoteFilled,
			messaging.EventTypeReceiptRecorded,
		}, bus.published())
	})

	t.Run("fill past expiry publishes the expired event once observed", func(t *testing.T) {
		bus := &recordingBus{}
		clock := t0
		r := NewRegistry(audit.NewMemoryStore(), transport.NewNullTransport(), zap.NewNop(),
			WithRegistryClock(func() time.Time { return clock }),
			WithBus(bus))
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		clock = t0.Add(301 * time.Second)
		receipt, err := r.AttemptFill(ctx, q.ID, fillReq())
		require.NoError(t, err)
		assert.Equal(t, rfq.ReasonQuoteExpired, receipt.RejectionCode())

		assert.Contains(t, bus.published(), messaging.EventTypeQuoteExpired)
	})

	t.Run("fill against unknown quote is an error", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		_, err := r.AttemptFill(ctx, uuid.New(), fillReq())
		assert.ErrorIs(t, err, ErrQuoteNotFound)
	})

	t.Run("malformed fill is an error and leaves no receipt", func(t *testing.T) {
		r, _ := newTestRegistry(t, func() time.Time { return t0 })
		q, p := fixture(t0)
		require.NoError(t, r.CreateQuote(ctx, q, p))

		bad := fillReq()
		bad.Size = decimal.Zero
		_, err := r.AttemptFill(ctx, q.ID, bad)
		assert.ErrorIs(t, err, rfq.ErrBadFillSize)

		receipts, err := r.Receipts(ctx, q.ID)
		require.NoError(t, err)
		assert.Empty(t, receipts)
	})
}
