package guardrail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/internal/audit"
	"github.com/aomi-labs/delta-rfq-arena/internal/transport"
	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

var (
	ErrQuoteNotFound  = errors.New("quote not found")
	ErrQuoteExists    = errors.New("quote already registered")
	ErrNotMaker       = errors.New("caller is not the quote's maker")
	ErrPolicyMismatch = errors.New("policy does not match quote")
	ErrNilQuote       = errors.New("quote and policy must be non-nil")
)

// entry pairs a quote with its policy and per-quote ledger. The quote and
// policy are immutable after registration; all mutable state lives in the
// ledger.
type entry struct {
	quote  *rfq.Quote
	policy *rfq.Policy
	ledger *Ledger
}

// QuoteView is the read model handed to callers: the immutable quote plus
// the ledger-derived fields at the time of the read.
type QuoteView struct {
	Quote     rfq.Quote       `json:"quote"`
	Policy    rfq.Policy      `json:"policy"`
	Status    rfq.QuoteStatus `json:"status"`
	Remaining string          `json:"remaining"`
}

// EventBus is the publishing half of the message bus. *messaging.Client
// satisfies it; tests substitute a recorder.
type EventBus interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Registry owns every registered quote and serializes all lifecycle
// transitions through the per-quote ledgers.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	adjudicator *Adjudicator
	store       audit.Store
	transport   transport.Transport
	bus         EventBus
	logger      *zap.Logger
	now         func() time.Time
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithBus attaches a message bus for quote lifecycle events. Without it the
// registry works standalone and publishes nothing.
func WithBus(bus EventBus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// WithRegistryClock overrides the wall clock.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
		r.adjudicator = r.adjudicator.WithClock(now)
	}
}

func NewRegistry(store audit.Store, tr transport.Transport, logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:     make(map[uuid.UUID]*entry),
		adjudicator: NewAdjudicator(logger),
		store:       store,
		transport:   tr,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateQuote registers a quote with its guardrail policy. The policy must
// validate on its own and cohere with the quote it governs.
func (r *Registry) CreateQuote(ctx context.Context, q *rfq.Quote, p *rfq.Policy) error {
	if q == nil || p == nil {
		return ErrNilQuote
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if p.QuoteID != q.ID {
		return fmt.Errorf("%w: policy binds quote %s", ErrPolicyMismatch, p.QuoteID)
	}
	if p.Asset != q.Spec.Asset || p.Currency != q.Spec.Currency {
		return fmt.Errorf("%w: asset/currency differ from quote spec", ErrPolicyMismatch)
	}
	if p.MaxFillSize.GreaterThan(q.Spec.Size) {
		return fmt.Errorf("%w: max fill size exceeds quote size", ErrPolicyMismatch)
	}
	if p.ExpiresAt.After(q.ExpiresAt) {
		return fmt.Errorf("%w: policy outlives quote expiry", ErrPolicyMismatch)
	}

	r.mu.Lock()
	if _, exists := r.entries[q.ID]; exists {
		r.mu.Unlock()
		return ErrQuoteExists
	}
	r.entries[q.ID] = &entry{quote: q, policy: p, ledger: NewLedger(p)}
	r.mu.Unlock()

	r.logger.Info("quote registered",
		zap.String("quote_id", q.ID.String()),
		zap.String("maker", q.Maker),
		zap.String("asset", q.Spec.Asset),
		zap.String("size", q.Spec.Size.String()))

	r.publishQuoteEvent(ctx, messaging.EventTypeQuoteCreated, q, rfq.StatusActive)
	return nil
}

// GetQuote returns a point-in-time view of one quote.
func (r *Registry) GetQuote(id uuid.UUID) (*QuoteView, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrQuoteNotFound
	}
	return r.view(e), nil
}

// ListQuotes returns views of every registered quote. Expired quotes stay
// listed; expiry is projected into the status at read time.
func (r *Registry) ListQuotes() []*QuoteView {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	views := make([]*QuoteView, 0, len(entries))
	for _, e := range entries {
		views = append(views, r.view(e))
	}
	return views
}

// CancelQuote withdraws an unfilled quote. Only the maker may cancel.
// Cancelling an already-cancelled quote is a no-op; cancelling a filled
// quote is rejected.
func (r *Registry) CancelQuote(ctx context.Context, id uuid.UUID, maker string) (*rfq.RejectionReason, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrQuoteNotFound
	}
	if e.quote.Maker != maker {
		return nil, ErrNotMaker
	}

	if reason := e.ledger.Cancel(); reason != nil {
		return reason, nil
	}

	r.logger.Info("quote cancelled",
		zap.String("quote_id", id.String()),
		zap.String("maker", maker))
	r.publishQuoteEvent(ctx, messaging.EventTypeQuoteCancelled, e.quote, rfq.StatusCancelled)
	return nil, nil
}

// AttemptFill adjudicates one taker submission against the quote's policy.
// Every completed adjudication yields a receipt, accepted or rejected; the
// receipt is archived before it is returned. Accepted fills additionally
// submit their settlement bundle on the transport.
func (r *Registry) AttemptFill(ctx context.Context, id uuid.UUID, req *rfq.FillRequest) (*rfq.Receipt, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrQuoteNotFound
	}

	attempt := rfq.NewFillAttempt(id, req, r.now())
	receipt, bundle, err := r.adjudicator.Adjudicate(e.quote, e.policy, e.ledger, attempt)
	if err != nil {
		return nil, err
	}

	if err := r.store.Append(ctx, receipt); err != nil {
		// The adjudication is final by now; on an accepted fill the nonce is
		// already consumed. Losing the archive write must not lose the
		// receipt itself, so log for replay and keep going.
		r.logger.Error("receipt archive failed",
			zap.String("quote_id", id.String()),
			zap.String("receipt_id", receipt.ID.String()),
			zap.Error(err))
	}

	if bundle != nil {
		if err := r.transport.SubmitSettlement(ctx, bundle); err != nil {
			// The fill is committed and the receipt archived; a transport
			// failure is logged for redelivery, not unwound.
			r.logger.Error("settlement submission failed",
				zap.String("quote_id", id.String()),
				zap.String("fill_id", attempt.ID.String()),
				zap.Error(err))
		}
		r.publishQuoteEvent(ctx, messaging.EventTypeQuoteFilled, e.quote, rfq.StatusFilled)
	}
	if receipt.RejectionCode() == rfq.ReasonQuoteExpired {
		// First observation of expiry; status itself is a read-time projection.
		r.publishQuoteEvent(ctx, messaging.EventTypeQuoteExpired, e.quote, rfq.StatusExpired)
	}

	r.publishReceiptEvent(ctx, receipt)
	return receipt, nil
}

// Receipts returns the full adjudication history of a quote in arrival order.
func (r *Registry) Receipts(ctx context.Context, id uuid.UUID) ([]*rfq.Receipt, error) {
	r.mu.RLock()
	_, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrQuoteNotFound
	}
	return r.store.List(ctx, id)
}

func (r *Registry) view(e *entry) *QuoteView {
	q := *e.quote
	q.Status = e.ledger.Status()
	return &QuoteView{
		Quote:     q,
		Policy:    *e.policy,
		Status:    q.EffectiveStatus(r.now()),
		Remaining: e.ledger.Remaining().String(),
	}
}

func (r *Registry) publishQuoteEvent(ctx context.Context, eventType string, q *rfq.Quote, status rfq.QuoteStatus) {
	if r.bus == nil {
		return
	}
	event, err := messaging.NewEvent(eventType, q.ID, messaging.QuoteEvent{
		QuoteID:   q.ID,
		Maker:     q.Maker,
		Asset:     q.Spec.Asset,
		Currency:  q.Spec.Currency,
		Side:      string(q.Spec.Side),
		Size:      q.Spec.Size.String(),
		Status:    string(status),
		ExpiresAt: q.ExpiresAt,
	}, messaging.EventMetadata{Source: "rfqd"})
	if err != nil {
		r.logger.Warn("quote event build failed", zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, eventType, event); err != nil {
		r.logger.Warn("quote event publish failed",
			zap.String("quote_id", q.ID.String()),
			zap.Error(err))
	}
}

func (r *Registry) publishReceiptEvent(ctx context.Context, receipt *rfq.Receipt) {
	if r.bus == nil {
		return
	}
	event, err := messaging.NewEvent(messaging.EventTypeReceiptRecorded, receipt.QuoteID, messaging.ReceiptEvent{
		ReceiptID: receipt.ID,
		QuoteID:   receipt.QuoteID,
		FillID:    receipt.Attempt.ID,
		Taker:     receipt.Attempt.Taker,
		Accepted:  receipt.IsAccepted(),
		Reason:    string(receipt.RejectionCode()),
		Timestamp: receipt.CreatedAt,
	}, messaging.EventMetadata{
		CorrelationID: receipt.Attempt.ID.String(),
		Source:        "rfqd",
	})
	if err != nil {
		r.logger.Warn("receipt event build failed", zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, messaging.EventTypeReceiptRecorded, event); err != nil {
		r.logger.Warn("receipt event publish failed",
			zap.String("quote_id", receipt.QuoteID.String()),
			zap.Error(err))
	}
}
