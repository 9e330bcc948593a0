package guardrail

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// Ledger holds the mutable state for one quote: remaining fillable size, the
// single-use nonce, and the lifecycle status. It is the sole authority that
// consumes a quote. All fill attempts against the same quote serialize on the
// ledger's mutex; attempts against different quotes never share state.
type Ledger struct {
	mu sync.Mutex

	remaining     decimal.Decimal
	maxFill       decimal.Decimal
	nonceHeld     bool
	nonceConsumed bool
	status        rfq.QuoteStatus
	filledAt      time.Time
}

// Reservation is an exclusive claim on the quote's nonce and a slice of its
// remaining size. It must be either committed or released, exactly once.
type Reservation struct {
	ledger *Ledger
	size   decimal.Decimal
	done   bool
}

// NewLedger builds the ledger for a freshly created quote.
func NewLedger(p *rfq.Policy) *Ledger {
	return &Ledger{
		remaining: p.MaxFillSize,
		maxFill:   p.MaxFillSize,
		status:    rfq.StatusActive,
	}
}

// TryReserve atomically claims the nonce and decrements remaining size. This
// is the single synchronization point for concurrent fills: exactly one
// caller observes success for a single-use quote. A reservation taken here
// must later be committed or released.
func (l *Ledger) TryReserve(size decimal.Decimal) (*Reservation, *rfq.RejectionReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.nonceConsumed || l.nonceHeld || l.status == rfq.StatusFilled {
		return nil, rfq.RejectAlreadyFilled()
	}
	if l.status != rfq.StatusActive {
		return nil, rfq.RejectQuoteNotActive(l.status)
	}
	if size.GreaterThan(l.remaining) {
		return nil, rfq.RejectSizeExceedsMax(size, l.remaining, l.maxFill)
	}

	l.nonceHeld = true
	l.remaining = l.remaining.Sub(size)
	return &Reservation{ledger: l, size: size}, nil
}

// Release rolls back a reservation whose adjudication failed at a later
// stage, restoring remaining size and the nonce. Safe to call once.
func (r *Reservation) Release() {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	l.nonceHeld = false
	l.remaining = l.remaining.Add(r.size)
}

// Commit consumes the nonce and marks the quote filled. The quote is
// fillable once, so every successful commit terminates it.
func (r *Reservation) Commit(now time.Time) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	l.nonceHeld = false
	l.nonceConsumed = true
	l.status = rfq.StatusFilled
	l.filledAt = now
}

// Cancel moves an active quote to cancelled. Cancelling a filled quote is
// rejected; cancelling twice is idempotent.
func (l *Ledger) Cancel() *rfq.RejectionReason {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.status {
	case rfq.StatusFilled:
		return rfq.RejectAlreadyFilled()
	case rfq.StatusCancelled:
		return nil
	}
	if l.nonceHeld {
		// A fill is mid-adjudication; let it win or lose first.
		return rfq.RejectFillInFlight()
	}
	l.status = rfq.StatusCancelled
	return nil
}

// Remaining returns the currently unreserved fillable size.
func (l *Ledger) Remaining() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

// Status returns the stored lifecycle status. Expiry is a read-time
// projection applied by the quote, not stored here.
func (l *Ledger) Status() rfq.QuoteStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// FilledAt returns when the quote was filled, zero if it was not.
func (l *Ledger) FilledAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filledAt
}
