package guardrail

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// Adjudicator runs one fill attempt through the full pipeline:
//
//	received -> evidence checked -> quorum resolved -> reserved ->
//	settlement computed -> accepted | rejected
//
// Any stage failure goes straight to rejected with that stage's reason; a
// reservation taken before the failure is released first. There is no retry
// state: a retry is a brand-new attempt.
type Adjudicator struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewAdjudicator builds an adjudicator using the wall clock.
func NewAdjudicator(logger *zap.Logger) *Adjudicator {
	return &Adjudicator{now: time.Now, logger: logger}
}

// WithClock overrides the clock, for tests and replay.
func (adj *Adjudicator) WithClock(now func() time.Time) *Adjudicator {
	adj.now = now
	return adj
}

// Adjudicate decides one fill attempt against a quote's policy and ledger.
// It returns the receipt recording the outcome and, on acceptance, the
// settlement bundle for the external proving transport. A non-nil error
// means the attempt itself was malformed (a caller bug, not a rejection);
// no receipt is produced in that case.
func (adj *Adjudicator) Adjudicate(q *rfq.Quote, p *rfq.Policy, l *Ledger, attempt *rfq.FillAttempt) (*rfq.Receipt, *rfq.SettlementBundle, error) {
	if err := attempt.Validate(); err != nil {
		return nil, nil, fmt.Errorf("malformed fill attempt: %w", err)
	}
	now := adj.now()

	// Lifecycle first: an expired or consumed quote rejects regardless of
	// how good the evidence or price is.
	if q.IsExpired(now) {
		return adj.reject(attempt, rfq.RejectQuoteExpired(q.ExpiresAt, now), now), nil, nil
	}
	if now.After(p.ExpiresAt) {
		return adj.reject(attempt, rfq.RejectQuoteExpired(p.ExpiresAt, now), now), nil, nil
	}
	switch l.Status() {
	case rfq.StatusActive:
	case rfq.StatusFilled:
		return adj.reject(attempt, rfq.RejectAlreadyFilled(), now), nil, nil
	default:
		return adj.reject(attempt, rfq.RejectQuoteNotActive(l.Status()), now), nil, nil
	}

	valid, reason := ValidateEvidence(p, attempt.Evidence, now)
	if reason != nil {
		return adj.reject(attempt, reason, now), nil, nil
	}

	resolved, reason := ResolveQuorum(p, valid)
	if reason != nil {
		return adj.reject(attempt, reason, now), nil, nil
	}

	// Reserve before the remaining bound checks to close the overfill and
	// replay window, rolling back on any later rejection.
	res, reason := l.TryReserve(attempt.Size)
	if reason != nil {
		return adj.reject(attempt, reason, now), nil, nil
	}

	settlement, reason := ComputeSettlement(q, p, attempt, resolved, now)
	if reason != nil {
		res.Release()
		return adj.reject(attempt, reason, now), nil, nil
	}

	res.Commit(now)

	input := rfq.PolicyInput{
		Policy:           *p,
		Taker:            attempt.Taker,
		FillSize:         attempt.Size,
		FillPrice:        attempt.Price,
		Evidence:         resolved.Evidence,
		CurrentTimestamp: now.Unix(),
	}
	blob, err := input.Marshal()
	if err != nil {
		// Marshalling our own value types cannot fail; treat it as fatal
		// for this attempt rather than losing the audit trail.
		return nil, nil, fmt.Errorf("serialize policy input: %w", err)
	}

	receipt := rfq.NewAcceptedReceipt(attempt, *settlement, resolved.Evidence, now)
	bundle := &rfq.SettlementBundle{
		QuoteID:          q.ID,
		FillID:           attempt.ID,
		Maker:            q.Maker,
		Taker:            attempt.Taker,
		Settlement:       *settlement,
		ResolvedEvidence: resolved.Evidence,
		PolicyInput:      blob,
	}

	adj.logger.Info("fill accepted",
		zap.String("quote_id", q.ID.String()),
		zap.String("fill_id", attempt.ID.String()),
		zap.String("taker", attempt.Taker),
		zap.String("size", attempt.Size.String()),
		zap.String("price", attempt.Price.String()),
		zap.String("resolved_price", settlement.ResolvedPrice.String()),
	)
	return receipt, bundle, nil
}

func (adj *Adjudicator) reject(attempt *rfq.FillAttempt, reason *rfq.RejectionReason, now time.Time) *rfq.Receipt {
	adj.logger.Info("fill rejected",
		zap.String("quote_id", attempt.QuoteID.String()),
		zap.String("fill_id", attempt.ID.String()),
		zap.String("taker", attempt.Taker),
		zap.String("code", string(reason.Code)),
	)
	return rfq.NewRejectedReceipt(attempt, reason, now)
}
