package guardrail

import (
	"fmt"
	"time"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// ComputeSettlement runs the policy bound checks for an attempt that already
// passed evidence validation, quorum resolution, and size reservation, then
// computes the exact transfer legs.
//
// Check order: taker allowlist, asset/currency coherence, limit price,
// minimum credit, maximum debit, side payments. The legs are the atomic DvP
// pair: maker pays size*price in currency, taker delivers size of the asset.
func ComputeSettlement(q *rfq.Quote, p *rfq.Policy, a *rfq.FillAttempt, resolved *ResolvedPrice, now time.Time) (*rfq.Settlement, *rfq.RejectionReason) {
	if !p.AllowsTaker(a.Taker) {
		return nil, rfq.RejectUnauthorizedTaker(a.Taker, p.AllowedTakers)
	}

	if p.Asset != q.Spec.Asset {
		return nil, rfq.RejectAssetMismatch("", q.Spec.Asset, p.Asset)
	}
	if p.Currency != q.Spec.Currency {
		return nil, rfq.RejectAssetMismatch("", q.Spec.Currency, p.Currency)
	}

	if limit := q.Spec.LimitPrice; limit != nil {
		switch q.Spec.Side {
		case rfq.SideBuy:
			if a.Price.GreaterThan(*limit) {
				return nil, rfq.RejectPriceExceedsLimit(a.Price, *limit)
			}
		case rfq.SideSell:
			if a.Price.LessThan(*limit) {
				return nil, rfq.RejectPriceBelowLimit(a.Price, *limit)
			}
		}
	}

	notional := a.Size.Mul(a.Price)

	if p.MinCredit != nil && notional.LessThan(*p.MinCredit) {
		return nil, rfq.RejectBelowMinCredit(notional, *p.MinCredit)
	}
	if notional.GreaterThan(p.MaxDebit) {
		return nil, rfq.RejectMaxDebitExceeded(notional, p.MaxDebit)
	}

	fee, reject := checkSideTransfers(p, a)
	if reject != nil {
		return nil, reject
	}

	return &rfq.Settlement{
		MakerDebit:    notional,
		MakerCredit:   a.Size,
		TakerDebit:    a.Size,
		TakerCredit:   notional,
		Asset:         q.Spec.Asset,
		Currency:      q.Spec.Currency,
		ResolvedPrice: resolved.Price,
		Fee:           fee,
		SettledAt:     now,
	}, nil
}

// checkSideTransfers enforces the transfer-pattern lock and side-payment
// flag: beyond the two settlement legs, at most one extra leg is ever
// tolerated, and under no_side_payments it must be the policy's allowlisted
// fee within its cap.
func checkSideTransfers(p *rfq.Policy, a *rfq.FillAttempt) (*rfq.TransferLeg, *rfq.RejectionReason) {
	if len(a.SideTransfers) == 0 {
		return nil, nil
	}
	if len(a.SideTransfers) > 1 {
		return nil, rfq.RejectSidePayment(fmt.Sprintf("%d extra transfer legs proposed, at most 1 allowed", len(a.SideTransfers)))
	}
	leg := a.SideTransfers[0]
	if p.NoSidePayments || p.RequireAtomicDvP {
		if p.FeeRecipient == "" {
			return nil, rfq.RejectSidePayment("policy allows no fee leg")
		}
		if leg.Recipient != p.FeeRecipient {
			return nil, rfq.RejectSidePayment(fmt.Sprintf("fee recipient %q is not the allowlisted %q", leg.Recipient, p.FeeRecipient))
		}
		if leg.Amount.GreaterThan(p.FeeCap) {
			return nil, rfq.RejectSidePayment(fmt.Sprintf("fee %s exceeds cap %s", leg.Amount, p.FeeCap))
		}
	}
	return &leg, nil
}
