package rfq

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AcceptedOutcome records what an admitted fill settled into.
type AcceptedOutcome struct {
	Settlement       Settlement     `json:"settlement"`
	ResolvedEvidence []FeedEvidence `json:"resolved_evidence"`
}

// Outcome is either an acceptance or a rejection, never both.
type Outcome struct {
	Accepted *AcceptedOutcome `json:"accepted,omitempty"`
	Rejected *RejectionReason `json:"rejected,omitempty"`
}

// Receipt is the permanent audit record of one fill attempt. Once created it
// is immutable; receipts accumulate per quote in submission order.
type Receipt struct {
	ID        uuid.UUID   `json:"receipt_id"`
	QuoteID   uuid.UUID   `json:"quote_id"`
	Attempt   FillAttempt `json:"attempt"`
	Outcome   Outcome     `json:"outcome"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewAcceptedReceipt records an admitted fill.
func NewAcceptedReceipt(attempt *FillAttempt, settlement Settlement, resolved []FeedEvidence, now time.Time) *Receipt {
	return &Receipt{
		ID:      uuid.New(),
		QuoteID: attempt.QuoteID,
		Attempt: *attempt,
		Outcome: Outcome{Accepted: &AcceptedOutcome{
			Settlement:       settlement,
			ResolvedEvidence: resolved,
		}},
		CreatedAt: now,
	}
}

// NewRejectedReceipt records a rejected fill with its reason.
func NewRejectedReceipt(attempt *FillAttempt, reason *RejectionReason, now time.Time) *Receipt {
	return &Receipt{
		ID:        uuid.New(),
		QuoteID:   attempt.QuoteID,
		Attempt:   *attempt,
		Outcome:   Outcome{Rejected: reason},
		CreatedAt: now,
	}
}

// IsAccepted reports whether the fill was admitted.
func (r *Receipt) IsAccepted() bool {
	return r.Outcome.Accepted != nil
}

// RejectionCode returns the reason code for a rejected receipt, or "" for an
// accepted one.
func (r *Receipt) RejectionCode() ReasonCode {
	if r.Outcome.Rejected == nil {
		return ""
	}
	return r.Outcome.Rejected.Code
}

// ReceiptSummary is a display-friendly projection of a receipt.
type ReceiptSummary struct {
	ReceiptID uuid.UUID       `json:"receipt_id"`
	QuoteID   uuid.UUID       `json:"quote_id"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Code      string          `json:"reason_code,omitempty"`
	Taker     string          `json:"taker"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Summary renders the receipt for listing endpoints.
func (r *Receipt) Summary() ReceiptSummary {
	s := ReceiptSummary{
		ReceiptID: r.ID,
		QuoteID:   r.QuoteID,
		Status:    "accepted",
		Taker:     r.Attempt.Taker,
		Size:      r.Attempt.Size,
		Price:     r.Attempt.Price,
		Timestamp: r.CreatedAt,
	}
	if rej := r.Outcome.Rejected; rej != nil {
		s.Status = "rejected"
		s.Reason = rej.Message()
		s.Code = string(rej.Code)
	}
	return s
}
