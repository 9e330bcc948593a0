package rfq

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrBadFillSize      = errors.New("fill size must be positive")
	ErrBadFillPrice     = errors.New("fill price must be positive")
	ErrBadEvidencePrice = errors.New("evidence price must be positive")
	ErrMissingTaker     = errors.New("fill attempt must identify a taker")
)

// TransferLeg is one proposed transfer beyond the two settlement legs, for
// example a fee to a facilitator.
type TransferLeg struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// FillRequest is the wire form of a taker's submission.
type FillRequest struct {
	Taker         string          `json:"taker"`
	TakerShard    uint64          `json:"taker_shard"`
	Size          decimal.Decimal `json:"size"`
	Price         decimal.Decimal `json:"price"`
	Evidence      []FeedEvidence  `json:"evidence"`
	SideTransfers []TransferLeg   `json:"side_transfers,omitempty"`
}

// FillAttempt is one taker's submission against a quote. It is consumed by a
// single adjudication call and recorded verbatim on the resulting receipt.
type FillAttempt struct {
	ID            uuid.UUID       `json:"id"`
	QuoteID       uuid.UUID       `json:"quote_id"`
	Taker         string          `json:"taker"`
	TakerShard    uint64          `json:"taker_shard"`
	Size          decimal.Decimal `json:"size"`
	Price         decimal.Decimal `json:"price"`
	Evidence      []FeedEvidence  `json:"evidence"`
	SideTransfers []TransferLeg   `json:"side_transfers,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// NewFillAttempt binds a wire request to a quote with a fresh fill id.
func NewFillAttempt(quoteID uuid.UUID, req *FillRequest, now time.Time) *FillAttempt {
	return &FillAttempt{
		ID:            uuid.New(),
		QuoteID:       quoteID,
		Taker:         req.Taker,
		TakerShard:    req.TakerShard,
		Size:          req.Size,
		Price:         req.Price,
		Evidence:      req.Evidence,
		SideTransfers: req.SideTransfers,
		SubmittedAt:   now,
	}
}

// Validate reports malformed submissions. These are caller errors and are
// surfaced distinctly from policy rejections.
func (a *FillAttempt) Validate() error {
	if a.Taker == "" {
		return ErrMissingTaker
	}
	if !a.Size.IsPositive() {
		return ErrBadFillSize
	}
	if !a.Price.IsPositive() {
		return ErrBadFillPrice
	}
	for _, ev := range a.Evidence {
		if !ev.Price.IsPositive() {
			return ErrBadEvidencePrice
		}
	}
	return nil
}

// Settlement is the computed output of an admitted fill: the exact two-leg
// delivery-vs-payment amounts plus an optional capped fee leg.
//
// Invariant: MakerDebit == TakerCredit (the currency leg) and
// MakerCredit == TakerDebit (the asset leg).
type Settlement struct {
	MakerDebit    decimal.Decimal `json:"maker_debit"`
	MakerCredit   decimal.Decimal `json:"maker_credit"`
	TakerDebit    decimal.Decimal `json:"taker_debit"`
	TakerCredit   decimal.Decimal `json:"taker_credit"`
	Asset         string          `json:"asset"`
	Currency      string          `json:"currency"`
	ResolvedPrice decimal.Decimal `json:"resolved_price"`
	Fee           *TransferLeg    `json:"fee,omitempty"`
	SettledAt     time.Time       `json:"settled_at"`
}

// PolicyInput is the serialized policy-input blob handed to the external
// proving transport alongside an admitted settlement. It contains everything
// the prover needs to re-run the guardrail decision.
type PolicyInput struct {
	Policy           Policy          `json:"policy"`
	Taker            string          `json:"taker"`
	FillSize         decimal.Decimal `json:"fill_size"`
	FillPrice        decimal.Decimal `json:"fill_price"`
	Evidence         []FeedEvidence  `json:"evidence"`
	CurrentTimestamp int64           `json:"current_timestamp"`
}

// Marshal renders the blob. The transport treats the result as opaque.
func (in *PolicyInput) Marshal() (json.RawMessage, error) {
	return json.Marshal(in)
}

// SettlementBundle is the engine's durable output for one accepted fill.
type SettlementBundle struct {
	QuoteID          uuid.UUID       `json:"quote_id"`
	FillID           uuid.UUID       `json:"fill_id"`
	Maker            string          `json:"maker"`
	Taker            string          `json:"taker"`
	Settlement       Settlement      `json:"settlement"`
	ResolvedEvidence []FeedEvidence  `json:"resolved_evidence"`
	PolicyInput      json.RawMessage `json:"policy_input"`
}
