package rfq

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side represents the maker's side of a quote
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// QuoteStatus represents the lifecycle state of a quote
type QuoteStatus string

const (
	StatusActive    QuoteStatus = "active"
	StatusFilled    QuoteStatus = "filled"
	StatusExpired   QuoteStatus = "expired"
	StatusCancelled QuoteStatus = "cancelled"
)

// QuoteSpec describes what the maker wants to trade
type QuoteSpec struct {
	Asset      string           `json:"asset"`
	Size       decimal.Decimal  `json:"size"`
	Side       Side             `json:"side"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	Currency   string           `json:"currency"`
}

// Quote is one maker's standing offer. Status is the only mutable field and
// it is mutated exclusively through the ledger; callers see copies.
type Quote struct {
	ID           uuid.UUID   `json:"id"`
	Spec         QuoteSpec   `json:"spec"`
	Status       QuoteStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Maker        string      `json:"maker"`
	MakerShard   uint64      `json:"maker_shard"`
	OriginalText string      `json:"original_text,omitempty"`
}

// IsExpired reports whether the quote's expiry has passed at now.
func (q *Quote) IsExpired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// EffectiveStatus projects expiry at read time: a quote whose stored status
// is still active reads as expired once its expiry has passed. No background
// sweep updates the stored field.
func (q *Quote) EffectiveStatus(now time.Time) QuoteStatus {
	if q.Status == StatusActive && q.IsExpired(now) {
		return StatusExpired
	}
	return q.Status
}
