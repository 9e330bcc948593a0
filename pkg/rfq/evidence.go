package rfq

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedEvidence is one price source's observation, supplied by the taker with
// a fill attempt. The engine requires the signature token to be present but
// does not verify it cryptographically; that is the proving transport's job.
type FeedEvidence struct {
	Source    string          `json:"source"`
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Signature string          `json:"signature"`
}

// Age returns how old the observation is at now. Observations from the
// future read as age zero.
func (e FeedEvidence) Age(now time.Time) time.Duration {
	if e.Timestamp.After(now) {
		return 0
	}
	return now.Sub(e.Timestamp)
}
