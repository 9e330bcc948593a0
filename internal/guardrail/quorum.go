package guardrail

import (
	"github.com/shopspring/decimal"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

var hundred = decimal.NewFromInt(100)

// ResolvedPrice is the single trusted reference price produced from a quorum
// of agreeing sources. It gates admissibility and is recorded on the receipt;
// the taker's fill price still drives the monetary legs.
type ResolvedPrice struct {
	Price    decimal.Decimal
	Sources  []string
	Evidence []rfq.FeedEvidence
}

// ResolveQuorum decides whether enough independent sources agree closely
// enough and returns their arithmetic mean. When a source appears more than
// once in the validated evidence, its first observation is the one used.
// Spread is measured as (max - min) relative to the mean, in percent; spread
// equal to the tolerance is accepted.
func ResolveQuorum(p *rfq.Policy, valid []rfq.FeedEvidence) (*ResolvedPrice, *rfq.RejectionReason) {
	seen := make(map[string]bool, len(valid))
	distinct := make([]rfq.FeedEvidence, 0, len(valid))
	for _, ev := range valid {
		if seen[ev.Source] {
			continue
		}
		seen[ev.Source] = true
		distinct = append(distinct, ev)
	}

	if len(distinct) < p.QuorumCount {
		return nil, rfq.RejectQuorumCount(len(distinct), p.QuorumCount)
	}

	sum := decimal.Zero
	min := distinct[0].Price
	max := distinct[0].Price
	sources := make([]string, 0, len(distinct))
	for _, ev := range distinct {
		sum = sum.Add(ev.Price)
		if ev.Price.LessThan(min) {
			min = ev.Price
		}
		if ev.Price.GreaterThan(max) {
			max = ev.Price
		}
		sources = append(sources, ev.Source)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(distinct))))

	if len(distinct) >= 2 {
		spread := max.Sub(min).Div(mean).Mul(hundred)
		if spread.GreaterThan(p.QuorumTolerancePct) {
			return nil, rfq.RejectQuorumSpread(len(distinct), p.QuorumCount, spread, p.QuorumTolerancePct)
		}
	}

	return &ResolvedPrice{
		Price:    mean,
		Sources:  sources,
		Evidence: distinct,
	}, nil
}
