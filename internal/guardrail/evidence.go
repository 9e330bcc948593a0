package guardrail

import (
	"time"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// ValidateEvidence checks every evidence item against the policy, strictly
// left to right. The first failing item short-circuits with a reason naming
// that item, so the taker learns exactly which observation failed. Equality
// with the staleness bound is accepted; exceeding it is not.
//
// Pure function: no state is touched beyond the supplied clock value.
func ValidateEvidence(p *rfq.Policy, evidence []rfq.FeedEvidence, now time.Time) ([]rfq.FeedEvidence, *rfq.RejectionReason) {
	valid := make([]rfq.FeedEvidence, 0, len(evidence))
	for _, ev := range evidence {
		if !p.AllowsSource(ev.Source) {
			return nil, rfq.RejectUnauthorizedSource(ev.Source, p.AllowedSources)
		}
		if ev.Age(now) > p.MaxStaleness {
			return nil, rfq.RejectStaleFeed(ev.Source, ev.Timestamp, now, p.MaxStaleness)
		}
		if ev.Asset != p.Asset {
			return nil, rfq.RejectAssetMismatch(ev.Source, ev.Asset, p.Asset)
		}
		if ev.Signature == "" {
			return nil, rfq.RejectMissingProvenance(ev.Source)
		}
		valid = append(valid, ev)
	}
	return valid, nil
}
