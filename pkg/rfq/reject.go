package rfq

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReasonCode identifies why a fill attempt was rejected. The set is closed:
// callers branch on the code alone and no reason is ever merged with another.
type ReasonCode string

const (
	ReasonStaleFeed           ReasonCode = "stale_feed"
	ReasonUnauthorizedSource  ReasonCode = "unauthorized_source"
	ReasonAssetMismatch       ReasonCode = "asset_mismatch"
	ReasonMissingProvenance   ReasonCode = "missing_provenance"
	ReasonQuorumNotMet        ReasonCode = "quorum_not_met"
	ReasonUnauthorizedTaker   ReasonCode = "unauthorized_taker"
	ReasonPriceExceedsLimit   ReasonCode = "price_exceeds_limit"
	ReasonPriceBelowLimit     ReasonCode = "price_below_limit"
	ReasonMaxDebitExceeded    ReasonCode = "max_debit_exceeded"
	ReasonSizeExceedsMax      ReasonCode = "size_exceeds_max"
	ReasonAlreadyFilled       ReasonCode = "already_filled"
	ReasonSidePaymentDetected ReasonCode = "side_payment_detected"
	ReasonQuoteExpired        ReasonCode = "quote_expired"
	ReasonQuoteNotActive      ReasonCode = "quote_not_active"
)

// RejectionDetail carries the numeric and contextual facts needed to
// reproduce a rejection decision. Only the fields relevant to the code are
// populated.
type RejectionDetail struct {
	Source           string           `json:"source,omitempty"`
	AllowedSources   []string         `json:"allowed_sources,omitempty"`
	Taker            string           `json:"taker,omitempty"`
	AllowedTakers    []string         `json:"allowed_takers,omitempty"`
	FeedTimestamp    int64            `json:"feed_timestamp,omitempty"`
	CurrentTimestamp int64            `json:"current_timestamp,omitempty"`
	MaxStalenessSecs int64            `json:"max_staleness_secs,omitempty"`
	Asset            string           `json:"asset,omitempty"`
	ExpectedAsset    string           `json:"expected_asset,omitempty"`
	SourcesProvided  int              `json:"sources_provided,omitempty"`
	QuorumRequired   int              `json:"quorum_required,omitempty"`
	SpreadPct        *decimal.Decimal `json:"spread_pct,omitempty"`
	TolerancePct     *decimal.Decimal `json:"tolerance_pct,omitempty"`
	OfferedPrice     *decimal.Decimal `json:"offered_price,omitempty"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	MinCredit        *decimal.Decimal `json:"min_credit,omitempty"`
	OfferedDebit     *decimal.Decimal `json:"offered_debit,omitempty"`
	MaxDebit         *decimal.Decimal `json:"max_debit,omitempty"`
	RequestedSize    *decimal.Decimal `json:"requested_size,omitempty"`
	RemainingSize    *decimal.Decimal `json:"remaining_size,omitempty"`
	MaxFillSize      *decimal.Decimal `json:"max_fill_size,omitempty"`
	ExpiredAt        int64            `json:"expired_at,omitempty"`
	AttemptedAt      int64            `json:"attempted_at,omitempty"`
	Status           string           `json:"status,omitempty"`
	Description      string           `json:"description,omitempty"`
}

// RejectionReason is a structured rejection: a code from the closed set plus
// the detail needed to reproduce the decision. Rejections are values, not
// errors; an invariant violation (malformed input) is a Go error instead.
type RejectionReason struct {
	Code   ReasonCode      `json:"code"`
	Detail RejectionDetail `json:"detail"`
}

// Message renders a human-readable explanation of the rejection.
func (r *RejectionReason) Message() string {
	d := r.Detail
	switch r.Code {
	case ReasonStaleFeed:
		age := d.CurrentTimestamp - d.FeedTimestamp
		return fmt.Sprintf("feed data from %q is stale: %ds old, max allowed is %ds",
			d.Source, age, d.MaxStalenessSecs)
	case ReasonUnauthorizedSource:
		return fmt.Sprintf("source %q not in allowlist [%s]",
			d.Source, strings.Join(d.AllowedSources, ", "))
	case ReasonAssetMismatch:
		return fmt.Sprintf("asset %q does not match policy asset %q", d.Asset, d.ExpectedAsset)
	case ReasonMissingProvenance:
		return fmt.Sprintf("evidence from %q carries no provenance token", d.Source)
	case ReasonQuorumNotMet:
		if d.SpreadPct != nil {
			return fmt.Sprintf("price spread %s%% exceeds tolerance %s%%",
				d.SpreadPct.StringFixed(4), d.TolerancePct.StringFixed(4))
		}
		return fmt.Sprintf("only %d distinct sources provided, %d required for quorum",
			d.SourcesProvided, d.QuorumRequired)
	case ReasonUnauthorizedTaker:
		return fmt.Sprintf("taker %q not in allowlist [%s]",
			d.Taker, strings.Join(d.AllowedTakers, ", "))
	case ReasonPriceExceedsLimit:
		return fmt.Sprintf("offered price %s exceeds limit %s",
			d.OfferedPrice, d.LimitPrice)
	case ReasonPriceBelowLimit:
		if d.MinCredit != nil {
			return fmt.Sprintf("offered terms credit %s below minimum %s",
				d.OfferedDebit, d.MinCredit)
		}
		return fmt.Sprintf("offered price %s below limit %s", d.OfferedPrice, d.LimitPrice)
	case ReasonMaxDebitExceeded:
		return fmt.Sprintf("fill debit %s exceeds max debit %s", d.OfferedDebit, d.MaxDebit)
	case ReasonSizeExceedsMax:
		return fmt.Sprintf("requested size %s exceeds remaining %s (max %s)",
			d.RequestedSize, d.RemainingSize, d.MaxFillSize)
	case ReasonAlreadyFilled:
		return "quote was already filled"
	case ReasonSidePaymentDetected:
		return fmt.Sprintf("side payment detected: %s", d.Description)
	case ReasonQuoteExpired:
		return fmt.Sprintf("quote expired at %s (attempted at %s)",
			time.Unix(d.ExpiredAt, 0).UTC().Format(time.RFC3339),
			time.Unix(d.AttemptedAt, 0).UTC().Format(time.RFC3339))
	case ReasonQuoteNotActive:
		if d.Description != "" {
			return d.Description
		}
		return fmt.Sprintf("quote is not active (status %s)", d.Status)
	}
	return string(r.Code)
}

func dec(d decimal.Decimal) *decimal.Decimal { return &d }

// Constructors keep detail fields consistent per code.

func RejectStaleFeed(source string, feedTS, now time.Time, maxStaleness time.Duration) *RejectionReason {
	return &RejectionReason{Code: ReasonStaleFeed, Detail: RejectionDetail{
		Source:           source,
		FeedTimestamp:    feedTS.Unix(),
		CurrentTimestamp: now.Unix(),
		MaxStalenessSecs: int64(maxStaleness / time.Second),
	}}
}

func RejectUnauthorizedSource(source string, allowed []string) *RejectionReason {
	return &RejectionReason{Code: ReasonUnauthorizedSource, Detail: RejectionDetail{
		Source:         source,
		AllowedSources: allowed,
	}}
}

func RejectAssetMismatch(source, asset, expected string) *RejectionReason {
	return &RejectionReason{Code: ReasonAssetMismatch, Detail: RejectionDetail{
		Source:        source,
		Asset:         asset,
		ExpectedAsset: expected,
	}}
}

func RejectMissingProvenance(source string) *RejectionReason {
	return &RejectionReason{Code: ReasonMissingProvenance, Detail: RejectionDetail{Source: source}}
}

func RejectQuorumCount(provided, required int) *RejectionReason {
	return &RejectionReason{Code: ReasonQuorumNotMet, Detail: RejectionDetail{
		SourcesProvided: provided,
		QuorumRequired:  required,
	}}
}

func RejectQuorumSpread(provided, required int, spread, tolerance decimal.Decimal) *RejectionReason {
	return &RejectionReason{Code: ReasonQuorumNotMet, Detail: RejectionDetail{
		SourcesProvided: provided,
		QuorumRequired:  required,
		SpreadPct:       dec(spread),
		TolerancePct:    dec(tolerance),
	}}
}

func RejectUnauthorizedTaker(taker string, allowed []string) *RejectionReason {
	return &RejectionReason{Code: ReasonUnauthorizedTaker, Detail: RejectionDetail{
		Taker:         taker,
		AllowedTakers: allowed,
	}}
}

func RejectPriceExceedsLimit(offered, limit decimal.Decimal) *RejectionReason {
	return &RejectionReason{Code: ReasonPriceExceedsLimit, Detail: RejectionDetail{
		OfferedPrice: dec(offered),
		LimitPrice:   dec(limit),
	}}
}

func RejectPriceBelowLimit(offered, limit decimal.Decimal) *RejectionReason {
	return &RejectionReason{Code: ReasonPriceBelowLimit, Detail: RejectionDetail{
		OfferedPrice: dec(offered),
		LimitPrice:   dec(limit),
	}}
}

func RejectBelowMinCredit(offeredCredit, minCredit decimal.Decimal) *RejectionReason {
	return &RejectionReason{Code: ReasonPriceBelowLimit, Detail: RejectionDetail{
		OfferedDebit: dec(offeredCredit),
		MinCredit:    dec(minCredit),
	}}
}

func RejectMaxDebitExceeded(offeredDebit, maxDebit decimal.Decimal) *RejectionReason {
	return &RejectionReason{Code: ReasonMaxDebitExceeded, Detail: RejectionDetail{
		OfferedDebit: dec(offeredDebit),
		MaxDebit:     dec(maxDebit),
	}}
}

func RejectSizeExceedsMax(requested, remaining, max decimal.Decimal) *RejectionReason {
	return &RejectionReason{Code: ReasonSizeExceedsMax, Detail: RejectionDetail{
		RequestedSize: dec(requested),
		RemainingSize: dec(remaining),
		MaxFillSize:   dec(max),
	}}
}

func RejectAlreadyFilled() *RejectionReason {
	return &RejectionReason{Code: ReasonAlreadyFilled}
}

func RejectSidePayment(description string) *RejectionReason {
	return &RejectionReason{Code: ReasonSidePaymentDetected, Detail: RejectionDetail{
		Description: description,
	}}
}

func RejectQuoteExpired(expiredAt, attemptedAt time.Time) *RejectionReason {
	return &RejectionReason{Code: ReasonQuoteExpired, Detail: RejectionDetail{
		ExpiredAt:   expiredAt.Unix(),
		AttemptedAt: attemptedAt.Unix(),
	}}
}

func RejectQuoteNotActive(status QuoteStatus) *RejectionReason {
	return &RejectionReason{Code: ReasonQuoteNotActive, Detail: RejectionDetail{
		Status: string(status),
	}}
}

// RejectFillInFlight reports a cancellation that lost the race to a fill
// adjudication holding the nonce.
func RejectFillInFlight() *RejectionReason {
	return &RejectionReason{Code: ReasonQuoteNotActive, Detail: RejectionDetail{
		Description: "a fill adjudication is in flight; retry after it settles",
	}}
}
