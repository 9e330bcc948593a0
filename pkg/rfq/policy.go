package rfq

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoAllowedSources = errors.New("policy must allow at least one evidence source")
	ErrBadQuorum        = errors.New("policy quorum count must be at least 1")
	ErrBadMaxDebit      = errors.New("policy max debit must be positive")
	ErrBadMaxFillSize   = errors.New("policy max fill size must be positive")
	ErrBadStaleness     = errors.New("policy max staleness must be positive")
	ErrBadTolerance     = errors.New("policy quorum tolerance must not be negative")
	ErrNoExpiry         = errors.New("policy must carry an expiry timestamp")
)

// Policy holds the compiled guardrails for one quote. A Policy is immutable
// after creation: every validation step reads it, none mutates it.
type Policy struct {
	QuoteID            uuid.UUID        `json:"quote_id"`
	MaxDebit           decimal.Decimal  `json:"max_debit"`
	MinCredit          *decimal.Decimal `json:"min_credit,omitempty"`
	ExpiresAt          time.Time        `json:"expires_at"`
	AllowedSources     []string         `json:"allowed_sources"`
	MaxStaleness       time.Duration    `json:"max_staleness"`
	QuorumCount        int              `json:"quorum_count"`
	QuorumTolerancePct decimal.Decimal  `json:"quorum_tolerance_pct"`
	AllowedTakers      []string         `json:"allowed_takers,omitempty"`
	Asset              string           `json:"asset"`
	Currency           string           `json:"currency"`
	RequireAtomicDvP   bool             `json:"require_atomic_dvp"`
	NoSidePayments     bool             `json:"no_side_payments"`
	FeeRecipient       string           `json:"fee_recipient,omitempty"`
	FeeCap             decimal.Decimal  `json:"fee_cap"`
	MaxFillSize        decimal.Decimal  `json:"max_fill_size"`
	Nonce              uint64           `json:"nonce"`
}

// Validate reports invariant violations in the compiled policy. A failure here
// is a compiler/caller bug, not a fill rejection.
func (p *Policy) Validate() error {
	if len(p.AllowedSources) == 0 {
		return ErrNoAllowedSources
	}
	if p.QuorumCount < 1 {
		return ErrBadQuorum
	}
	if !p.MaxDebit.IsPositive() {
		return ErrBadMaxDebit
	}
	if !p.MaxFillSize.IsPositive() {
		return ErrBadMaxFillSize
	}
	if p.MaxStaleness <= 0 {
		return ErrBadStaleness
	}
	if p.QuorumTolerancePct.IsNegative() {
		return ErrBadTolerance
	}
	if p.ExpiresAt.IsZero() {
		return ErrNoExpiry
	}
	if p.Asset == "" || p.Currency == "" {
		return fmt.Errorf("policy must name an asset/currency pair")
	}
	if p.FeeCap.IsNegative() {
		return fmt.Errorf("policy fee cap must not be negative")
	}
	return nil
}

// AllowsTaker reports whether the taker passes the allowlist. An empty
// allowlist means any taker.
func (p *Policy) AllowsTaker(taker string) bool {
	if len(p.AllowedTakers) == 0 {
		return true
	}
	for _, t := range p.AllowedTakers {
		if t == taker {
			return true
		}
	}
	return false
}

// AllowsSource reports whether the evidence source is allowlisted.
func (p *Policy) AllowsSource(source string) bool {
	for _, s := range p.AllowedSources {
		if s == source {
			return true
		}
	}
	return false
}
