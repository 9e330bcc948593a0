package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

var (
	ErrNoSide   = errors.New("quote text does not state a side")
	ErrNoSize   = errors.New("quote text does not state a size")
	ErrNoAsset  = errors.New("quote text does not state an asset")
	ErrNoSource = errors.New("quote text does not name any price feed")
)

// Defaults applied when the quote text leaves a constraint unstated.
const (
	DefaultStaleness    = 60 * time.Second
	DefaultQuorum       = 1
	DefaultExpiry       = 15 * time.Minute
	defaultTolerancePct = "1.0"
)

// Compiler turns quote text into a structured quote and policy. The engine
// only ever consumes the structured output; it never re-reads the text.
type Compiler interface {
	Compile(text string, nonce uint64) (*rfq.Quote, *rfq.Policy, error)
}

// RuleCompiler is a deterministic keyword compiler. It recognizes the
// phrasing used throughout the demo scenarios; anything it cannot extract
// falls back to a conservative default.
type RuleCompiler struct {
	now func() time.Time
}

func NewRuleCompiler() *RuleCompiler {
	return &RuleCompiler{now: time.Now}
}

// WithClock overrides the wall clock.
func (c *RuleCompiler) WithClock(now func() time.Time) *RuleCompiler {
	c.now = now
	return c
}

var (
	sizeAssetRe = regexp.MustCompile(`(?i)\b(buy|sell)(?:ing)?\s+([0-9]+(?:\.[0-9]+)?)\s+([A-Za-z][A-Za-z0-9]*)`)
	maxPriceRe  = regexp.MustCompile(`(?i)(?:at most|max(?:imum)?|no more than|up to|below|under)\s+\$?([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z][A-Za-z0-9]*)?`)
	minPriceRe  = regexp.MustCompile(`(?i)(?:at least|min(?:imum)?|no less than|above|over)\s+\$?([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z][A-Za-z0-9]*)?`)
	expiryRe    = regexp.MustCompile(`(?i)(?:expires?|valid)\s+(?:in|for)\s+([0-9]+)\s*(second|sec|minute|min|hour|hr)s?`)
	stalenessRe = regexp.MustCompile(`(?i)(?:fresher|newer|staleness)\s+(?:than\s+)?([0-9]+)\s*(?:second|sec)s?`)
	quorumRe    = regexp.MustCompile(`(?i)\b([0-9]+)\s+(?:feeds?|sources?)\s+(?:must\s+)?agree`)
	toleranceRe = regexp.MustCompile(`(?i)within\s+([0-9]+(?:\.[0-9]+)?)\s*(?:%|percent)`)
	sourceRe    = regexp.MustCompile(`(?i)\b(?:from|using|via|per)\s+((?:Feed[A-Za-z0-9]+)(?:\s*(?:,|or|and)\s*Feed[A-Za-z0-9]+)*)`)
	feedNameRe  = regexp.MustCompile(`Feed[A-Za-z0-9]+`)
	takerRe     = regexp.MustCompile(`(?i)\bonly\s+(?:to|from|with)\s+([A-Za-z][A-Za-z0-9_\-]*(?:\s*(?:,|or|and)\s*[A-Za-z][A-Za-z0-9_\-]*)*)`)
	nameRe      = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_\-]*`)
)

// Compile extracts structured terms from the text and binds them to a fresh
// quote id. The returned policy always passes Validate.
func (c *RuleCompiler) Compile(text string, nonce uint64) (*rfq.Quote, *rfq.Policy, error) {
	m := sizeAssetRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, fmt.Errorf("compile %q: %w", text, ErrNoSide)
	}
	side := rfq.Side(strings.ToLower(m[1]))
	size, err := decimal.NewFromString(m[2])
	if err != nil || !size.IsPositive() {
		return nil, nil, fmt.Errorf("compile %q: %w", text, ErrNoSize)
	}
	asset := m[3]

	currency := "USDD"
	var maxPrice, minPrice *decimal.Decimal
	if pm := maxPriceRe.FindStringSubmatch(text); pm != nil {
		p, err := decimal.NewFromString(pm[1])
		if err == nil {
			maxPrice = &p
			if pm[2] != "" {
				currency = pm[2]
			}
		}
	}
	if pm := minPriceRe.FindStringSubmatch(text); pm != nil {
		p, err := decimal.NewFromString(pm[1])
		if err == nil {
			minPrice = &p
			if pm[2] != "" && currency == "USDD" {
				currency = pm[2]
			}
		}
	}

	sources := c.sources(text)
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("compile %q: %w", text, ErrNoSource)
	}

	now := c.now()
	expiry := now.Add(c.expiry(text))

	quote := &rfq.Quote{
		ID:     uuid.New(),
		Status: rfq.StatusActive,
		Spec: rfq.QuoteSpec{
			Asset:    asset,
			Size:     size,
			Side:     side,
			Currency: currency,
		},
		CreatedAt:    now,
		ExpiresAt:    expiry,
		OriginalText: text,
	}
	if side == rfq.SideBuy {
		quote.Spec.LimitPrice = maxPrice
	} else {
		quote.Spec.LimitPrice = minPrice
	}

	maxDebit := decimal.New(1, 18) // effectively unbounded
	if maxPrice != nil && side == rfq.SideBuy {
		maxDebit = maxPrice.Mul(size)
	}
	var minCredit *decimal.Decimal
	if minPrice != nil && side == rfq.SideSell {
		mc := minPrice.Mul(size)
		minCredit = &mc
	}

	tolerance, _ := decimal.NewFromString(defaultTolerancePct)
	if tm := toleranceRe.FindStringSubmatch(text); tm != nil {
		if t, err := decimal.NewFromString(tm[1]); err == nil {
			tolerance = t
		}
	}

	quorum := DefaultQuorum
	if qm := quorumRe.FindStringSubmatch(text); qm != nil {
		if n, err := strconv.Atoi(qm[1]); err == nil && n > 0 {
			quorum = n
		}
	}

	staleness := DefaultStaleness
	if sm := stalenessRe.FindStringSubmatch(text); sm != nil {
		if secs, err := strconv.Atoi(sm[1]); err == nil && secs > 0 {
			staleness = time.Duration(secs) * time.Second
		}
	}

	policy := &rfq.Policy{
		QuoteID:            quote.ID,
		MaxDebit:           maxDebit,
		MinCredit:          minCredit,
		ExpiresAt:          expiry,
		AllowedSources:     sources,
		MaxStaleness:       staleness,
		QuorumCount:        quorum,
		QuorumTolerancePct: tolerance,
		AllowedTakers:      c.takers(text),
		Asset:              asset,
		Currency:           currency,
		RequireAtomicDvP:   true,
		NoSidePayments:     true,
		MaxFillSize:        size,
		Nonce:              nonce,
	}

	if err := policy.Validate(); err != nil {
		return nil, nil, fmt.Errorf("compile %q: %w", text, err)
	}
	return quote, policy, nil
}

func (c *RuleCompiler) expiry(text string) time.Duration {
	m := expiryRe.FindStringSubmatch(text)
	if m == nil {
		return DefaultExpiry
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultExpiry
	}
	switch strings.ToLower(m[2]) {
	case "second", "sec":
		return time.Duration(n) * time.Second
	case "hour", "hr":
		return time.Duration(n) * time.Hour
	default:
		return time.Duration(n) * time.Minute
	}
}

func (c *RuleCompiler) sources(text string) []string {
	m := sourceRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	names := feedNameRe.FindAllString(m[1], -1)
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (c *RuleCompiler) takers(text string) []string {
	m := takerRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []string
	for _, n := range nameRe.FindAllString(m[1], -1) {
		switch strings.ToLower(n) {
		case "or", "and":
			continue
		}
		out = append(out, n)
	}
	return out
}

// Summarize renders a one-line human-readable digest of a policy.
func Summarize(p *rfq.Policy) string {
	parts := []string{
		fmt.Sprintf("Max debit: %s %s", p.MaxDebit, p.Currency),
	}
	if p.MinCredit != nil {
		parts = append(parts, fmt.Sprintf("Min credit: %s %s", p.MinCredit, p.Currency))
	}
	parts = append(parts, fmt.Sprintf("Expires: %s", p.ExpiresAt.UTC().Format(time.RFC3339)))
	if len(p.AllowedSources) > 0 {
		parts = append(parts, fmt.Sprintf("Allowed feeds: %s", strings.Join(p.AllowedSources, ", ")))
	}
	parts = append(parts, fmt.Sprintf("Feed freshness: <%s", p.MaxStaleness))
	if p.QuorumCount > 1 {
		parts = append(parts, fmt.Sprintf("Quorum: %d sources within %s%%", p.QuorumCount, p.QuorumTolerancePct))
	}
	if len(p.AllowedTakers) > 0 {
		parts = append(parts, fmt.Sprintf("Allowed takers: %s", strings.Join(p.AllowedTakers, ", ")))
	}
	if p.RequireAtomicDvP {
		parts = append(parts, "Requires atomic DvP")
	}
	if p.NoSidePayments {
		parts = append(parts, "No side-payments allowed")
	}
	return strings.Join(parts, " | ")
}
