package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the guardrail engine.
const (
	EventTypeQuoteCreated   = "quote.created"
	EventTypeQuoteCancelled = "quote.cancelled"
	EventTypeQuoteFilled    = "quote.filled"
	EventTypeQuoteExpired   = "quote.expired"

	EventTypeReceiptRecorded = "receipt.recorded"

	EventTypeSettlementSubmit = "settlement.submit"

	EventTypeFeedObservation = "feed.observation"
)

// Event is the envelope for everything that crosses the bus.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     int             `json:"version"`
	Data        json.RawMessage `json:"data"`
	Metadata    EventMetadata   `json:"metadata"`
}

// EventMetadata carries tracing context across services.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
	Actor         string `json:"actor,omitempty"`
	Source        string `json:"source"`
}

// QuoteEvent describes a quote lifecycle transition.
type QuoteEvent struct {
	QuoteID   uuid.UUID `json:"quote_id"`
	Maker     string    `json:"maker"`
	Asset     string    `json:"asset"`
	Currency  string    `json:"currency"`
	Side      string    `json:"side"`
	Size      string    `json:"size"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReceiptEvent summarizes an adjudicated fill attempt.
type ReceiptEvent struct {
	ReceiptID uuid.UUID `json:"receipt_id"`
	QuoteID   uuid.UUID `json:"quote_id"`
	FillID    uuid.UUID `json:"fill_id"`
	Taker     string    `json:"taker"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SettlementEvent carries the transfer legs of an accepted fill.
type SettlementEvent struct {
	QuoteID       uuid.UUID `json:"quote_id"`
	FillID        uuid.UUID `json:"fill_id"`
	Maker         string    `json:"maker"`
	Taker         string    `json:"taker"`
	MakerDebit    string    `json:"maker_debit"`
	MakerCredit   string    `json:"maker_credit"`
	TakerDebit    string    `json:"taker_debit"`
	TakerCredit   string    `json:"taker_credit"`
	Asset         string    `json:"asset"`
	Currency      string    `json:"currency"`
	ResolvedPrice string    `json:"resolved_price"`
	SettledAt     time.Time `json:"settled_at"`
}

// FeedObservationEvent is a single price observation from a feed source.
type FeedObservationEvent struct {
	Source    string `json:"source"`
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// NewEvent wraps a payload in the bus envelope.
func NewEvent(eventType string, aggregateID uuid.UUID, data interface{}, metadata EventMetadata) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now(),
		Version:     1,
		Data:        dataBytes,
		Metadata:    metadata,
	}, nil
}

// ParseEventData parses event data into the specified type
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
