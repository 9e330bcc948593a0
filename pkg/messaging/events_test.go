package messaging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelope(t *testing.T) {
	t.Run("wraps and parses a payload", func(t *testing.T) {
		quoteID := uuid.New()
		event, err := NewEvent(EventTypeQuoteCreated, quoteID, QuoteEvent{
			QuoteID: quoteID,
			Maker:   "maker1",
			Asset:   "dETH",
			Status:  "active",
		}, EventMetadata{Source: "rfqd"})
		require.NoError(t, err)

		assert.Equal(t, EventTypeQuoteCreated, event.Type)
		assert.Equal(t, quoteID, event.AggregateID)
		assert.NotEqual(t, uuid.Nil, event.ID)

		parsed, err := ParseEventData[QuoteEvent](event)
		require.NoError(t, err)
		assert.Equal(t, "maker1", parsed.Maker)
		assert.Equal(t, "dETH", parsed.Asset)
	})

	t.Run("parse into the wrong shape surfaces the error", func(t *testing.T) {
		event, err := NewEvent(EventTypeReceiptRecorded, uuid.New(), ReceiptEvent{Taker: "taker1"}, EventMetadata{})
		require.NoError(t, err)

		event.Data = []byte("{")
		_, err = ParseEventData[ReceiptEvent](event)
		assert.Error(t, err)
	})
}
