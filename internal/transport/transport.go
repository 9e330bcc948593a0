package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// Transport delivers settlement bundles for accepted fills downstream.
// Submission happens after the fill has committed; a transport failure is
// surfaced to the caller but never unwinds the fill.
type Transport interface {
	SubmitSettlement(ctx context.Context, bundle *rfq.SettlementBundle) error
	Close() error
}

// NATSTransport publishes settlement bundles on the message bus.
type NATSTransport struct {
	client *messaging.Client
	logger *zap.Logger
}

func NewNATSTransport(client *messaging.Client, logger *zap.Logger) *NATSTransport {
	return &NATSTransport{client: client, logger: logger}
}

func (t *NATSTransport) SubmitSettlement(ctx context.Context, bundle *rfq.SettlementBundle) error {
	event, err := messaging.NewEvent(messaging.EventTypeSettlementSubmit, bundle.QuoteID, messaging.SettlementEvent{
		QuoteID:       bundle.QuoteID,
		FillID:        bundle.FillID,
		Maker:         bundle.Maker,
		Taker:         bundle.Taker,
		MakerDebit:    bundle.Settlement.MakerDebit.String(),
		MakerCredit:   bundle.Settlement.MakerCredit.String(),
		TakerDebit:    bundle.Settlement.TakerDebit.String(),
		TakerCredit:   bundle.Settlement.TakerCredit.String(),
		Asset:         bundle.Settlement.Asset,
		Currency:      bundle.Settlement.Currency,
		ResolvedPrice: bundle.Settlement.ResolvedPrice.String(),
		SettledAt:     bundle.Settlement.SettledAt,
	}, messaging.EventMetadata{
		CorrelationID: bundle.FillID.String(),
		Source:        "rfqd",
	})
	if err != nil {
		return fmt.Errorf("build settlement event: %w", err)
	}

	if err := t.client.Publish(ctx, messaging.EventTypeSettlementSubmit, event); err != nil {
		t.logger.Error("settlement publish failed",
			zap.String("quote_id", bundle.QuoteID.String()),
			zap.String("fill_id", bundle.FillID.String()),
			zap.Error(err))
		return fmt.Errorf("publish settlement: %w", err)
	}
	return nil
}

func (t *NATSTransport) Close() error {
	return t.client.Drain()
}

// NullTransport records bundles in memory. Used when no bus is configured
// and in tests.
type NullTransport struct {
	mu      sync.Mutex
	bundles []*rfq.SettlementBundle
}

func NewNullTransport() *NullTransport {
	return &NullTransport{}
}

func (t *NullTransport) SubmitSettlement(ctx context.Context, bundle *rfq.SettlementBundle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bundles = append(t.bundles, bundle)
	return nil
}

// Submitted returns a snapshot of every bundle received so far.
func (t *NullTransport) Submitted() []*rfq.SettlementBundle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*rfq.SettlementBundle, len(t.bundles))
	copy(out, t.bundles)
	return out
}

func (t *NullTransport) Close() error {
	return nil
}
