package feeds

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/pkg/messaging"
)

// Publisher is the bus surface the broadcaster needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Broadcaster pushes every source's observation onto the bus at a fixed
// interval, so takers can watch prices without polling the feed servers.
type Broadcaster struct {
	sim      *Simulator
	pub      Publisher
	interval time.Duration
	logger   *zap.Logger
}

func NewBroadcaster(sim *Simulator, pub Publisher, interval time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{sim: sim, pub: pub, interval: interval, logger: logger}
}

// Run publishes until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.PublishObservations(ctx)
		}
	}
}

// PublishObservations sends one observation per configured source.
func (b *Broadcaster) PublishObservations(ctx context.Context) {
	for _, ev := range b.sim.ObserveAll() {
		event := messaging.FeedObservationEvent{
			Source:    ev.Source,
			Asset:     ev.Asset,
			Price:     ev.Price.String(),
			Timestamp: ev.Timestamp.Unix(),
			Signature: ev.Signature,
		}
		if err := b.pub.Publish(ctx, messaging.EventTypeFeedObservation, event); err != nil {
			b.logger.Warn("observation publish failed",
				zap.String("source", ev.Source),
				zap.Error(err))
		}
	}
}
