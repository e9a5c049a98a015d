package invalidation

import (
	"context"
	"fmt"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/pubsub"
)

// Publisher announces cache clears to the other instances. A nil
// *Publisher is valid and publishes nothing.
type Publisher struct {
	pub    pubsub.Publisher
	origin string
}

// NewPublisher creates a publisher stamping events with origin.
func NewPublisher(pub pubsub.Publisher, origin string) *Publisher {
	return &Publisher{pub: pub, origin: origin}
}

// ResultSetUpdated announces that every cached entry of rs is stale.
func (p *Publisher) ResultSetUpdated(ctx context.Context, rs domain.ResultSetID, reason string) error {
	return p.publish(ctx, pubsub.InvalidateChannel(int64(rs)), pubsub.EventResultSetUpdated, rs, reason)
}

// TopHitsUpdated announces that the top hits of rs are stale.
func (p *Publisher) TopHitsUpdated(ctx context.Context, rs domain.ResultSetID, reason string) error {
	return p.publish(ctx, pubsub.InvalidateChannel(int64(rs)), pubsub.EventTopHitsUpdated, rs, reason)
}

// CacheFlushed announces that every cache must be cleared.
func (p *Publisher) CacheFlushed(ctx context.Context, reason string) error {
	return p.publish(ctx, pubsub.FlushChannel(), pubsub.EventCacheFlushed, 0, reason)
}

func (p *Publisher) publish(ctx context.Context, channel, eventType string, rs domain.ResultSetID, reason string) error {
	if p == nil || p.pub == nil {
		return nil
	}

	event, err := pubsub.NewEvent(eventType, int64(rs), pubsub.InvalidationPayload{
		ResultSetID: int64(rs),
		Reason:      reason,
		Origin:      p.origin,
	})
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}

	if err := p.pub.Publish(ctx, channel, event); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}
