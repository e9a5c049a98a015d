// Package invalidation propagates cache clears between service instances
// over the event bus.
package invalidation

import (
	"context"
	"fmt"
	"sync"

	"github.com/weiawesome/diffex/diffex-service/internal/audit"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
	"github.com/weiawesome/diffex/pkg/pubsub"
)

// Clearer is the part of the lookup service the listener drives.
type Clearer interface {
	ClearAllCaches(ctx context.Context)
	ClearCache(ctx context.Context, rs domain.ResultSetID)
	ClearTopHitCache(ctx context.Context, rs domain.ResultSetID)
}

// Listener clears local caches when invalidation events arrive.
type Listener struct {
	sub    pubsub.Subscriber
	target Clearer
	origin string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener creates a listener. Events published by origin are ignored,
// since the publishing instance already cleared its own cache.
func NewListener(sub pubsub.Subscriber, target Clearer, origin string) *Listener {
	return &Listener{sub: sub, target: target, origin: origin}
}

// Start subscribes to every invalidation channel.
func (l *Listener) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	eventCh, err := l.sub.SubscribePattern(ctx, pubsub.PatternResultSetInvalidate)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to invalidation events: %w", err)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx, eventCh)
	}()

	logger := log.L()
	logger.Info().Str("pattern", pubsub.PatternResultSetInvalidate).Msg("invalidation listener started")
	return nil
}

// Stop ends the subscription and waits for the event loop to exit.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Listener) run(ctx context.Context, eventCh <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			l.handle(ctx, event)
		}
	}
}

func (l *Listener) handle(ctx context.Context, event *pubsub.Event) {
	logger := log.Ctx(ctx)

	var payload pubsub.InvalidationPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		logger.Error().Err(err).Str("type", event.Type).Msg("failed to unmarshal invalidation payload")
		return
	}
	if l.origin != "" && payload.Origin == l.origin {
		return
	}

	rs := domain.ResultSetID(event.ResultSetID)
	if rs == 0 {
		rs = domain.ResultSetID(payload.ResultSetID)
	}

	logger = logger.With().Str("reason", payload.Reason).Str("origin", payload.Origin).Logger()
	ctx = log.WithLogger(ctx, logger)

	switch event.Type {
	case pubsub.EventResultSetUpdated:
		if rs <= 0 {
			logger.Warn().Str("type", event.Type).Msg("invalidation event without result set id")
			return
		}
		l.target.ClearCache(ctx, rs)
		l.target.ClearTopHitCache(ctx, rs)
		audit.LogResultSet(ctx, audit.ActionClearResultSet, audit.SourceEvent, rs, "result set cache cleared")
	case pubsub.EventTopHitsUpdated:
		if rs <= 0 {
			logger.Warn().Str("type", event.Type).Msg("invalidation event without result set id")
			return
		}
		l.target.ClearTopHitCache(ctx, rs)
		audit.LogResultSet(ctx, audit.ActionClearTopHits, audit.SourceEvent, rs, "top hits cache cleared")
	case pubsub.EventCacheFlushed:
		l.target.ClearAllCaches(ctx)
		audit.Log(ctx, audit.ActionClearAll, audit.SourceEvent, "all caches cleared")
	default:
		logger.Warn().Str("type", event.Type).Msg("unknown invalidation event")
		return
	}

	logger.Debug().
		Str("type", event.Type).
		Int64(log.FieldResultSetID, int64(rs)).
		Msg("invalidation applied")
}
