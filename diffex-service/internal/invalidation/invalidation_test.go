package invalidation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/diffex/diffex-service/internal/audit"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
	"github.com/weiawesome/diffex/pkg/pubsub"
)

// memoryBus delivers every published event to every pattern subscriber.
type memoryBus struct {
	mu        sync.Mutex
	subs      []chan *pubsub.Event
	published []string
	failWith  error
}

func (b *memoryBus) Publish(_ context.Context, channel string, event *pubsub.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.published = append(b.published, channel)
	for _, ch := range b.subs {
		ch <- event
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	return b.SubscribePattern(ctx, channel)
}

func (b *memoryBus) SubscribePattern(_ context.Context, _ string) (<-chan *pubsub.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *pubsub.Event, 16)
	b.subs = append(b.subs, ch)
	return ch, nil
}

func (b *memoryBus) Unsubscribe(context.Context, string) error { return nil }

type recorder struct {
	mu      sync.Mutex
	calls   []string
	cleared []domain.ResultSetID
}

func (r *recorder) add(call string, rs domain.ResultSetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.cleared = append(r.cleared, rs)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) ClearAllCaches(context.Context) { r.add("all", 0) }
func (r *recorder) ClearCache(_ context.Context, rs domain.ResultSetID) {
	r.add("results", rs)
}
func (r *recorder) ClearTopHitCache(_ context.Context, rs domain.ResultSetID) {
	r.add("top_hits", rs)
}

func TestListenerAppliesPeerEvents(t *testing.T) {
	bus := &memoryBus{}
	rec := &recorder{}

	listener := NewListener(bus, rec, "instance-a")
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop()

	peer := NewPublisher(bus, "instance-b")
	ctx := context.Background()
	require.NoError(t, peer.ResultSetUpdated(ctx, 42, "recomputed"))
	require.NoError(t, peer.TopHitsUpdated(ctx, 7, "recomputed"))
	require.NoError(t, peer.CacheFlushed(ctx, "manual"))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 4
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"results", "top_hits", "top_hits", "all"}, rec.snapshot())
	assert.Equal(t, []domain.ResultSetID{42, 42, 7, 0}, rec.cleared)
	assert.Equal(t, []string{
		"diffex:resultset:42:invalidate",
		"diffex:resultset:7:invalidate",
		"diffex:resultset:all:invalidate",
	}, bus.published)
}

func TestListenerIgnoresOwnEvents(t *testing.T) {
	bus := &memoryBus{}
	rec := &recorder{}

	listener := NewListener(bus, rec, "instance-a")
	require.NoError(t, listener.Start(context.Background()))
	defer listener.Stop()

	ctx := context.Background()
	require.NoError(t, NewPublisher(bus, "instance-a").ResultSetUpdated(ctx, 1, "manual"))
	require.NoError(t, NewPublisher(bus, "instance-b").ResultSetUpdated(ctx, 2, "manual"))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []domain.ResultSetID{2, 2}, rec.cleared)
}

func TestListenerSkipsMalformedEvents(t *testing.T) {
	rec := &recorder{}
	listener := NewListener(&memoryBus{}, rec, "a")
	ctx := context.Background()

	listener.handle(ctx, &pubsub.Event{Type: pubsub.EventResultSetUpdated})
	listener.handle(ctx, &pubsub.Event{Type: "something_else", ResultSetID: 3})
	listener.handle(ctx, &pubsub.Event{Type: pubsub.EventResultSetUpdated, Payload: []byte("{broken")})

	assert.Empty(t, rec.snapshot())
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.ResultSetUpdated(context.Background(), 1, "manual"))
	assert.NoError(t, p.CacheFlushed(context.Background(), "manual"))
}

func TestPublisherWrapsBusErrors(t *testing.T) {
	boom := errors.New("bus down")
	p := NewPublisher(&memoryBus{failWith: boom}, "a")

	err := p.ResultSetUpdated(context.Background(), 1, "manual")
	assert.ErrorIs(t, err, boom)
}

func TestListenerStopEndsLoop(t *testing.T) {
	listener := NewListener(&memoryBus{}, &recorder{}, "a")
	require.NoError(t, listener.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		listener.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerWritesAuditLog(t *testing.T) {
	var logs bytes.Buffer
	ctx := log.WithLogger(context.Background(), log.NewWithWriter(log.Config{Level: "info"}, &logs))
	listener := NewListener(&memoryBus{}, &recorder{}, "instance-a")

	event := func(eventType string, rs int64) *pubsub.Event {
		e, err := pubsub.NewEvent(eventType, rs, pubsub.InvalidationPayload{
			ResultSetID: rs,
			Reason:      "recomputed",
			Origin:      "instance-b",
		})
		require.NoError(t, err)
		return e
	}
	listener.handle(ctx, event(pubsub.EventResultSetUpdated, 42))
	listener.handle(ctx, event(pubsub.EventTopHitsUpdated, 7))
	listener.handle(ctx, event(pubsub.EventCacheFlushed, 0))
	// skipped events leave no audit trail
	listener.handle(ctx, event(pubsub.EventTopHitsUpdated, 0))

	var entries []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry[log.FieldLogType] == log.LogTypeAudit {
			entries = append(entries, entry)
		}
	}

	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionClearResultSet, entries[0][audit.FieldAction])
	assert.Equal(t, float64(42), entries[0][log.FieldResultSetID])
	assert.Equal(t, audit.ActionClearTopHits, entries[1][audit.FieldAction])
	assert.Equal(t, float64(7), entries[1][log.FieldResultSetID])
	assert.Equal(t, audit.ActionClearAll, entries[2][audit.FieldAction])
	for _, entry := range entries {
		assert.Equal(t, audit.SourceEvent, entry[audit.FieldSource])
		assert.Equal(t, "recomputed", entry["reason"])
		assert.Equal(t, "instance-b", entry["origin"])
	}
}
