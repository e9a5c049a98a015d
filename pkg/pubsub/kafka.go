package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/weiawesome/diffex/pkg/log"
)

const (
	headerEventType = "event-type"

	defaultKafkaPartitions = 4
	defaultKafkaGroupID    = "diffex-invalidation"
	kafkaReadTimeout       = 500 * time.Millisecond
	kafkaFlushTimeoutMs    = 5000
)

// topicFor maps an invalidation channel onto a Kafka topic and message key.
// All result-sets share one topic; the key keeps events for a result-set on
// one partition so they are consumed in publish order.
//
//	"diffex:resultset:42:invalidate"  -> ("diffex-invalidate", "42")
//	"diffex:resultset:all:invalidate" -> ("diffex-invalidate", "all")
//	"diffex:resultset:*:invalidate"   -> ("diffex-invalidate", "*")
func topicFor(channel string) (topic, key string, err error) {
	prefix, target, action, err := parseChannel(channel)
	if err != nil {
		return "", "", err
	}
	return prefix + "-" + strings.ReplaceAll(action, "_", "-"), target, nil
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// KafkaPubSub carries invalidation events over Kafka.
//
// Every instance consumes with its own consumer group so invalidation events
// fan out to all replicas instead of being load-balanced between them.
type KafkaPubSub struct {
	producer   *kafka.Producer
	config     KafkaConfig
	instanceID string

	mu   sync.Mutex
	subs map[string]*kafkaSubscription
	wg   sync.WaitGroup
}

// NewKafkaPubSub connects a producer and makes sure the invalidation topic exists.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.Partitions <= 0 {
		cfg.Partitions = defaultKafkaPartitions
	}
	if cfg.GroupID == "" {
		cfg.GroupID = defaultKafkaGroupID
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "all",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer:   p,
		config:     cfg,
		instanceID: uuid.New().String(),
		subs:       make(map[string]*kafkaSubscription),
	}

	k.wg.Add(1)
	go k.watchProducer()

	topic, _, _ := topicFor(PatternResultSetInvalidate)
	if err := k.createTopic(topic); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", topic).Msg("could not create invalidation topic")
	}

	return k, nil
}

func (k *KafkaPubSub) createTopic(topic string) error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     k.config.Partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			return r.Error
		}
	}
	return nil
}

// watchProducer logs client level errors. Delivery reports go to the
// per-message channel passed by Publish.
func (k *KafkaPubSub) watchProducer() {
	defer k.wg.Done()
	l := log.L()
	for e := range k.producer.Events() {
		if ke, ok := e.(kafka.Error); ok {
			l.Error().Str("error", ke.Error()).Bool("fatal", ke.IsFatal()).Msg("kafka producer error")
		}
	}
}

// Publish produces the event and waits for the broker acknowledgement.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := topicFor(channel)
	if err != nil {
		return err
	}
	if key == "*" {
		return fmt.Errorf("cannot publish to pattern %s", channel)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	delivered := make(chan kafka.Event, 1)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
		Headers:        []kafka.Header{{Key: headerEventType, Value: []byte(event.Type)}},
	}
	if err := k.producer.Produce(msg, delivered); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-delivered:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery to %s failed: %w", topic, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe delivers events published for exactly this channel.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, key, err := topicFor(channel)
	if err != nil {
		return nil, err
	}
	return k.consume(ctx, channel, topic, key)
}

// SubscribePattern delivers every event on the pattern's topic.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, _, err := topicFor(pattern)
	if err != nil {
		return nil, err
	}
	return k.consume(ctx, pattern, topic, "")
}

func (k *KafkaPubSub) consume(ctx context.Context, subKey, topic, onlyKey string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopLocked(subKey)

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           fmt.Sprintf("%s-%s-%s", k.config.GroupID, k.instanceID, sanitizeGroupID(subKey)),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}
	k.subs[subKey] = sub

	out := make(chan *Event, 100)
	go func() {
		defer close(sub.done)
		defer close(out)
		readLoop(subCtx, c, onlyKey, out)
	}()

	return out, nil
}

func readLoop(ctx context.Context, c *kafka.Consumer, onlyKey string, out chan<- *Event) {
	l := log.L()
	for ctx.Err() == nil {
		msg, err := c.ReadMessage(kafkaReadTimeout)
		if err != nil {
			var ke kafka.Error
			if errors.As(err, &ke) {
				if ke.Code() == kafka.ErrTimedOut {
					continue
				}
				if ke.IsFatal() {
					l.Error().Err(err).Msg("kafka consumer failed")
					return
				}
			}
			l.Warn().Err(err).Msg("kafka read failed")
			continue
		}
		if onlyKey != "" && string(msg.Key) != onlyKey {
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			l.Warn().Err(err).Str("key", string(msg.Key)).Msg("dropping undecodable invalidation event")
			continue
		}

		select {
		case out <- &event:
		case <-ctx.Done():
			return
		}
	}
}

// stopLocked cancels the subscription and waits for its reader. k.mu must be held.
func (k *KafkaPubSub) stopLocked(key string) error {
	sub, ok := k.subs[key]
	if !ok {
		return nil
	}
	delete(k.subs, key)
	sub.cancel()
	<-sub.done
	return sub.consumer.Close()
}

// Unsubscribe stops a channel or pattern subscription.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.stopLocked(channel); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}

// Close stops every subscription, flushes pending messages and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	var errs []error
	for key := range k.subs {
		if err := k.stopLocked(key); err != nil {
			errs = append(errs, err)
		}
	}
	k.mu.Unlock()

	if left := k.producer.Flush(kafkaFlushTimeoutMs); left > 0 {
		errs = append(errs, fmt.Errorf("%d invalidation events not delivered", left))
	}
	k.producer.Close()
	k.wg.Wait()

	return errors.Join(errs...)
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters Kafka does not accept in group ids.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
