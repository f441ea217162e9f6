package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sidepot/metrics"
)

// Publisher delivers one outbox message to a downstream channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// KafkaPublisher writes messages to Kafka, one topic per outbox topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaWriter builds a writer that routes on the per-message topic.
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
		Time:  time.Now(),
	})
}

// RedisBroadcaster fans every message out on a single pub/sub channel for
// the realtime layer, wrapping the payload in a topic envelope.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, payload []byte) error {
	envelope, err := json.Marshal(map[string]any{
		"topic":   topic,
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, envelope).Err()
}

// Dispatcher drains pending outbox rows on a fixed interval, publishing
// each to every configured channel. A message is marked sent only when all
// publishers accepted it.
type Dispatcher struct {
	repo       *Repository
	publishers []Publisher
	interval   time.Duration
	batchSize  int
	log        *zap.Logger
}

func NewDispatcher(repo *Repository, publishers []Publisher, interval time.Duration, batchSize int, log *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		repo:       repo,
		publishers: publishers,
		interval:   interval,
		batchSize:  batchSize,
		log:        log,
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Dispatcher) drainOnce(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	pending, err := d.repo.ListPending(listCtx, d.batchSize)
	cancel()
	if err != nil {
		d.log.Warn("outbox: list pending failed", zap.Error(err))
		return
	}

	for _, m := range pending {
		err := d.publish(ctx, m)
		metrics.RecordOutboxPublish(err)
		if err != nil {
			d.log.Warn("outbox: publish failed",
				zap.Int64("id", m.ID), zap.String("topic", m.Topic), zap.Error(err))
			if markErr := d.repo.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
				d.log.Warn("outbox: mark failed failed", zap.Int64("id", m.ID), zap.Error(markErr))
			}
			continue
		}
		if err := d.repo.MarkSent(ctx, m.ID); err != nil {
			d.log.Warn("outbox: mark sent failed", zap.Int64("id", m.ID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, m Message) error {
	for _, p := range d.publishers {
		if err := p.Publish(ctx, m.Topic, m.Payload); err != nil {
			return err
		}
	}
	return nil
}
