package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/portfolio-blog/backend/internal/counters"
	"go.uber.org/zap"
)

const producerTimeout = 5 * time.Second

var (
	errMissingProducer = errors.New("kafka producer is required")
	errMissingTopic    = errors.New("kafka topic is required")
)

// CounterMessage is the JSON value published for every committed counter change.
type CounterMessage struct {
	Slug           string    `json:"slug"`
	Kind           string    `json:"kind"`
	Reaction       string    `json:"reaction,omitempty"`
	ViewCount      int64     `json:"view_count"`
	LikeCount      int64     `json:"like_count"`
	LoveCount      int64     `json:"love_count"`
	CelebrateCount int64     `json:"celebrate_count"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func newCounterMessage(event counters.Event) CounterMessage {
	return CounterMessage{
		Slug:           event.Slug.String(),
		Kind:           string(event.Type),
		Reaction:       event.Reaction.String(),
		ViewCount:      event.Views,
		LikeCount:      event.Reactions.Like,
		LoveCount:      event.Reactions.Love,
		CelebrateCount: event.Reactions.Celebrate,
		OccurredAt:     event.OccurredAt,
	}
}

type KafkaPublisherConfig struct {
	Producer sarama.SyncProducer
	Topic    string
	Logger   *zap.Logger
}

// KafkaPublisher forwards counter changes to a topic, keyed by post slug so one post's
// changes stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

var _ counters.Notifier = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if cfg.Producer == nil {
		return nil, errMissingProducer
	}
	if cfg.Topic == "" {
		return nil, errMissingTopic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: cfg.Producer, topic: cfg.Topic, logger: logger}, nil
}

// NewSyncProducer dials the brokers with the acknowledgement settings the publisher expects.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = producerTimeout
	config.Net.DialTimeout = producerTimeout
	config.Net.ReadTimeout = producerTimeout
	config.Net.WriteTimeout = producerTimeout
	return sarama.NewSyncProducer(brokers, config)
}

// Notify publishes the event. It blocks until the broker acknowledges or fails, so the
// counters service calls it from its background notification path.
func (p *KafkaPublisher) Notify(ctx context.Context, event counters.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(newCounterMessage(event))
	if err != nil {
		return fmt.Errorf("encode counter event: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Slug.String()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish counter event: %w", err)
	}
	p.logger.Debug("counter event published",
		zap.String("topic", p.topic),
		zap.String("slug", event.Slug.String()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close releases the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
