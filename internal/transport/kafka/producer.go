package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"marketplace-dispatch/internal/apperr"
	"marketplace-dispatch/internal/domain"
)

var newSyncProducer = sarama.NewSyncProducer

// Producer mirrors order and ops topic events to a Kafka topic, keyed by order id.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer creates a new Kafka producer. It returns nil without error when Kafka is not configured.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, nil
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := newSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{producer: p, topic: topic}, nil
}

// Publish sends ev when topic is an order or ops topic. Courier session topics stay off Kafka.
func (p *Producer) Publish(ctx context.Context, topic string, ev domain.Event) error {
	if p == nil || strings.HasPrefix(topic, "courier:") {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(OutboundDTO{Topic: topic, Event: ev})
	if err != nil {
		return Permanent(fmt.Errorf("encode event: %w", err))
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.OrderID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send %s: %w: %w", ev.Type, apperr.ErrUnavailable, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.producer.Close()
}
