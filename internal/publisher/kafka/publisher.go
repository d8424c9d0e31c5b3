// Package kafka publishes outcome events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON payloads keyed by unit id.
type Publisher struct {
	writer MessageWriter
}

// New wraps a writer.
func New(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// NewWriter builds a writer for topic on the comma-separated broker list.
func NewWriter(brokers, topic string) (*kafka.Writer, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}, nil
}

// Publish writes one message. The writer owns the topic, so topic is only
// recorded as a header.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.writer == nil {
		return "", fmt.Errorf("kafka writer is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{Value: data}
	if event, ok := payload.(harvest.OutcomeEvent); ok {
		msg.Key = []byte(event.UnitID)
		msg.Headers = append(msg.Headers, kafka.Header{Key: "outcome", Value: []byte(event.Outcome)})
	}
	if topic != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "logical_topic", Value: []byte(topic)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return string(msg.Key), nil
}

// Close closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
