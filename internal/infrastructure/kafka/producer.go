package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes committed ledger events.
type EventPublisher interface {
	Publish(ctx context.Context, event models.LedgerEvent) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to deliver Kafka messages", "topic", topic, "count", len(messages), "error", err)
			}
		},
	}
	return &Producer{writer: writer, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, event models.LedgerEvent) error {
	msg, err := eventMessage(event)
	if err != nil {
		slog.Error("failed to encode ledger event", "type", event.Type, "error", err)
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "topic", p.topic, "type", event.Type, "user_id", event.UserID, "error", err)
		return err
	}
	slog.Info("Kafka message sent", "topic", p.topic, "type", event.Type, "transaction_id", event.TransactionID)
	return nil
}

// eventMessage keys messages by user so one user's events stay ordered within a partition.
func eventMessage(event models.LedgerEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.UserID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}
