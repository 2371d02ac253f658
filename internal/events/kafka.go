package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Writer struct {
	*kafka.Writer
}

func NewKafkaWriter(brokers []string, topic string) *Writer {
	return &Writer{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

type message struct {
	Type          Kind      `json:"type"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// KafkaPublisher forwards payment events to a topic keyed by transaction id,
// so all events of one payment land on one partition in order.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaPublisher(w MessageWriter, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: w, timeout: timeout}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Handle(ctx context.Context, e Event) error {
	value, err := json.Marshal(message{
		Type:          e.Kind,
		TransactionID: e.Payment.TransactionID,
		Status:        string(e.Payment.Status),
		Amount:        e.Payment.Amount.StringFixed(2),
		OccurredAt:    e.OccurredAt,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Payment.TransactionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Kind)},
		},
	})
}
