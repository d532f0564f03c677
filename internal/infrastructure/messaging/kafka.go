package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Envelope is the wire format of events on Kafka topics.
type Envelope struct {
	Type       shared.EventType `json:"type"`
	UserID     string           `json:"userId"`
	Subject    string           `json:"subject,omitempty"`
	Source     string           `json:"source,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
	Payload    map[string]any   `json:"payload,omitempty"`
}

// EncodeEvent serializes an event into an envelope.
func EncodeEvent(event shared.Event) ([]byte, error) {
	env := Envelope{
		Type:       event.EventType(),
		UserID:     event.AggregateID(),
		OccurredAt: event.OccurredAt(),
		Payload:    event.Payload(),
	}
	if e, ok := event.(shared.AcademicDataChangedEvent); ok {
		env.Subject = e.Subject
		env.Source = e.Source
	}
	return json.Marshal(env)
}

// DecodeAcademicEvent parses an academic data-change message.
// Other event types yield ErrEventNotSupported.
func DecodeAcademicEvent(raw []byte) (shared.AcademicDataChangedEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return shared.AcademicDataChangedEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case shared.EventAttendanceChanged, shared.EventMarksChanged:
	default:
		return shared.AcademicDataChangedEvent{}, fmt.Errorf("%w: %q", ErrEventNotSupported, env.Type)
	}
	if env.UserID == "" {
		return shared.AcademicDataChangedEvent{}, fmt.Errorf("%w: userId", shared.ErrEmptyValue)
	}

	event := shared.NewAcademicDataChangedEvent(env.Type, env.UserID, env.Subject, env.Source)
	if !env.OccurredAt.IsZero() {
		event.Timestamp = env.OccurredAt
	}
	return event, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSUMER
// ══════════════════════════════════════════════════════════════════════════════

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumerConfig contains configuration for the consumer.
type KafkaConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader creates a consumer-group reader.
func NewKafkaReader(cfg KafkaConsumerConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

// KafkaConsumer republishes academic data-change messages on the local bus.
type KafkaConsumer struct {
	reader MessageReader
	bus    shared.EventPublisher
	logger *slog.Logger
}

// NewKafkaConsumer creates a consumer.
func NewKafkaConsumer(reader MessageReader, bus shared.EventPublisher, logger *slog.Logger) *KafkaConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaConsumer{reader: reader, bus: bus, logger: logger}
}

// Run consumes until ctx is cancelled or the reader is closed. Undecodable
// messages are committed and skipped; a publish failure leaves the offset
// uncommitted so the message is redelivered.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("failed to close kafka reader", "error", err)
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error("kafka fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handle(msg); err != nil {
			c.logger.Error("kafka message not processed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("kafka commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

func (c *KafkaConsumer) handle(msg kafka.Message) error {
	event, err := DecodeAcademicEvent(msg.Value)
	if err != nil {
		c.logger.Warn("skipping kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	return c.bus.Publish(event)
}

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a synchronous writer for a topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
}

// KafkaPublisher publishes pipeline events to a topic, keyed by user.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher.
func NewKafkaPublisher(writer MessageWriter, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaPublisher{writer: writer, timeout: timeout}
}

// Publish implements shared.EventPublisher.
func (p *KafkaPublisher) Publish(event shared.Event) error {
	value, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID()),
		Value: value,
		Time:  event.OccurredAt(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// MultiPublisher publishes to every publisher and joins the errors.
type MultiPublisher []shared.EventPublisher

// Publish implements shared.EventPublisher.
func (m MultiPublisher) Publish(event shared.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
