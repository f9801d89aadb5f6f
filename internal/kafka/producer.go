package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/omnia-oms/go-order-ingest/internal/metrics"
	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

var ErrNotConnected = errors.New("kafka: not connected")

// Event is what Send accepts: anything carrying the standard envelope plus a
// partition key derived from the fulfillment location.
type Event interface {
	Env() *schema.Envelope
	Key() string
}

// writerAPI is the slice of kafka.Writer the producer needs; tests swap it out.
type writerAPI interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string
	Source       string        // stamped into envelopes and headers
	MaxRetries   int           // delivery attempts before DLQ routing
	RetryBackoff time.Duration // doubled per attempt
	SendTimeout  time.Duration
}

func (c *ProducerConfig) defaults() {
	if c.Source == "" {
		c.Source = schema.DefaultSource
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Producer wraps a kafka.Writer with envelope stamping, location partition
// keys, bounded retry and synchronous DLQ routing on exhaustion.
type Producer struct {
	cfg    ProducerConfig
	log    *slog.Logger
	writer writerAPI
	conn   connTracker

	now func() time.Time
}

func NewProducer(cfg ProducerConfig, log *slog.Logger) *Producer {
	cfg.defaults()
	return &Producer{
		cfg: cfg,
		log: log,
		// acks=all and a single writer attempt: retries are owned by Send so
		// at most one duplicate can be introduced per application retry.
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  1,
			BatchTimeout: 10 * time.Millisecond,
		},
		now: time.Now,
	}
}

// Connect verifies a broker is reachable and marks the producer usable.
func (p *Producer) Connect(ctx context.Context) error {
	p.conn.set(StateConnecting, nil)
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		p.conn.set(StateDisconnected, err)
		return fmt.Errorf("kafka: connect producer: %w", err)
	}
	_ = conn.Close()
	p.conn.set(StateConnected, nil)
	p.log.Info("kafka producer connected", "brokers", p.cfg.Brokers)
	return nil
}

func (p *Producer) Disconnect() error {
	err := p.writer.Close()
	p.conn.set(StateDisconnected, err)
	p.log.Info("kafka producer disconnected")
	return err
}

type SendOptions struct {
	MessageType string
	Headers     []kafka.Header
}

// Send stamps the envelope, serializes the event and delivers it with bounded
// retry. Exhausted retries route the message to <topic>.dlq synchronously and
// the original delivery error is returned to the caller.
func (p *Producer) Send(ctx context.Context, topic string, event Event, opts SendOptions) error {
	if !p.conn.connected() {
		return ErrNotConnected
	}

	env := event.Env()
	env.Stamp(p.now())
	if env.Source == "" || env.Source == schema.DefaultSource {
		env.Source = p.cfg.Source
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: serialize message for %s: %w", topic, err)
	}
	key := event.Key()

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  p.now(),
		Headers: append([]kafka.Header{
			{Key: "source", Value: []byte(p.cfg.Source)},
			{Key: "messageType", Value: []byte(opts.MessageType)},
			{Key: "correlationId", Value: []byte(env.CorrelationID)},
		}, opts.Headers...),
	}

	start := p.now()
	err = p.writeWithRetry(ctx, msg)
	if err == nil {
		metrics.MessagesSent.WithLabelValues(topic).Inc()
		p.log.Info("message sent",
			"topic", topic, "partitionKey", key,
			"messageId", env.MessageID, "duration", time.Since(start))
		return nil
	}

	// Connection state stays untouched: a failed delivery is a per-message
	// outcome, DISCONNECTED is reserved for Connect/Disconnect. The producer
	// keeps accepting sends.
	p.log.Error("failed to send message",
		"topic", topic, "messageId", env.MessageID,
		"correlationId", env.CorrelationID, "error", err)

	// DLQ failures are logged but never mask the delivery error.
	if dlqErr := p.publishDLQ(ctx, topic, value, key, err, nil); dlqErr != nil {
		p.log.Error("failed to route message to DLQ",
			"topic", topic, "messageId", env.MessageID, "error", dlqErr)
	}
	return fmt.Errorf("kafka: publish to %s: %w", topic, err)
}

func (p *Producer) writeWithRetry(ctx context.Context, msg kafka.Message) error {
	backoff := p.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
		err = p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < p.cfg.MaxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return err
}

// publishDLQ wraps the unmodified original message in the DLQ envelope and
// writes it to the topic's .dlq variant.
func (p *Producer) publishDLQ(ctx context.Context, originalTopic string, original []byte, key string, cause error, meta *schema.DLQMetadata) error {
	dlq := schema.DLQMessage{
		MessageID:       uuid.NewString(),
		Timestamp:       p.now().UTC().Format(time.RFC3339Nano),
		OriginalTopic:   originalTopic,
		OriginalMessage: json.RawMessage(original),
		Error: schema.DLQError{
			Message:   cause.Error(),
			Timestamp: p.now().UTC().Format(time.RFC3339Nano),
		},
		RetryCount: 0,
		Metadata:   meta,
	}
	value, err := json.Marshal(dlq)
	if err != nil {
		return err
	}

	dlqCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()
	err = p.writer.WriteMessages(dlqCtx, kafka.Message{
		Topic: schema.DLQTopic(originalTopic),
		Key:   []byte(key),
		Value: value,
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(p.cfg.Source)},
			{Key: "messageType", Value: []byte("dlq")},
			{Key: "originalTopic", Value: []byte(originalTopic)},
		},
	})
	if err != nil {
		return err
	}
	metrics.MessagesDLQ.WithLabelValues(originalTopic).Inc()
	p.log.Warn("message routed to DLQ",
		"originalTopic", originalTopic, "dlqTopic", schema.DLQTopic(originalTopic), "error", cause)
	return nil
}

// HealthCheck reports cached connection state; it never touches the broker.
func (p *Producer) HealthCheck() Health { return p.conn.health(p.now()) }

func (p *Producer) ConnectionStatus() bool { return p.conn.connected() }
