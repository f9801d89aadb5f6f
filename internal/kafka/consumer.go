package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/omnia-oms/go-order-ingest/internal/metrics"
	"github.com/omnia-oms/go-order-ingest/internal/schema"
)

// Message is one delivered record, envelope already decoded.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Envelope  schema.Envelope
}

// Handler must return nil only when processing succeeded. A returned error
// routes the message to the topic's DLQ; the offset is committed either way.
type Handler func(ctx context.Context, msg *Message) error

type readerAPI interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	ConnectTimeout time.Duration
}

func (c *ConsumerConfig) defaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Consumer wraps a group reader with per-topic handlers and fail-forward DLQ
// routing: a poison message never stalls its partition.
type Consumer struct {
	cfg      ConsumerConfig
	log      *slog.Logger
	dlq      *Producer
	topics   []string
	handlers map[string]Handler
	reader   readerAPI
	conn     connTracker

	newReader func(topics []string) readerAPI
	now       func() time.Time
}

func NewConsumer(cfg ConsumerConfig, dlq *Producer, log *slog.Logger) *Consumer {
	cfg.defaults()
	c := &Consumer{
		cfg:      cfg,
		log:      log,
		dlq:      dlq,
		handlers: map[string]Handler{},
		now:      time.Now,
	}
	c.newReader = func(topics []string) readerAPI {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: topics,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			// manual commit: offsets advance only after DLQ routing is settled
			CommitInterval: 0,
		})
	}
	return c
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.conn.set(StateConnecting, nil)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		c.conn.set(StateDisconnected, err)
		return fmt.Errorf("kafka: connect consumer group %s: %w", c.cfg.GroupID, err)
	}
	_ = conn.Close()
	c.conn.set(StateConnected, nil)
	c.log.Info("kafka consumer connected", "groupId", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Subscribe(topics []string) error {
	if !c.conn.connected() {
		return ErrNotConnected
	}
	if len(topics) == 0 {
		return errors.New("kafka: subscribe requires at least one topic")
	}
	c.topics = topics
	c.reader = c.newReader(topics)
	c.log.Info("subscribed to topics", "groupId", c.cfg.GroupID, "topics", topics)
	return nil
}

// AddMessageHandler registers the handler invoked for one topic's messages.
func (c *Consumer) AddMessageHandler(topic string, h Handler) {
	c.handlers[topic] = h
}

func (c *Consumer) Disconnect() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.conn.set(StateDisconnected, err)
	c.log.Info("kafka consumer disconnected", "groupId", c.cfg.GroupID)
	return err
}

// Run consumes until ctx is cancelled. Per message: decode the envelope,
// dispatch to the topic handler, route failures to the DLQ, then commit.
// The commit happens even after a failure; retry-by-reprocessing belongs to
// the DLQ consumer, not this loop.
func (c *Consumer) Run(ctx context.Context) error {
	if c.reader == nil {
		return errors.New("kafka: consumer is not subscribed")
	}

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.conn.set(StateDisconnected, err)
			return fmt.Errorf("kafka: fetch: %w", err)
		}

		c.process(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.conn.set(StateDisconnected, err)
			return fmt.Errorf("kafka: commit offset %d on %s[%d]: %w", m.Offset, m.Topic, m.Partition, err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, m kafka.Message) {
	start := c.now()

	env, err := schema.DecodeEnvelope(m.Value)
	if err != nil {
		c.routeToDLQ(ctx, m, err)
		return
	}

	handler, ok := c.handlers[m.Topic]
	if !ok {
		// not a partition failure: log and move on
		c.log.Warn("no handler registered for topic", "topic", m.Topic, "groupId", c.cfg.GroupID)
		return
	}

	if err := handler(ctx, &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Value:     m.Value,
		Envelope:  env,
	}); err != nil {
		c.routeToDLQ(ctx, m, err)
		return
	}

	metrics.MessagesConsumed.WithLabelValues(m.Topic).Inc()
	c.log.Debug("message processed",
		"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
		"groupId", c.cfg.GroupID, "duration", time.Since(start))
}

func (c *Consumer) routeToDLQ(ctx context.Context, m kafka.Message, cause error) {
	c.log.Error("failed to process message",
		"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
		"groupId", c.cfg.GroupID, "correlationId", correlationHeader(m), "error", cause)

	meta := &schema.DLQMetadata{
		Partition:     m.Partition,
		Offset:        m.Offset,
		Key:           string(m.Key),
		ConsumerGroup: c.cfg.GroupID,
	}
	if err := c.dlq.publishDLQ(ctx, m.Topic, m.Value, string(m.Key), cause, meta); err != nil {
		c.log.Error("failed to route message to DLQ",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
	}
}

func correlationHeader(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "correlationId" {
			return string(h.Value)
		}
	}
	return ""
}

// HealthCheck reports cached connection state only.
func (c *Consumer) HealthCheck() Health { return c.conn.health(c.now()) }

func (c *Consumer) ConnectionStatus() bool { return c.conn.connected() }
