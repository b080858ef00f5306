package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/port"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond

	HeaderDLQReason      = "dlq-reason"
	HeaderDLQSourceTopic = "dlq-source-topic"
	HeaderDLQAttempts    = "dlq-attempts"
)

// KafkaPublisher appends to Kafka topics. The hash balancer keeps every key
// on one partition, so messages for one key stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg port.Message) error {
	headers := withTrace(ctx, msg.Headers)
	km := kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: make([]kafka.Header, 0, len(headers)),
	}
	for k, v := range headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write to kafka topic %s: %w", msg.Topic, err)
	}
	p.logger.Debug("message published", zap.String("topic", msg.Topic), zap.String("key", msg.Key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber consumes with a Kafka consumer group. Offsets are committed
// only after the handler returns, so a crash in between redelivers the
// message. Messages that fail permanently, or keep failing after maxRetries,
// are copied to the dead letter topic and committed.
type KafkaSubscriber struct {
	brokers    []string
	dlq        port.EventPublisher
	dlqTopic   string
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

type SubscriberOption func(*KafkaSubscriber)

// WithDeadLetter routes poison messages to topic through publisher.
func WithDeadLetter(publisher port.EventPublisher, topic string) SubscriberOption {
	return func(s *KafkaSubscriber) {
		s.dlq = publisher
		s.dlqTopic = topic
	}
}

func WithMaxRetries(n int) SubscriberOption {
	return func(s *KafkaSubscriber) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithBackoff(d time.Duration) SubscriberOption {
	return func(s *KafkaSubscriber) { s.backoff = d }
}

func WithSubscriberLogger(logger *zap.Logger) SubscriberOption {
	return func(s *KafkaSubscriber) { s.logger = logger }
}

func NewKafkaSubscriber(brokers []string, opts ...SubscriberOption) *KafkaSubscriber {
	s := &KafkaSubscriber{
		brokers:    brokers,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KafkaSubscriber) Subscribe(ctx context.Context, topic, group string, handler port.MessageHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	log := s.logger.With(zap.String("topic", topic), zap.String("group", group))
	log.Info("consumer started")

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", topic, err)
		}

		msg := fromKafka(m)
		if err := s.process(ctx, log, msg, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d on %s/%d: %w", m.Offset, topic, m.Partition, err)
		}
	}
}

func (s *KafkaSubscriber) process(ctx context.Context, log *zap.Logger, msg port.Message, handler port.MessageHandler) error {
	log = log.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))
	msgCtx := traceContext(ctx, msg.Headers)

	for attempt := 1; ; attempt++ {
		err := handler(msgCtx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, port.ErrPermanentFailure) {
			log.Error("permanent failure, sending to dead letter topic", zap.Error(err))
			return s.deadLetter(ctx, msg, err, attempt)
		}
		if attempt >= s.maxRetries {
			log.Error("retries exhausted, sending to dead letter topic", zap.Int("attempts", attempt), zap.Error(err))
			return s.deadLetter(ctx, msg, err, attempt)
		}

		log.Warn("message handling failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(s.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *KafkaSubscriber) deadLetter(ctx context.Context, msg port.Message, cause error, attempts int) error {
	if s.dlq == nil || s.dlqTopic == "" {
		s.logger.Error("no dead letter topic configured, dropping message",
			zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))
		return nil
	}

	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderDLQReason] = cause.Error()
	headers[HeaderDLQSourceTopic] = msg.Topic
	headers[HeaderDLQAttempts] = strconv.Itoa(attempts)

	if err := s.dlq.Publish(ctx, port.Message{Topic: s.dlqTopic, Key: msg.Key, Value: msg.Value, Headers: headers}); err != nil {
		return fmt.Errorf("publish to dead letter topic %s: %w", s.dlqTopic, err)
	}
	return nil
}

func fromKafka(m kafka.Message) port.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return port.Message{
		Topic:     m.Topic,
		Key:       string(m.Key),
		Value:     m.Value,
		Headers:   headers,
		Partition: m.Partition,
		Offset:    m.Offset,
	}
}
