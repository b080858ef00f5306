package eventbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/port"
)

func getKafkaBrokers(t *testing.T) []string {
	raw := os.Getenv("KAFKA_BROKERS")
	if raw == "" {
		raw = "localhost:9092"
	}
	brokers := strings.Split(raw, ",")

	conn, err := net.DialTimeout("tcp", brokers[0], time.Second)
	if err != nil {
		t.Skipf("Kafka not available: %v", err)
	}
	conn.Close()
	return brokers
}

func TestKafka_PublishSubscribe(t *testing.T) {
	brokers := getKafkaBrokers(t)
	pub := NewKafkaPublisher(brokers, zap.NewNop())
	defer pub.Close()

	topic := "test-orders-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, pub.Publish(ctx, port.Message{Topic: topic, Key: "alice", Value: []byte("1")}))
	require.NoError(t, pub.Publish(ctx, port.Message{Topic: topic, Key: "alice", Value: []byte("2")}))

	var mu sync.Mutex
	var got []string
	sub := NewKafkaSubscriber(brokers)
	subCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(subCtx, topic, "test-group", func(_ context.Context, msg port.Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(msg.Value))
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 25*time.Second, 100*time.Millisecond)
	stop()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestKafkaSubscriber_DeadLettersPermanentFailures(t *testing.T) {
	dlq := &mockPublisher{}
	sub := NewKafkaSubscriber(nil, WithDeadLetter(dlq, "order-events-dlq"), WithBackoff(time.Millisecond))

	msg := port.Message{Topic: "order-events", Key: "alice", Value: []byte("not json"), Headers: map[string]string{"event-id": "e-1"}}
	err := sub.process(context.Background(), sub.logger, msg, func(context.Context, port.Message) error {
		return fmt.Errorf("decode: %w", port.ErrPermanentFailure)
	})
	require.NoError(t, err)

	require.Len(t, dlq.sent, 1)
	out := dlq.sent[0]
	assert.Equal(t, "order-events-dlq", out.Topic)
	assert.Equal(t, "alice", out.Key)
	assert.Equal(t, "e-1", out.Headers["event-id"])
	assert.Equal(t, "order-events", out.Headers[HeaderDLQSourceTopic])
	assert.Equal(t, "1", out.Headers[HeaderDLQAttempts])
}

func TestKafkaSubscriber_RetriesThenDeadLetters(t *testing.T) {
	dlq := &mockPublisher{}
	sub := NewKafkaSubscriber(nil, WithDeadLetter(dlq, "dlq"), WithMaxRetries(3), WithBackoff(time.Millisecond))

	calls := 0
	err := sub.process(context.Background(), sub.logger, port.Message{Topic: "order-events"}, func(context.Context, port.Message) error {
		calls++
		return errors.New("smtp down")
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, dlq.sent, 1)
	assert.Equal(t, "3", dlq.sent[0].Headers[HeaderDLQAttempts])
}

func TestKafkaSubscriber_RecoversWithinRetries(t *testing.T) {
	dlq := &mockPublisher{}
	sub := NewKafkaSubscriber(nil, WithDeadLetter(dlq, "dlq"), WithMaxRetries(3), WithBackoff(time.Millisecond))

	calls := 0
	err := sub.process(context.Background(), sub.logger, port.Message{Topic: "order-events"}, func(context.Context, port.Message) error {
		calls++
		if calls < 2 {
			return errors.New("smtp down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, dlq.sent)
}

func TestKafkaSubscriber_DeadLetterFailureStopsCommit(t *testing.T) {
	dlq := &mockPublisher{err: errors.New("broker down")}
	sub := NewKafkaSubscriber(nil, WithDeadLetter(dlq, "dlq"))

	err := sub.process(context.Background(), sub.logger, port.Message{Topic: "order-events"}, func(context.Context, port.Message) error {
		return port.ErrPermanentFailure
	})
	assert.Error(t, err)
}
