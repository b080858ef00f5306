package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bookstore/internal/port"
)

type recorder struct {
	mu   sync.Mutex
	msgs []port.Message
}

func (r *recorder) handle(_ context.Context, msg port.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) snapshot() []port.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]port.Message(nil), r.msgs...)
}

func subscribe(t *testing.T, log *MemoryLog, topic, group string, h port.MessageHandler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = log.Subscribe(ctx, topic, group, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMemoryLog_OrderedPerKey(t *testing.T) {
	log := NewMemoryLog(WithPartitions(3))
	rec := &recorder{}
	subscribe(t, log, "orders", "g1", rec.handle)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("user-%d", i%4)
		require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: key, Value: []byte(fmt.Sprint(i))}))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 20 }, 2*time.Second, 5*time.Millisecond)

	seen := map[string][]string{}
	for _, m := range rec.snapshot() {
		assert.Equal(t, log.Partition(m.Key), m.Partition)
		seen[m.Key] = append(seen[m.Key], string(m.Value))
	}
	for u := 0; u < 4; u++ {
		key := fmt.Sprintf("user-%d", u)
		var want []string
		for i := u; i < 20; i += 4 {
			want = append(want, fmt.Sprint(i))
		}
		assert.Equal(t, want, seen[key], "order for %s", key)
	}
}

func TestMemoryLog_EveryGroupGetsEveryMessage(t *testing.T) {
	log := NewMemoryLog()
	a, b := &recorder{}, &recorder{}
	subscribe(t, log, "orders", "notification-group", a.handle)
	subscribe(t, log, "orders", "analytics-group", b.handle)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Publish(context.Background(), port.Message{Topic: "orders", Key: "alice", Value: []byte{byte(i)}}))
	}

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 5 && len(b.snapshot()) == 5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryLog_SameGroupSharesMessages(t *testing.T) {
	log := NewMemoryLog(WithPartitions(2))
	a, b := &recorder{}, &recorder{}
	subscribe(t, log, "orders", "g", a.handle)
	subscribe(t, log, "orders", "g", b.handle)

	for i := 0; i < 10; i++ {
		require.NoError(t, log.Publish(context.Background(), port.Message{Topic: "orders", Key: fmt.Sprint(i)}))
	}

	require.Eventually(t, func() bool {
		return len(a.snapshot())+len(b.snapshot()) == 10
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 10, len(a.snapshot())+len(b.snapshot()))
}

func TestMemoryLog_RedeliversUntilSuccess(t *testing.T) {
	log := NewMemoryLog(WithPartitions(1), WithRetryDelay(time.Millisecond))

	var mu sync.Mutex
	attempts := map[string]int{}
	var delivered []string
	subscribe(t, log, "orders", "g", func(_ context.Context, msg port.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[string(msg.Value)]++
		if string(msg.Value) == "first" && attempts["first"] < 3 {
			return errors.New("smtp down")
		}
		delivered = append(delivered, string(msg.Value))
		return nil
	})

	ctx := context.Background()
	require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: "k", Value: []byte("first")}))
	require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: "k", Value: []byte("second")}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, delivered)
	assert.Equal(t, 3, attempts["first"])
	assert.Equal(t, int64(2), log.Committed("orders", "g", 0))
}

func TestMemoryLog_PermanentFailureIsSkipped(t *testing.T) {
	log := NewMemoryLog(WithPartitions(1))
	rec := &recorder{}
	subscribe(t, log, "orders", "g", func(ctx context.Context, msg port.Message) error {
		if string(msg.Value) == "poison" {
			return fmt.Errorf("decode: %w", port.ErrPermanentFailure)
		}
		return rec.handle(ctx, msg)
	})

	ctx := context.Background()
	require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: "k", Value: []byte("poison")}))
	require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: "k", Value: []byte("ok")}))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ok", string(rec.snapshot()[0].Value))
}

func TestMemoryLog_ResumesFromCommittedOffset(t *testing.T) {
	log := NewMemoryLog(WithPartitions(1))
	ctx := context.Background()

	first := &recorder{}
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = log.Subscribe(subCtx, "orders", "g", first.handle)
	}()

	require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: "k", Value: []byte("1")}))
	require.Eventually(t, func() bool { return len(first.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.NoError(t, log.Publish(ctx, port.Message{Topic: "orders", Key: "k", Value: []byte("2")}))

	second := &recorder{}
	subscribe(t, log, "orders", "g", second.handle)
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "2", string(second.snapshot()[0].Value))
}

func TestMemoryLog_RejectsMissingTopic(t *testing.T) {
	log := NewMemoryLog()
	assert.Error(t, log.Publish(context.Background(), port.Message{Key: "k"}))
	assert.Error(t, log.Subscribe(context.Background(), "", "g", func(context.Context, port.Message) error { return nil }))
}
