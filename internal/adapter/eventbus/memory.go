package eventbus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/port"
)

const (
	defaultPartitions = 4
	defaultRetryDelay = 100 * time.Millisecond
)

// MemoryLog is an in-process partitioned log with consumer groups. Messages
// with the same key land on the same partition and are delivered in append
// order. Each group keeps its own committed offset per partition, and a
// message is redelivered until its handler succeeds.
type MemoryLog struct {
	mu         sync.Mutex
	partitions int
	retryDelay time.Duration
	logger     *zap.Logger

	topics  map[string][][]port.Message
	offsets map[string]int64
	claims  map[string]chan struct{}
	wake    chan struct{}
	next    uint32
}

type MemoryOption func(*MemoryLog)

func WithPartitions(n int) MemoryOption {
	return func(l *MemoryLog) {
		if n > 0 {
			l.partitions = n
		}
	}
}

// WithRetryDelay sets the pause before a failed message is redelivered.
func WithRetryDelay(d time.Duration) MemoryOption {
	return func(l *MemoryLog) { l.retryDelay = d }
}

func WithMemoryLogger(logger *zap.Logger) MemoryOption {
	return func(l *MemoryLog) { l.logger = logger }
}

func NewMemoryLog(opts ...MemoryOption) *MemoryLog {
	l := &MemoryLog{
		partitions: defaultPartitions,
		retryDelay: defaultRetryDelay,
		logger:     zap.NewNop(),
		topics:     make(map[string][][]port.Message),
		offsets:    make(map[string]int64),
		claims:     make(map[string]chan struct{}),
		wake:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Partition returns the partition a key is routed to.
func (l *MemoryLog) Partition(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(l.partitions))
}

func (l *MemoryLog) Publish(ctx context.Context, msg port.Message) error {
	if msg.Topic == "" {
		return errors.New("memory log: message without topic")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	parts := l.topicLocked(msg.Topic)
	p := l.Partition(msg.Key)
	if msg.Key == "" {
		p = int(l.next % uint32(l.partitions))
		l.next++
	}

	msg.Value = append([]byte(nil), msg.Value...)
	msg.Headers = withTrace(ctx, msg.Headers)
	msg.Partition = p
	msg.Offset = int64(len(parts[p]))
	parts[p] = append(parts[p], msg)

	close(l.wake)
	l.wake = make(chan struct{})
	return nil
}

// Subscribe consumes topic as a member of group until ctx is done. Members
// of the same group split partitions between them: a partition is served by
// one member at a time and handed over from the committed offset when that
// member leaves.
func (l *MemoryLog) Subscribe(ctx context.Context, topic, group string, handler port.MessageHandler) error {
	if topic == "" || group == "" {
		return errors.New("memory log: topic and group are required")
	}

	l.mu.Lock()
	l.topicLocked(topic)
	l.mu.Unlock()

	var wg sync.WaitGroup
	for p := 0; p < l.partitions; p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			l.consume(ctx, topic, group, partition, handler)
		}(p)
	}
	wg.Wait()
	return nil
}

// Messages returns every message on topic, partition by partition.
func (l *MemoryLog) Messages(topic string) []port.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []port.Message
	for _, part := range l.topics[topic] {
		out = append(out, part...)
	}
	return out
}

// Committed returns the next offset group will read from partition.
func (l *MemoryLog) Committed(topic, group string, partition int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offsets[offsetKey(topic, group, partition)]
}

func (l *MemoryLog) consume(ctx context.Context, topic, group string, partition int, handler port.MessageHandler) {
	claim := l.claim(topic, group, partition)
	select {
	case claim <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-claim }()

	log := l.logger.With(zap.String("topic", topic), zap.String("group", group), zap.Int("partition", partition))
	for {
		msg, wake, ok := l.fetch(topic, group, partition)
		if !ok {
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		err := handler(traceContext(ctx, msg.Headers), msg)
		switch {
		case err == nil:
		case errors.Is(err, port.ErrPermanentFailure):
			log.Error("dropping message after permanent failure", zap.Int64("offset", msg.Offset), zap.Error(err))
		default:
			if ctx.Err() != nil {
				return
			}
			log.Warn("message handling failed, redelivering", zap.Int64("offset", msg.Offset), zap.Error(err))
			select {
			case <-time.After(l.retryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		l.commit(topic, group, partition, msg.Offset+1)
	}
}

func (l *MemoryLog) fetch(topic, group string, partition int) (port.Message, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	part := l.topics[topic][partition]
	off := l.offsets[offsetKey(topic, group, partition)]
	if off < int64(len(part)) {
		return part[off], nil, true
	}
	return port.Message{}, l.wake, false
}

func (l *MemoryLog) commit(topic, group string, partition int, next int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := offsetKey(topic, group, partition)
	if next > l.offsets[key] {
		l.offsets[key] = next
	}
}

func (l *MemoryLog) claim(topic, group string, partition int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := offsetKey(topic, group, partition)
	c, ok := l.claims[key]
	if !ok {
		c = make(chan struct{}, 1)
		l.claims[key] = c
	}
	return c
}

func (l *MemoryLog) topicLocked(topic string) [][]port.Message {
	parts, ok := l.topics[topic]
	if !ok {
		parts = make([][]port.Message, l.partitions)
		l.topics[topic] = parts
	}
	return parts
}

func offsetKey(topic, group string, partition int) string {
	return fmt.Sprintf("%s/%s/%d", group, topic, partition)
}
