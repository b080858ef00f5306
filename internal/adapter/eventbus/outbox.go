package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/port"
)

const (
	defaultRelayBatch    = 100
	defaultOutboxTimeout = 5 * time.Second
)

// ReliablePublisher publishes to the log and, when that fails, parks the
// message in the outbox for the relay to retry.
type ReliablePublisher struct {
	primary       port.EventPublisher
	outbox        port.Outbox
	logger        *zap.Logger
	now           func() time.Time
	outboxTimeout time.Duration
}

type ReliableOption func(*ReliablePublisher)

// WithOutboxTimeout bounds the outbox write that follows a failed publish.
func WithOutboxTimeout(d time.Duration) ReliableOption {
	return func(p *ReliablePublisher) {
		if d > 0 {
			p.outboxTimeout = d
		}
	}
}

func NewReliablePublisher(primary port.EventPublisher, outbox port.Outbox, logger *zap.Logger, opts ...ReliableOption) *ReliablePublisher {
	p := &ReliablePublisher{
		primary:       primary,
		outbox:        outbox,
		logger:        logger,
		now:           time.Now,
		outboxTimeout: defaultOutboxTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish hands msg to the primary log. A failed publish usually means the
// caller's deadline was spent waiting on the broker, so the outbox write runs
// on a detached context with its own deadline.
func (p *ReliablePublisher) Publish(ctx context.Context, msg port.Message) error {
	perr := p.primary.Publish(ctx, msg)
	if perr == nil {
		return nil
	}

	entry := port.OutboxEntry{
		ID:        uuid.NewString(),
		Topic:     msg.Topic,
		Key:       msg.Key,
		Payload:   msg.Value,
		Headers:   withTrace(ctx, msg.Headers),
		CreatedAt: p.now().UTC(),
	}

	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.outboxTimeout)
	defer cancel()
	if err := p.outbox.EnqueueOutbox(octx, entry); err != nil {
		return fmt.Errorf("publish failed (%v) and outbox write failed: %w", perr, err)
	}

	p.logger.Warn("publish failed, message parked in outbox",
		zap.String("topic", msg.Topic), zap.String("outbox_id", entry.ID), zap.Error(perr))
	return nil
}

// OutboxRelay republishes parked messages in creation order.
type OutboxRelay struct {
	outbox    port.Outbox
	publisher port.EventPublisher
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewOutboxRelay(outbox port.Outbox, publisher port.EventPublisher, batchSize int, logger *zap.Logger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = defaultRelayBatch
	}
	return &OutboxRelay{outbox: outbox, publisher: publisher, batchSize: batchSize, logger: logger, now: time.Now}
}

// RunOnce publishes one batch and returns how many rows were relayed. It
// stops at the first publish failure so later rows never overtake it.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListPendingOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox: %w", err)
	}

	relayed := 0
	for _, row := range pending {
		msg := port.Message{
			Topic:   row.Topic,
			Key:     row.Key,
			Value:   row.Payload,
			Headers: relayHeaders(row),
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			return relayed, fmt.Errorf("relay outbox %s: %w", row.ID, err)
		}
		if err := r.outbox.MarkOutboxPublished(ctx, row.ID, r.now().UTC()); err != nil {
			return relayed, fmt.Errorf("mark outbox %s published: %w", row.ID, err)
		}
		relayed++
	}
	return relayed, nil
}

// Run calls RunOnce every interval until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Warn("outbox relay failed", zap.Int("relayed", n), zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Info("outbox relayed", zap.Int("relayed", n))
			}
		}
	}
}

// relayHeaders replays the headers stored with the row, trace context
// included. Rows written without headers get the row id as event id.
func relayHeaders(row port.OutboxEntry) map[string]string {
	headers := make(map[string]string, len(row.Headers)+1)
	for k, v := range row.Headers {
		headers[k] = v
	}
	if headers["event-id"] == "" {
		headers["event-id"] = row.ID
	}
	return headers
}
