package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const (
	defaultEmailDomain   = "bookstore.com"
	defaultClaimLease    = 10 * time.Second
	defaultSentRetention = 24 * time.Hour
	claimUpdateTimeout   = 2 * time.Second
)

// ErrNotificationInFlight asks for redelivery while another attempt still
// holds the send lease.
var ErrNotificationInFlight = errors.New("notification delivery in flight")

// NotificationService reacts to placed orders. Deliveries are at-least-once,
// so every channel send takes a short lease in the dedup store first and is
// marked sent only after the notifier accepted it.
type NotificationService struct {
	dedup         port.DedupStore
	notifier      port.Notifier
	logger        *zap.Logger
	emailDomain   string
	claimLease    time.Duration
	sentRetention time.Duration
}

type NotificationOption func(*NotificationService)

// WithClaimLease bounds how long a crashed attempt blocks a retry. It must
// outlast one notifier call.
func WithClaimLease(d time.Duration) NotificationOption {
	return func(s *NotificationService) { s.claimLease = d }
}

func WithSentRetention(d time.Duration) NotificationOption {
	return func(s *NotificationService) { s.sentRetention = d }
}

func NewNotificationService(dedup port.DedupStore, notifier port.Notifier, logger *zap.Logger, opts ...NotificationOption) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		dedup:         dedup,
		notifier:      notifier,
		logger:        logger,
		emailDomain:   defaultEmailDomain,
		claimLease:    defaultClaimLease,
		sentRetention: defaultSentRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage is the port.MessageHandler for the order events topic.
func (s *NotificationService) HandleMessage(ctx context.Context, msg port.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: decode order event: %v", port.ErrPermanentFailure, err)
	}
	if event.OrderID == "" || event.UserID == "" {
		return fmt.Errorf("%w: order event without orderId or userId", port.ErrPermanentFailure)
	}
	return s.HandleOrderPlaced(ctx, event)
}

func (s *NotificationService) HandleOrderPlaced(ctx context.Context, event domain.OrderEvent) error {
	logger := s.logger.With(zap.String("order_id", event.OrderID), zap.String("user_id", event.UserID))

	for _, n := range s.compose(event) {
		key := fmt.Sprintf("notified:%s:%s", event.OrderID, n.Channel)
		channel := zap.String("channel", string(n.Channel))

		state, err := s.dedup.SetIdempotency(ctx, key, s.claimLease)
		if err != nil {
			return fmt.Errorf("claim %s: %w", key, err)
		}
		switch state {
		case port.ClaimDone:
			logger.Info("duplicate delivery, notification already sent", channel)
			continue
		case port.ClaimInFlight:
			return fmt.Errorf("%w: %s", ErrNotificationInFlight, key)
		}

		if err := s.notifier.Notify(ctx, n); err != nil {
			s.settleClaim(ctx, logger, key, false)
			return fmt.Errorf("send %s notification: %w", n.Channel, err)
		}
		s.settleClaim(ctx, logger, key, true)
		logger.Info("notification sent", channel, zap.String("recipient", n.Recipient))
	}
	return nil
}

// settleClaim marks the claim sent or releases it. It runs past ctx
// cancellation so a shutdown mid-send does not leave the lease behind; if
// it still fails the lease expires on its own.
func (s *NotificationService) settleClaim(ctx context.Context, logger *zap.Logger, key string, sent bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimUpdateTimeout)
	defer cancel()

	if sent {
		if err := s.dedup.MarkIdempotencyDone(ctx, key, s.sentRetention); err != nil {
			logger.Error("failed to mark notification sent, it may be sent again", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := s.dedup.ClearIdempotency(ctx, key); err != nil {
		logger.Error("failed to release notification claim", zap.String("key", key), zap.Error(err))
	}
}

func (s *NotificationService) compose(event domain.OrderEvent) []domain.Notification {
	return []domain.Notification{
		{
			OrderID:   event.OrderID,
			Channel:   domain.ChannelEmail,
			Recipient: fmt.Sprintf("%s@%s", event.UserID, s.emailDomain),
			Subject:   "Order Confirmation #" + event.OrderID,
			Body: fmt.Sprintf("Your order for %d x %q has been placed. Order id: %s.",
				event.Quantity, event.ItemTitle, event.OrderID),
		},
		{
			OrderID:   event.OrderID,
			Channel:   domain.ChannelSMS,
			Recipient: event.UserID,
			Body:      fmt.Sprintf("Order %s confirmed: %d x %s.", event.OrderID, event.Quantity, event.ItemTitle),
		},
	}
}
