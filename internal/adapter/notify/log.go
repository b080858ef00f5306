package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// LogNotifier writes notifications to the log instead of delivering them.
// Sent keeps every notification for inspection.
type LogNotifier struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []domain.Notification
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()

	n.logger.Info("notification sent",
		zap.String("order_id", note.OrderID),
		zap.String("channel", string(note.Channel)),
		zap.String("recipient", note.Recipient),
		zap.String("subject", note.Subject),
	)
	return nil
}

func (n *LogNotifier) Sent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}
