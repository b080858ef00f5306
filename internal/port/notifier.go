package port

import (
	"context"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}
