package port

import (
	"context"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// InventoryClient talks to the inventory owner. Implementations never retry:
// a repeated debit is not safe without an idempotency key.
type InventoryClient interface {
	// GetSnapshot fails with domain.ErrItemNotFound or domain.ErrUpstreamUnavailable
	GetSnapshot(ctx context.Context, itemID string) (domain.InventorySnapshot, error)

	// Debit fails with domain.ErrInsufficientStock or domain.ErrUpstreamUnavailable
	Debit(ctx context.Context, itemID string, quantity int) error
}
