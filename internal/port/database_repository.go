package port

import (
	"context"
	"time"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type StockRepository interface {
	// GetItem retrieves an item by ID, returns nil if it does not exist
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)

	// CreateItem inserts a new item, fails with domain.ErrItemExists on duplicate ID
	CreateItem(ctx context.Context, item domain.Item) error

	// UpdateItem writes title, author, price and stock with version check for optimistic locking
	UpdateItem(ctx context.Context, item domain.Item) error

	// DebitStock atomically decreases stock, returns false if insufficient
	DebitStock(ctx context.Context, itemID string, quantity int) (bool, error)

	// RestockItem atomically increases stock
	RestockItem(ctx context.Context, itemID string, quantity int) error
}

type OrderRepository interface {
	// CreateOrder persists a new order
	CreateOrder(ctx context.Context, order domain.Order) error

	// ListOrdersByUser returns a user's orders, newest first
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)

	// ListOrders returns every order, newest first
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

// OutboxEntry is a message that could not be handed to the event log and
// waits for the relay.
type OutboxEntry struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	Headers   map[string]string
	CreatedAt time.Time
}

type Outbox interface {
	EnqueueOutbox(ctx context.Context, entry OutboxEntry) error
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkOutboxPublished(ctx context.Context, id string, at time.Time) error
}
