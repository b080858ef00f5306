package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

type memStock struct {
	mu    sync.Mutex
	items map[string]domain.Item
}

func newMemStock() *memStock {
	return &memStock{items: make(map[string]domain.Item)}
}

func (m *memStock) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memStock) CreateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return domain.ErrItemExists
	}
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	m.items[item.ID] = item
	return nil
}

func (m *memStock) UpdateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok {
		return domain.ErrItemNotFound
	}
	if cur.Version != item.Version {
		return domain.ErrConflict
	}
	item.Version++
	item.UpdatedAt = time.Now().UTC()
	m.items[item.ID] = item
	return nil
}

func (m *memStock) DebitStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return false, domain.ErrItemNotFound
	}
	if item.Stock < quantity {
		return false, nil
	}
	item.Stock -= quantity
	m.items[itemID] = item
	return true, nil
}

func (m *memStock) RestockItem(ctx context.Context, itemID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return domain.ErrItemNotFound
	}
	item.Stock += quantity
	m.items[itemID] = item
	return nil
}

func (m *memStock) stockOf(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[itemID].Stock
}

type memLedger struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (m *memLedger) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order)
	return nil
}

func (m *memLedger) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	return out, nil
}

func (m *memLedger) ListOrders(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.orders...), nil
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type memDedup struct {
	mu   sync.Mutex
	keys map[string]port.ClaimState
}

func (m *memDedup) SetIdempotency(ctx context.Context, key string, lease time.Duration) (port.ClaimState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]port.ClaimState{}
	}
	if state, ok := m.keys[key]; ok {
		return state, nil
	}
	m.keys[key] = port.ClaimInFlight
	return port.ClaimAcquired, nil
}

func (m *memDedup) MarkIdempotencyDone(ctx context.Context, key string, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = port.ClaimDone
	return nil
}

func (m *memDedup) ClearIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] == port.ClaimInFlight {
		delete(m.keys, key)
	}
	return nil
}
