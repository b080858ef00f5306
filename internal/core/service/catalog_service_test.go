package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// Mock StockRepository
type mockStockRepo struct {
	mu        sync.Mutex
	items     map[string]domain.Item
	conflicts int
}

func newMockStockRepo(items ...domain.Item) *mockStockRepo {
	m := &mockStockRepo{items: make(map[string]domain.Item)}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockStockRepo) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *mockStockRepo) CreateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return domain.ErrItemExists
	}
	m.items[item.ID] = item
	return nil
}

func (m *mockStockRepo) UpdateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok {
		return domain.ErrItemNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		cur.Version++
		m.items[item.ID] = cur
		return domain.ErrConflict
	}
	if cur.Version != item.Version {
		return domain.ErrConflict
	}
	item.Version++
	m.items[item.ID] = item
	return nil
}

func (m *mockStockRepo) DebitStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return false, domain.ErrItemNotFound
	}
	if it.Stock < quantity {
		return false, nil
	}
	it.Stock -= quantity
	m.items[itemID] = it
	return true, nil
}

func (m *mockStockRepo) RestockItem(ctx context.Context, itemID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return domain.ErrItemNotFound
	}
	it.Stock += quantity
	m.items[itemID] = it
	return nil
}

func TestCatalog_CreateItemRequiresAdmin(t *testing.T) {
	svc := NewCatalogService(newMockStockRepo(), nil)
	item := domain.Item{ID: "dune", Title: "Dune", Stock: 5, Price: 9.5}

	_, err := svc.CreateItem(context.Background(), alice, item)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	created, err := svc.CreateItem(context.Background(), root, item)
	require.NoError(t, err)
	assert.Equal(t, 5, created.Stock)

	_, err = svc.CreateItem(context.Background(), root, item)
	assert.ErrorIs(t, err, domain.ErrItemExists)
}

func TestCatalog_CreateItemValidation(t *testing.T) {
	svc := NewCatalogService(newMockStockRepo(), nil)

	for _, item := range []domain.Item{{ID: "", Title: "x"}, {ID: "a"}, {ID: "a", Title: "x", Stock: -1}} {
		_, err := svc.CreateItem(context.Background(), root, item)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	}
}

func TestCatalog_UpdateItem(t *testing.T) {
	repo := newMockStockRepo(domain.Item{ID: "dune", Title: "Dune", Stock: 5})
	svc := NewCatalogService(repo, nil)
	title := "Dune Messiah"
	stock := 8

	_, err := svc.UpdateItem(context.Background(), alice, "dune", ItemUpdate{Title: &title})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	updated, err := svc.UpdateItem(context.Background(), root, "dune", ItemUpdate{Title: &title, Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, 8, updated.Stock)
	assert.Equal(t, 1, updated.Version)
}

func TestCatalog_UpdateItemRetriesOnConflict(t *testing.T) {
	repo := newMockStockRepo(domain.Item{ID: "dune", Title: "Dune", Stock: 5})
	repo.conflicts = 2
	svc := NewCatalogService(repo, nil)
	stock := 1

	updated, err := svc.UpdateItem(context.Background(), root, "dune", ItemUpdate{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Stock)

	repo.conflicts = maxUpdateAttempts
	_, err = svc.UpdateItem(context.Background(), root, "dune", ItemUpdate{Stock: &stock})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCatalog_UpdateMissingItem(t *testing.T) {
	svc := NewCatalogService(newMockStockRepo(), nil)
	stock := 1

	_, err := svc.UpdateItem(context.Background(), root, "nope", ItemUpdate{Stock: &stock})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCatalog_Debit(t *testing.T) {
	repo := newMockStockRepo(domain.Item{ID: "dune", Title: "Dune", Stock: 5})
	svc := NewCatalogService(repo, nil)

	require.NoError(t, svc.Debit(context.Background(), "dune", 3))
	assert.ErrorIs(t, svc.Debit(context.Background(), "dune", 3), domain.ErrInsufficientStock)
	assert.ErrorIs(t, svc.Debit(context.Background(), "missing", 1), domain.ErrItemNotFound)
	assert.ErrorIs(t, svc.Debit(context.Background(), "dune", 0), domain.ErrInvalidRequest)

	snap, err := svc.Snapshot(context.Background(), "dune")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.AvailableQuantity)
	assert.Equal(t, "Dune", snap.Title)
}

func TestCatalog_DebitConcurrent(t *testing.T) {
	repo := newMockStockRepo(domain.Item{ID: "dune", Title: "Dune", Stock: 20})
	svc := NewCatalogService(repo, nil)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Debit(context.Background(), "dune", 1) == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), successCount.Load())
	item, err := svc.GetItem(context.Background(), "dune")
	require.NoError(t, err)
	assert.Equal(t, 0, item.Stock)
}

func TestCatalog_RestockAndReduceStock(t *testing.T) {
	repo := newMockStockRepo(domain.Item{ID: "dune", Title: "Dune", Stock: 1})
	svc := NewCatalogService(repo, nil)

	_, err := svc.Restock(context.Background(), alice, "dune", 4)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	item, err := svc.Restock(context.Background(), root, "dune", 4)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Stock)

	ok, err := svc.ReduceStock(context.Background(), root, "dune", 6)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.ReduceStock(context.Background(), root, "dune", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.ReduceStock(context.Background(), alice, "dune", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
