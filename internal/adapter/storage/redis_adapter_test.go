package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func resetRedisItem(t *testing.T, client *redis.Client, adapter *RedisAdapter, itemID string, stock int) {
	t.Helper()
	ctx := context.Background()
	client.Del(ctx, itemKey(itemID), stockKey(itemID))
	if err := adapter.CreateItem(ctx, domain.Item{ID: itemID, Title: "Test Book", Price: 5, Stock: stock}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func TestRedisDebitStock_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	resetRedisItem(t, client, adapter, "test-item", 10)

	ok, err := adapter.DebitStock(ctx, "test-item", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected success")
	}

	stock, _ := client.Get(ctx, stockKey("test-item")).Int()
	if stock != 7 {
		t.Errorf("expected stock 7, got %d", stock)
	}
}

func TestRedisDebitStock_InsufficientStock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	resetRedisItem(t, client, adapter, "test-item", 5)

	ok, err := adapter.DebitStock(ctx, "test-item", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected failure due to insufficient stock")
	}

	stock, _ := client.Get(ctx, stockKey("test-item")).Int()
	if stock != 5 {
		t.Errorf("expected stock 5, got %d", stock)
	}
}

func TestRedisDebitStock_KeyNotExists(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, stockKey("nonexistent"))

	_, err := adapter.DebitStock(ctx, "nonexistent", 1)
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestRedisDebitStock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	initialStock := 20
	totalRequests := 50
	resetRedisItem(t, client, adapter, "concurrent-test", initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.DebitStock(ctx, "concurrent-test", 1)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}

	stock, _ := client.Get(ctx, stockKey("concurrent-test")).Int()
	if stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}
}

func TestRedisGetAndUpdateItem(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	resetRedisItem(t, client, adapter, "update-item", 3)

	item, err := adapter.GetItem(ctx, "update-item")
	if err != nil || item == nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Stock != 3 || item.Title != "Test Book" || item.Version != 0 {
		t.Errorf("unexpected item: %+v", item)
	}

	item.Title = "Renamed"
	item.Stock = 8
	if err := adapter.UpdateItem(ctx, *item); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	// stale version
	if err := adapter.UpdateItem(ctx, *item); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}

	got, _ := adapter.GetItem(ctx, "update-item")
	if got.Title != "Renamed" || got.Stock != 8 || got.Version != 1 {
		t.Errorf("unexpected item after update: %+v", got)
	}

	if err := adapter.CreateItem(ctx, *got); !errors.Is(err, domain.ErrItemExists) {
		t.Errorf("expected ErrItemExists, got: %v", err)
	}
}

func TestRedisRestockItem(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	resetRedisItem(t, client, adapter, "restock-item", 5)

	if err := adapter.RestockItem(ctx, "restock-item", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stock, _ := client.Get(ctx, stockKey("restock-item")).Int()
	if stock != 8 {
		t.Errorf("expected stock 8, got %d", stock)
	}
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisDedupStore(client)
	client.Del(ctx, "test-idem-key")

	state, err := store.SetIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimAcquired {
		t.Errorf("expected first call to acquire, got %v", state)
	}

	state, err = store.SetIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimInFlight {
		t.Errorf("expected second call to see in-flight, got %v", state)
	}

	if err := store.ClearIdempotency(ctx, "test-idem-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ = store.SetIdempotency(ctx, "test-idem-key", time.Minute)
	if state != port.ClaimAcquired {
		t.Errorf("expected claim to succeed after clear, got %v", state)
	}
}

func TestSetIdempotency_LeaseExpires(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisDedupStore(client)
	client.Del(ctx, "lease-idem-key")

	state, err := store.SetIdempotency(ctx, "lease-idem-key", 100*time.Millisecond)
	if err != nil || state != port.ClaimAcquired {
		t.Fatalf("expected acquire, got %v: %v", state, err)
	}

	// Holder never marks or releases
	time.Sleep(250 * time.Millisecond)

	state, err = store.SetIdempotency(ctx, "lease-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimAcquired {
		t.Errorf("expected abandoned lease to be reclaimable, got %v", state)
	}
}

func TestSetIdempotency_DoneMarker(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisDedupStore(client)
	client.Del(ctx, "done-idem-key")

	if _, err := store.SetIdempotency(ctx, "done-idem-key", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.MarkIdempotencyDone(ctx, "done-idem-key", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A late release from another attempt must not erase the marker
	if err := store.ClearIdempotency(ctx, "done-idem-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := store.SetIdempotency(ctx, "done-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != port.ClaimDone {
		t.Errorf("expected done, got %v", state)
	}

	ttl := client.TTL(ctx, "done-idem-key").Val()
	if ttl <= time.Minute {
		t.Errorf("expected marker retention beyond the lease, got %v", ttl)
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisDedupStore(client)
	client.Del(ctx, "concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := store.SetIdempotency(ctx, "concurrent-idem-key", time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if state == port.ClaimAcquired {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
