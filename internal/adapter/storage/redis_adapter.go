package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const (
	claimPending = "pending"
	claimDone    = "done"
)

// Item metadata and stock share a hash tag so scripts touching both stay on
// one cluster slot.
func itemKey(itemID string) string  { return "item:{" + itemID + "}" }
func stockKey(itemID string) string { return "stock:{" + itemID + "}" }

var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

var createItemScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'title', ARGV[1], 'author', ARGV[2], 'price', ARGV[3],
	'version', 0, 'created_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('SET', KEYS[2], ARGV[4])
return 1
`)

var updateItemScript = redis.NewScript(`
local version = redis.call('HGET', KEYS[1], 'version')
if not version then
	return -1
end
if tonumber(version) ~= tonumber(ARGV[5]) then
	return 0
end
redis.call('HSET', KEYS[1], 'title', ARGV[1], 'author', ARGV[2], 'price', ARGV[3], 'updated_at', ARGV[6])
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('SET', KEYS[2], ARGV[4])
return 1
`)

var restockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('INCRBY', KEYS[1], ARGV[1])
return 1
`)

// RedisAdapter is the in-memory stock owner; the Lua scripts make each check
// and write a single atomic step on the server.
type RedisAdapter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client, now: time.Now}
}

func (r *RedisAdapter) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	pipe := r.client.Pipeline()
	meta := pipe.HGetAll(ctx, itemKey(itemID))
	stock := pipe.Get(ctx, stockKey(itemID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read item %s: %w", itemID, err)
	}

	fields := meta.Val()
	if len(fields) == 0 {
		return nil, nil
	}

	item := domain.Item{ID: itemID, Title: fields["title"], Author: fields["author"]}
	item.Price, _ = strconv.ParseFloat(fields["price"], 64)
	item.Version, _ = strconv.Atoi(fields["version"])
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])

	n, err := stock.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("parse stock %s: %w", itemID, err)
	}
	item.Stock = n

	return &item, nil
}

func (r *RedisAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	created, err := createItemScript.Run(ctx, r.client,
		[]string{itemKey(item.ID), stockKey(item.ID)},
		item.Title, item.Author, strconv.FormatFloat(item.Price, 'f', 2, 64), item.Stock,
		r.now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("create item %s: %w", item.ID, err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", domain.ErrItemExists, item.ID)
	}
	return nil
}

func (r *RedisAdapter) UpdateItem(ctx context.Context, item domain.Item) error {
	result, err := updateItemScript.Run(ctx, r.client,
		[]string{itemKey(item.ID), stockKey(item.ID)},
		item.Title, item.Author, strconv.FormatFloat(item.Price, 'f', 2, 64), item.Stock, item.Version,
		r.now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("update item %s: %w", item.ID, err)
	}

	switch result {
	case -1:
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, item.ID)
	case 0:
		return domain.ErrConflict
	}
	return nil
}

func (r *RedisAdapter) DebitStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	result, err := decrementStockScript.Run(ctx, r.client, []string{stockKey(itemID)}, quantity).Int()
	if err != nil {
		return false, err
	}
	if result == -1 {
		return false, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}

	return result == 1, nil
}

func (r *RedisAdapter) RestockItem(ctx context.Context, itemID string, quantity int) error {
	result, err := restockScript.Run(ctx, r.client, []string{stockKey(itemID)}, quantity).Int()
	if err != nil {
		return err
	}
	if result == -1 {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return nil
}

// RedisDedupStore backs idempotent consumers. A key holds "pending" with a
// short expiry while work is in progress and "done" once it completed.
type RedisDedupStore struct {
	client redis.UniversalClient
}

func NewRedisDedupStore(client redis.UniversalClient) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

// Returns 0 acquired, 1 in flight, 2 done
var claimScript = redis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if v == ARGV[2] then
		return 2
	end
	if v then
		return 1
	end
	redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[1])
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func (r *RedisDedupStore) SetIdempotency(ctx context.Context, key string, lease time.Duration) (port.ClaimState, error) {
	result, err := claimScript.Run(ctx, r.client, []string{key},
		lease.Milliseconds(), claimDone, claimPending).Int()
	if err != nil {
		return 0, err
	}

	switch result {
	case 0:
		return port.ClaimAcquired, nil
	case 2:
		return port.ClaimDone, nil
	default:
		return port.ClaimInFlight, nil
	}
}

func (r *RedisDedupStore) MarkIdempotencyDone(ctx context.Context, key string, retention time.Duration) error {
	return r.client.Set(ctx, key, claimDone, retention).Err()
}

func (r *RedisDedupStore) ClearIdempotency(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, r.client, []string{key}, claimPending).Err()
}
