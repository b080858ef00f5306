package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type fakeInventory struct {
	mu         sync.Mutex
	stock      map[string]int
	debitCalls int
	debitErr   error
	delay      time.Duration
}

func (f *fakeInventory) GetSnapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qty, ok := f.stock[req.ItemID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "item %s not found", req.ItemID)
	}
	return &SnapshotResponse{ItemID: req.ItemID, Title: "Dune", AvailableQuantity: qty}, nil
}

func (f *fakeInventory) Debit(ctx context.Context, req *DebitRequest) (*DebitResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.debitCalls++
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	if req.Quantity <= 0 {
		return nil, status.Error(codes.InvalidArgument, "quantity must be positive")
	}
	if f.stock[req.ItemID] < req.Quantity {
		return nil, status.Error(codes.FailedPrecondition, "insufficient stock")
	}
	f.stock[req.ItemID] -= req.Quantity
	return &DebitResponse{Success: true}, nil
}

func startServer(t *testing.T, srv InventoryServer) *InventoryClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterInventoryServer(s, srv)
	go s.Serve(lis)

	conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		s.Stop()
	})
	return NewInventoryClient(conn)
}

func TestInventoryClient_Snapshot(t *testing.T) {
	client := startServer(t, &fakeInventory{stock: map[string]int{"dune": 5}})

	snap, err := client.GetSnapshot(context.Background(), "dune")
	require.NoError(t, err)
	assert.Equal(t, domain.InventorySnapshot{ItemID: "dune", Title: "Dune", AvailableQuantity: 5}, snap)

	_, err = client.GetSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestInventoryClient_Debit(t *testing.T) {
	inv := &fakeInventory{stock: map[string]int{"dune": 5}}
	client := startServer(t, inv)
	ctx := context.Background()

	require.NoError(t, client.Debit(ctx, "dune", 3))
	assert.ErrorIs(t, client.Debit(ctx, "dune", 3), domain.ErrInsufficientStock)
	assert.ErrorIs(t, client.Debit(ctx, "dune", 0), domain.ErrInvalidRequest)
	assert.Equal(t, 2, inv.stock["dune"])
}

func TestInventoryClient_TransportFailureIsNotRetried(t *testing.T) {
	inv := &fakeInventory{stock: map[string]int{"dune": 5}, debitErr: status.Error(codes.Unavailable, "owner restarting")}
	client := startServer(t, inv)

	err := client.Debit(context.Background(), "dune", 1)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 1, inv.debitCalls)
}

func TestInventoryClient_TimeoutIsUpstreamUnavailable(t *testing.T) {
	client := startServer(t, &fakeInventory{stock: map[string]int{"dune": 5}, delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Debit(ctx, "dune", 1)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.False(t, errors.Is(err, domain.ErrInsufficientStock))
}

func TestInventoryClient_UnreachableOwner(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	lis.Close()
	conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = NewInventoryClient(conn).GetSnapshot(ctx, "dune")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
