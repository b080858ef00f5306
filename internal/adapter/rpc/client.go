package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// Dial opens a channel to the inventory owner. Transparent retries are off:
// a debit must reach the owner at most once per call.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDisableRetry(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial inventory %s: %w", target, err)
	}
	return conn, nil
}

// InventoryClient implements port.InventoryClient over gRPC.
type InventoryClient struct {
	conn grpc.ClientConnInterface
}

func NewInventoryClient(conn grpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{conn: conn}
}

func (c *InventoryClient) GetSnapshot(ctx context.Context, itemID string) (domain.InventorySnapshot, error) {
	out := new(SnapshotResponse)
	if err := c.conn.Invoke(ctx, getSnapshotMethod, &SnapshotRequest{ItemID: itemID}, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return domain.InventorySnapshot{}, fromStatus(err)
	}
	return domain.InventorySnapshot{
		ItemID:            out.ItemID,
		Title:             out.Title,
		AvailableQuantity: out.AvailableQuantity,
	}, nil
}

func (c *InventoryClient) Debit(ctx context.Context, itemID string, quantity int) error {
	out := new(DebitResponse)
	if err := c.conn.Invoke(ctx, debitMethod, &DebitRequest{ItemID: itemID, Quantity: quantity}, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return fromStatus(err)
	}
	if !out.Success {
		return domain.ErrInsufficientStock
	}
	return nil
}

// fromStatus maps business codes back to the domain taxonomy. Anything else,
// timeouts included, is a transport failure: the outcome at the owner is
// unknown and must not be assumed either way.
func fromStatus(err error) error {
	st := status.Convert(err)
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", domain.ErrUpstreamUnavailable, st.Code(), st.Message())
	}
}
