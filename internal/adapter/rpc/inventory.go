package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "inventory.v1.Inventory"

	getSnapshotMethod = "/" + ServiceName + "/GetSnapshot"
	debitMethod       = "/" + ServiceName + "/Debit"
)

type SnapshotRequest struct {
	ItemID string `json:"itemId"`
}

type SnapshotResponse struct {
	ItemID            string `json:"itemId"`
	Title             string `json:"title"`
	AvailableQuantity int    `json:"availableQuantity"`
}

type DebitRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type DebitResponse struct {
	Success bool `json:"success"`
}

// InventoryServer is the inventory owner's side of the service. Debit must
// be a single atomic check-and-subtract and answer FailedPrecondition when
// stock is short.
type InventoryServer interface {
	GetSnapshot(ctx context.Context, req *SnapshotRequest) (*SnapshotResponse, error)
	Debit(ctx context.Context, req *DebitRequest) (*DebitResponse, error)
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "Debit", Handler: debitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.json",
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).GetSnapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func debitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DebitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Debit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: debitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).Debit(ctx, req.(*DebitRequest))
	}
	return interceptor(ctx, in, info, handler)
}
