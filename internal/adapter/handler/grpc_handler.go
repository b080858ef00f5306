package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/bookstore/internal/adapter/rpc"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

// GRPCHandler serves the inventory service that order placement calls.
type GRPCHandler struct {
	catalog *service.CatalogService
}

func NewGRPCHandler(catalog *service.CatalogService) *GRPCHandler {
	return &GRPCHandler{catalog: catalog}
}

func (h *GRPCHandler) GetSnapshot(ctx context.Context, req *rpc.SnapshotRequest) (*rpc.SnapshotResponse, error) {
	snap, err := h.catalog.Snapshot(ctx, req.ItemID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &rpc.SnapshotResponse{
		ItemID:            snap.ItemID,
		Title:             snap.Title,
		AvailableQuantity: snap.AvailableQuantity,
	}, nil
}

func (h *GRPCHandler) Debit(ctx context.Context, req *rpc.DebitRequest) (*rpc.DebitResponse, error) {
	if err := h.catalog.Debit(ctx, req.ItemID, req.Quantity); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.DebitResponse{Success: true}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrItemExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
