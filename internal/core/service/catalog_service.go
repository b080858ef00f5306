package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const maxUpdateAttempts = 3

// CatalogService is the inventory owner. It is the only writer of stock.
type CatalogService struct {
	repo   port.StockRepository
	logger *zap.Logger
}

func NewCatalogService(repo port.StockRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, logger: logger}
}

// ItemUpdate carries the fields an admin wants changed; nil means keep.
type ItemUpdate struct {
	Title  *string  `json:"title"`
	Author *string  `json:"author"`
	Price  *float64 `json:"price"`
	Stock  *int     `json:"stock"`
}

func (s *CatalogService) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemID, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return item, nil
}

func (s *CatalogService) Snapshot(ctx context.Context, itemID string) (domain.InventorySnapshot, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return domain.InventorySnapshot{}, err
	}
	return item.Snapshot(), nil
}

// Debit is the single atomic check-and-decrement every order goes through.
func (s *CatalogService) Debit(ctx context.Context, itemID string, quantity int) error {
	if itemID == "" || quantity <= 0 {
		return fmt.Errorf("%w: itemId required and quantity must be positive", domain.ErrInvalidRequest)
	}

	ok, err := s.repo.DebitStock(ctx, itemID, quantity)
	if err != nil {
		return fmt.Errorf("debit %s: %w", itemID, err)
	}
	if !ok {
		return fmt.Errorf("%w: item %s cannot cover %d", domain.ErrInsufficientStock, itemID, quantity)
	}

	s.logger.Info("stock debited", zap.String("item_id", itemID), zap.Int("quantity", quantity))
	return nil
}

func (s *CatalogService) CreateItem(ctx context.Context, sc domain.SecurityContext, item domain.Item) (*domain.Item, error) {
	if err := domain.RequireRole(sc, domain.RoleAdmin); err != nil {
		return nil, err
	}
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" || item.Title == "" || item.Stock < 0 || item.Price < 0 {
		return nil, fmt.Errorf("%w: id and title required, stock and price must not be negative", domain.ErrInvalidRequest)
	}

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item %s: %w", item.ID, err)
	}

	s.logger.Info("item created",
		zap.String("item_id", item.ID),
		zap.Int("stock", item.Stock),
		zap.String("by", sc.PrincipalID),
	)
	return s.GetItem(ctx, item.ID)
}

// UpdateItem applies upd under optimistic locking, re-reading on conflict.
func (s *CatalogService) UpdateItem(ctx context.Context, sc domain.SecurityContext, itemID string, upd ItemUpdate) (*domain.Item, error) {
	if err := domain.RequireRole(sc, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if (upd.Stock != nil && *upd.Stock < 0) || (upd.Price != nil && *upd.Price < 0) || (upd.Title != nil && *upd.Title == "") {
		return nil, fmt.Errorf("%w: title must not be empty, stock and price must not be negative", domain.ErrInvalidRequest)
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		item, err := s.GetItem(ctx, itemID)
		if err != nil {
			return nil, err
		}

		if upd.Title != nil {
			item.Title = *upd.Title
		}
		if upd.Author != nil {
			item.Author = *upd.Author
		}
		if upd.Price != nil {
			item.Price = *upd.Price
		}
		if upd.Stock != nil {
			item.Stock = *upd.Stock
		}

		err = s.repo.UpdateItem(ctx, *item)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("item update conflict, retrying", zap.String("item_id", itemID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update item %s: %w", itemID, err)
		}

		s.logger.Info("item updated", zap.String("item_id", itemID), zap.String("by", sc.PrincipalID))
		return s.GetItem(ctx, itemID)
	}

	return nil, fmt.Errorf("%w: item %s changed concurrently %d times", domain.ErrConflict, itemID, maxUpdateAttempts)
}

func (s *CatalogService) Restock(ctx context.Context, sc domain.SecurityContext, itemID string, quantity int) (*domain.Item, error) {
	if err := domain.RequireRole(sc, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidRequest)
	}

	if err := s.repo.RestockItem(ctx, itemID, quantity); err != nil {
		return nil, fmt.Errorf("restock %s: %w", itemID, err)
	}

	s.logger.Info("item restocked", zap.String("item_id", itemID), zap.Int("quantity", quantity), zap.String("by", sc.PrincipalID))
	return s.GetItem(ctx, itemID)
}

// ReduceStock is the admin form of Debit; insufficient stock is reported as
// false rather than an error.
func (s *CatalogService) ReduceStock(ctx context.Context, sc domain.SecurityContext, itemID string, quantity int) (bool, error) {
	if err := domain.RequireRole(sc, domain.RoleAdmin); err != nil {
		return false, err
	}

	err := s.Debit(ctx, itemID, quantity)
	if errors.Is(err, domain.ErrInsufficientStock) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
