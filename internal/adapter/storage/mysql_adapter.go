package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/bookstore/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

const inventorySchema = `
CREATE TABLE IF NOT EXISTS inventory (
	item_id    VARCHAR(64)    NOT NULL PRIMARY KEY,
	title      VARCHAR(255)   NOT NULL,
	author     VARCHAR(255)   NOT NULL DEFAULT '',
	price      DECIMAL(10, 2) NOT NULL DEFAULT 0,
	stock      INT            NOT NULL DEFAULT 0,
	version    INT            NOT NULL DEFAULT 0,
	created_at TIMESTAMP      NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP      NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CONSTRAINT stock_non_negative CHECK (stock >= 0)
)`

// MySQLAdapter is the durable stock owner. Every stock change is a single
// conditional UPDATE, so concurrent debits never oversell.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, inventorySchema); err != nil {
		return fmt.Errorf("create inventory table: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var item domain.Item
	err := m.db.QueryRowContext(ctx, `
		SELECT item_id, title, author, price, stock, version, created_at, updated_at
		FROM inventory WHERE item_id = ?`, itemID,
	).Scan(&item.ID, &item.Title, &item.Author, &item.Price, &item.Stock, &item.Version, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	return &item, nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (item_id, title, author, price, stock, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, NOW(), NOW())`,
		item.ID, item.Title, item.Author, item.Price, item.Stock,
	)

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %s", domain.ErrItemExists, item.ID)
	}
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, item domain.Item) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET title = ?, author = ?, price = ?, stock = ?, version = version + 1, updated_at = NOW()
		WHERE item_id = ? AND version = ?`,
		item.Title, item.Author, item.Price, item.Stock, item.ID, item.Version,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return m.missingOr(ctx, item.ID, domain.ErrConflict)
	}
	return nil
}

func (m *MySQLAdapter) DebitStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock = stock - ?, version = version + 1, updated_at = NOW()
		WHERE item_id = ? AND stock >= ?`,
		quantity, itemID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("debit inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, m.missingOr(ctx, itemID, nil)
	}
	return true, nil
}

func (m *MySQLAdapter) RestockItem(ctx context.Context, itemID string, quantity int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock = stock + ?, version = version + 1, updated_at = NOW()
		WHERE item_id = ?`,
		quantity, itemID,
	)
	if err != nil {
		return fmt.Errorf("restock inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return nil
}

// missingOr tells a missing row apart from a row the WHERE clause rejected.
func (m *MySQLAdapter) missingOr(ctx context.Context, itemID string, otherwise error) error {
	var exists bool
	err := m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM inventory WHERE item_id = ?)`, itemID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check inventory: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return otherwise
}
