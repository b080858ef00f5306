package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

var ledgerSchema = map[string][]string{
	"mysql": {
		`CREATE TABLE IF NOT EXISTS orders (
			id         VARCHAR(64)  NOT NULL PRIMARY KEY,
			item_id    VARCHAR(64)  NOT NULL,
			item_title VARCHAR(255) NOT NULL,
			quantity   INT          NOT NULL,
			user_id    VARCHAR(128) NOT NULL,
			status     VARCHAR(32)  NOT NULL,
			placed_at  TIMESTAMP(6) NOT NULL,
			INDEX idx_orders_user (user_id, placed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id           VARCHAR(64)  NOT NULL PRIMARY KEY,
			topic        VARCHAR(255) NOT NULL,
			msg_key      VARCHAR(255) NOT NULL,
			payload      TEXT         NOT NULL,
			headers      TEXT         NULL,
			created_at   TIMESTAMP(6) NOT NULL,
			published_at TIMESTAMP(6) NULL,
			INDEX idx_outbox_pending (published_at, created_at)
		)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS orders (
			id         VARCHAR(64)  PRIMARY KEY,
			item_id    VARCHAR(64)  NOT NULL,
			item_title VARCHAR(255) NOT NULL,
			quantity   INT          NOT NULL,
			user_id    VARCHAR(128) NOT NULL,
			status     VARCHAR(32)  NOT NULL,
			placed_at  TIMESTAMPTZ  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, placed_at)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id           VARCHAR(64)  PRIMARY KEY,
			topic        VARCHAR(255) NOT NULL,
			msg_key      VARCHAR(255) NOT NULL,
			payload      TEXT         NOT NULL,
			headers      TEXT         NULL,
			created_at   TIMESTAMPTZ  NOT NULL,
			published_at TIMESTAMPTZ  NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (published_at, created_at)`,
	},
}

// ledgerUpgrades bring tables created by older releases up to date.
var ledgerUpgrades = map[string][]string{
	"mysql":    {`ALTER TABLE outbox ADD COLUMN headers TEXT NULL`},
	"postgres": {`ALTER TABLE outbox ADD COLUMN IF NOT EXISTS headers TEXT NULL`},
}

const mysqlDuplicateColumn = 1060

type orderRow struct {
	ID        string    `db:"id"`
	ItemID    string    `db:"item_id"`
	ItemTitle string    `db:"item_title"`
	Quantity  int       `db:"quantity"`
	UserID    string    `db:"user_id"`
	Status    string    `db:"status"`
	PlacedAt  time.Time `db:"placed_at"`
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:        r.ID,
		ItemID:    r.ItemID,
		ItemTitle: r.ItemTitle,
		Quantity:  r.Quantity,
		UserID:    r.UserID,
		Status:    domain.OrderStatus(r.Status),
		PlacedAt:  r.PlacedAt.UTC(),
	}
}

type outboxRow struct {
	ID        string         `db:"id"`
	Topic     string         `db:"topic"`
	Key       string         `db:"msg_key"`
	Payload   string         `db:"payload"`
	Headers   sql.NullString `db:"headers"`
	CreatedAt time.Time      `db:"created_at"`
}

// SQLLedger is the order ledger and the event outbox. Queries are written
// with ? placeholders and rebound for the connected driver, so it runs on
// MySQL and Postgres alike.
type SQLLedger struct {
	db *sqlx.DB
}

func NewSQLLedger(db *sqlx.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

func (l *SQLLedger) EnsureSchema(ctx context.Context) error {
	stmts, ok := ledgerSchema[l.db.DriverName()]
	if !ok {
		return fmt.Errorf("no ledger schema for driver %q", l.db.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply ledger schema: %w", err)
		}
	}
	for _, stmt := range ledgerUpgrades[l.db.DriverName()] {
		_, err := l.db.ExecContext(ctx, stmt)
		var mysqlErr *mysql.MySQLError
		if err != nil && !(errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateColumn) {
			return fmt.Errorf("upgrade ledger schema: %w", err)
		}
	}
	return nil
}

func (l *SQLLedger) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO orders (id, item_id, item_title, quantity, user_id, status, placed_at)
		VALUES (:id, :item_id, :item_title, :quantity, :user_id, :status, :placed_at)`,
		orderRow{
			ID:        order.ID,
			ItemID:    order.ItemID,
			ItemTitle: order.ItemTitle,
			Quantity:  order.Quantity,
			UserID:    order.UserID,
			Status:    string(order.Status),
			PlacedAt:  order.PlacedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (l *SQLLedger) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	var rows []orderRow
	err := l.db.SelectContext(ctx, &rows, l.db.Rebind(`
		SELECT id, item_id, item_title, quantity, user_id, status, placed_at
		FROM orders WHERE user_id = ? ORDER BY placed_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return toOrders(rows), nil
}

func (l *SQLLedger) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var rows []orderRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT id, item_id, item_title, quantity, user_id, status, placed_at
		FROM orders ORDER BY placed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return toOrders(rows), nil
}

func toOrders(rows []orderRow) []domain.Order {
	orders := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.toDomain())
	}
	return orders
}

func (l *SQLLedger) EnqueueOutbox(ctx context.Context, entry port.OutboxEntry) error {
	row := outboxRow{
		ID:        entry.ID,
		Topic:     entry.Topic,
		Key:       entry.Key,
		Payload:   string(entry.Payload),
		CreatedAt: entry.CreatedAt,
	}
	if len(entry.Headers) > 0 {
		headers, err := json.Marshal(entry.Headers)
		if err != nil {
			return fmt.Errorf("encode outbox headers: %w", err)
		}
		row.Headers = sql.NullString{String: string(headers), Valid: true}
	}

	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO outbox (id, topic, msg_key, payload, headers, created_at)
		VALUES (:id, :topic, :msg_key, :payload, :headers, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (l *SQLLedger) ListPendingOutbox(ctx context.Context, limit int) ([]port.OutboxEntry, error) {
	var rows []outboxRow
	err := l.db.SelectContext(ctx, &rows, l.db.Rebind(`
		SELECT id, topic, msg_key, payload, headers, created_at
		FROM outbox WHERE published_at IS NULL
		ORDER BY created_at ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}

	entries := make([]port.OutboxEntry, 0, len(rows))
	for _, r := range rows {
		entry := port.OutboxEntry{
			ID:        r.ID,
			Topic:     r.Topic,
			Key:       r.Key,
			Payload:   []byte(r.Payload),
			CreatedAt: r.CreatedAt.UTC(),
		}
		if r.Headers.Valid && r.Headers.String != "" {
			if err := json.Unmarshal([]byte(r.Headers.String), &entry.Headers); err != nil {
				return nil, fmt.Errorf("decode headers of outbox %s: %w", r.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *SQLLedger) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`UPDATE outbox SET published_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", id, err)
	}
	return nil
}
