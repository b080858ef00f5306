package domain

import "time"

// Item is a catalog entry as stored by the inventory owner.
type Item struct {
	ID        string
	Title     string
	Author    string
	Price     float64
	Stock     int
	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i Item) Snapshot() InventorySnapshot {
	return InventorySnapshot{ItemID: i.ID, Title: i.Title, AvailableQuantity: i.Stock}
}

// InventorySnapshot is an advisory, possibly stale view of an item's stock.
type InventorySnapshot struct {
	ItemID            string
	Title             string
	AvailableQuantity int
}
