package domain

import "time"

// OrderEventsTopic is the log every placed order is announced on.
const OrderEventsTopic = "order-events"

type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "PLACED"
)

type Order struct {
	ID        string      `json:"id"`
	ItemID    string      `json:"itemId"`
	ItemTitle string      `json:"itemTitle"`
	Quantity  int         `json:"quantity"`
	UserID    string      `json:"userId"`
	Status    OrderStatus `json:"status"`
	PlacedAt  time.Time   `json:"placedAt"`
}

func (o Order) Event() OrderEvent {
	return OrderEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		ItemID:    o.ItemID,
		ItemTitle: o.ItemTitle,
		Quantity:  o.Quantity,
	}
}

type PlaceOrderRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// OrderEvent is the fact published once an order has been persisted.
type OrderEvent struct {
	OrderID   string `json:"orderId"`
	UserID    string `json:"userId"`
	ItemID    string `json:"itemId"`
	ItemTitle string `json:"itemTitle"`
	Quantity  int    `json:"quantity"`
}

// SagaState tracks how far a placement got.
type SagaState string

const (
	SagaInitiated           SagaState = "INITIATED"
	SagaAvailabilityChecked SagaState = "AVAILABILITY_CHECKED"
	SagaStockDebited        SagaState = "STOCK_DEBITED"
	SagaPersisted           SagaState = "PERSISTED"
	SagaEventPublished      SagaState = "EVENT_PUBLISHED"
	SagaFailed              SagaState = "FAILED"
)
