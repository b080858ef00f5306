package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const defaultCallTimeout = 3 * time.Second

// OrderService runs the placement saga: availability check, stock debit at
// the owner, persistence, event publish. Steps for one order are strictly
// sequential; different orders share nothing but the inventory owner.
type OrderService struct {
	inventory   port.InventoryClient
	orders      port.OrderRepository
	events      port.EventPublisher
	logger      *zap.Logger
	tracer      trace.Tracer
	topic       string
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

type OrderOption func(*OrderService)

func WithOrderLogger(logger *zap.Logger) OrderOption {
	return func(s *OrderService) { s.logger = logger }
}

func WithOrderTracer(tracer trace.Tracer) OrderOption {
	return func(s *OrderService) { s.tracer = tracer }
}

func WithEventTopic(topic string) OrderOption {
	return func(s *OrderService) { s.topic = topic }
}

// WithCallTimeout bounds each remote call of the saga.
func WithCallTimeout(d time.Duration) OrderOption {
	return func(s *OrderService) { s.callTimeout = d }
}

func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

func WithOrderIDs(newID func() string) OrderOption {
	return func(s *OrderService) { s.newID = newID }
}

func NewOrderService(inventory port.InventoryClient, orders port.OrderRepository, events port.EventPublisher, opts ...OrderOption) *OrderService {
	s := &OrderService{
		inventory:   inventory,
		orders:      orders,
		events:      events,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("github.com/rl1809/bookstore/order"),
		topic:       domain.OrderEventsTopic,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) PlaceOrder(ctx context.Context, sc domain.SecurityContext, req domain.PlaceOrderRequest) (*domain.Order, error) {
	if err := domain.RequireRole(sc, domain.RoleUser, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if req.ItemID == "" || req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: itemId required and quantity must be positive", domain.ErrInvalidRequest)
	}

	ctx, span := s.tracer.Start(ctx, "order.place", trace.WithAttributes(
		attribute.String("order.item_id", req.ItemID),
		attribute.Int("order.quantity", req.Quantity),
		attribute.String("order.user_id", sc.PrincipalID),
	))
	defer span.End()

	run := &sagaRun{
		state: domain.SagaInitiated,
		span:  span,
		logger: s.logger.With(
			zap.String("user_id", sc.PrincipalID),
			zap.String("item_id", req.ItemID),
			zap.Int("quantity", req.Quantity),
		),
	}

	snapshot, err := s.checkAvailability(ctx, req.ItemID)
	if err != nil {
		return nil, run.fail(err)
	}
	run.advance(domain.SagaAvailabilityChecked)

	// Advisory only: the owner's debit below is the authoritative check.
	if req.Quantity > snapshot.AvailableQuantity {
		return nil, run.fail(fmt.Errorf("%w: requested %d, available %d",
			domain.ErrInsufficientStock, req.Quantity, snapshot.AvailableQuantity))
	}

	if err := s.debit(ctx, req.ItemID, req.Quantity); err != nil {
		return nil, run.fail(err)
	}
	run.advance(domain.SagaStockDebited)

	// Past the debit the caller going away must not abandon the order.
	detached := context.WithoutCancel(ctx)

	order := domain.Order{
		ID:        s.newID(),
		ItemID:    req.ItemID,
		ItemTitle: snapshot.Title,
		Quantity:  req.Quantity,
		UserID:    sc.PrincipalID,
		Status:    domain.OrderStatusPlaced,
		PlacedAt:  s.now().UTC(),
	}
	run.logger = run.logger.With(zap.String("order_id", order.ID))
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.persist(detached, order); err != nil {
		run.logger.Error("stock debited but order not recorded, manual reconciliation required", zap.Error(err))
		return nil, run.fail(fmt.Errorf("%w: item %s debited by %d but order was not recorded: %v",
			domain.ErrOrchestrationFailure, order.ItemID, order.Quantity, err))
	}
	run.advance(domain.SagaPersisted)

	if err := s.publish(detached, order.Event()); err != nil {
		run.logger.Warn("order event not published", zap.Error(err))
		span.AddEvent("order.publish_failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return &order, nil
	}
	run.advance(domain.SagaEventPublished)

	return &order, nil
}

func (s *OrderService) checkAvailability(ctx context.Context, itemID string) (domain.InventorySnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "order.check_availability")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	snapshot, err := s.inventory.GetSnapshot(ctx, itemID)
	if err != nil {
		recordSpanError(span, err)
		return domain.InventorySnapshot{}, fmt.Errorf("availability check: %w", err)
	}
	span.SetAttributes(attribute.Int("inventory.available", snapshot.AvailableQuantity))
	return snapshot, nil
}

func (s *OrderService) debit(ctx context.Context, itemID string, quantity int) error {
	ctx, span := s.tracer.Start(ctx, "order.debit_stock")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.inventory.Debit(ctx, itemID, quantity); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("stock debit: %w", err)
	}
	return nil
}

func (s *OrderService) persist(ctx context.Context, order domain.Order) error {
	ctx, span := s.tracer.Start(ctx, "order.persist")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (s *OrderService) publish(ctx context.Context, event domain.OrderEvent) error {
	ctx, span := s.tracer.Start(ctx, "order.publish", trace.WithAttributes(
		attribute.String("messaging.destination.name", s.topic),
	))
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("encode order event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	err = s.events.Publish(ctx, port.Message{
		Topic: s.topic,
		Key:   event.UserID,
		Value: payload,
		Headers: map[string]string{
			"event-id":   s.newID(),
			"event-type": "OrderPlaced",
		},
	})
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// ListMyOrders returns the caller's own orders.
func (s *OrderService) ListMyOrders(ctx context.Context, sc domain.SecurityContext) ([]domain.Order, error) {
	if err := domain.RequireRole(sc, domain.RoleUser, domain.RoleAdmin); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListOrdersByUser(ctx, sc.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("list orders for %s: %w", sc.PrincipalID, err)
	}
	return orders, nil
}

// ListAllOrders is the admin listing.
func (s *OrderService) ListAllOrders(ctx context.Context, sc domain.SecurityContext) ([]domain.Order, error) {
	if err := domain.RequireRole(sc, domain.RoleAdmin); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

type sagaRun struct {
	state  domain.SagaState
	span   trace.Span
	logger *zap.Logger
}

func (r *sagaRun) advance(next domain.SagaState) {
	r.logger.Info("saga transition",
		zap.String("from", string(r.state)),
		zap.String("saga_state", string(next)),
	)
	r.state = next
	r.span.AddEvent(string(next))
}

func (r *sagaRun) fail(err error) error {
	r.logger.Info("saga failed",
		zap.String("at", string(r.state)),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	)
	r.state = domain.SagaFailed
	recordSpanError(r.span, err)
	return err
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
