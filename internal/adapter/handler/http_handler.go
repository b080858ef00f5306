package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/auth"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

// OrderHandler serves the order API behind the edge. The caller's identity
// comes from the trust headers only.
type OrderHandler struct {
	orderService *service.OrderService
	logger       *zap.Logger
}

func NewOrderHandler(orderService *service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orderService: orderService, logger: logger}
}

// Routes is mounted at /orders.
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.PlaceOrder)
	r.Get("/", h.ListAll)
	r.Get("/my-orders", h.ListMine)
	return r
}

func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest))
		return
	}

	order, err := h.orderService.PlaceOrder(r.Context(), auth.IdentityFromRequest(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListMyOrders(r.Context(), auth.IdentityFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

func (h *OrderHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListAllOrders(r.Context(), auth.IdentityFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   domain.Kind `json:"error"`
	Message string      `json:"message"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindInvalidRequest:       http.StatusBadRequest,
	domain.KindUnauthenticated:      http.StatusUnauthorized,
	domain.KindUnauthorized:         http.StatusForbidden,
	domain.KindItemNotFound:         http.StatusNotFound,
	domain.KindItemExists:           http.StatusConflict,
	domain.KindConflict:             http.StatusConflict,
	domain.KindInsufficientStock:    http.StatusConflict,
	domain.KindUpstreamUnavailable:  http.StatusServiceUnavailable,
	domain.KindOrchestrationFailure: http.StatusInternalServerError,
}

func StatusFor(kind domain.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()

	if kind == domain.KindInternal {
		logger.Error("request failed", zap.Error(err))
		message = "internal error"
	} else if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
