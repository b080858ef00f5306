package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/auth"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

type itemResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toItemResponse(i *domain.Item) itemResponse {
	return itemResponse{
		ID: i.ID, Title: i.Title, Author: i.Author, Price: i.Price,
		Stock: i.Stock, Version: i.Version, CreatedAt: i.CreatedAt, UpdatedAt: i.UpdatedAt,
	}
}

type createItemRequest struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Price  float64 `json:"price"`
	Stock  int     `json:"stock"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// CatalogHandler is the inventory owner's HTTP API. Reads are open to any
// authenticated caller, mutations need ADMIN.
type CatalogHandler struct {
	catalog *service.CatalogService
	logger  *zap.Logger
}

func NewCatalogHandler(catalog *service.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// Routes is mounted at /items.
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/restock", h.Restock)
	r.Post("/{id}/reduce-stock", h.ReduceStock)
	return r
}

func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !auth.IdentityFromRequest(r).Authenticated() {
		writeError(w, h.logger, domain.ErrUnauthorized)
		return
	}
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *CatalogHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest))
		return
	}

	item, err := h.catalog.CreateItem(r.Context(), auth.IdentityFromRequest(r), domain.Item{
		ID: req.ID, Title: req.Title, Author: req.Author, Price: req.Price, Stock: req.Stock,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *CatalogHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd service.ItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest))
		return
	}

	item, err := h.catalog.UpdateItem(r.Context(), auth.IdentityFromRequest(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *CatalogHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest))
		return
	}

	item, err := h.catalog.Restock(r.Context(), auth.IdentityFromRequest(r), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *CatalogHandler) ReduceStock(w http.ResponseWriter, r *http.Request) {
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: quantity query parameter must be an integer", domain.ErrInvalidRequest))
		return
	}

	ok, err := h.catalog.ReduceStock(r.Context(), auth.IdentityFromRequest(r), chi.URLParam(r, "id"), quantity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
