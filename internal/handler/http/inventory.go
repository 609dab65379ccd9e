package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/service"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	"github.com/Sumudu01/NayanaPharma/pkg/httputil"
	"github.com/Sumudu01/NayanaPharma/pkg/validator"
)

// InventoryHandler handles ledger and alert endpoints.
type InventoryHandler struct {
	ledger    *service.Ledger
	monitor   *service.StockMonitor
	threshold int
	logger    *slog.Logger
}

// NewInventoryHandler creates an inventory HTTP handler. threshold is the
// default for GET /inventory/alerts.
func NewInventoryHandler(ledger *service.Ledger, monitor *service.StockMonitor, threshold int, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger, monitor: monitor, threshold: threshold, logger: logger}
}

// --- Request DTOs ---

// RegisterProductRequest is the body of POST /inventory/products.
type RegisterProductRequest struct {
	ID           string          `json:"id" validate:"required,max=64"`
	SupplierID   string          `json:"supplierId" validate:"max=64"`
	Name         string          `json:"name" validate:"required,max=255"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	InitialStock int             `json:"initialStock" validate:"gte=0,lte=2147483647"`
}

// AdjustRequest is the body of POST /inventory/products/{productId}/adjustments.
type AdjustRequest struct {
	Delta       int    `json:"delta" validate:"ne=0,gte=-2147483647,lte=2147483647"`
	Kind        string `json:"kind" validate:"required,oneof=restock sale correction return"`
	ReferenceID string `json:"referenceId" validate:"max=128"`
}

// SetStatusRequest is the body of PUT /inventory/products/{productId}/status.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available expired refilled"`
}

type countResponse struct {
	Count int `json:"count"`
}

// queryInt reads a non-negative integer query parameter, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidInput(name + " must be an integer")
	}
	return v, nil
}

// --- Handlers ---

// ListAlerts handles GET /inventory/alerts?threshold=N.
func (h *InventoryHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryInt(r, "threshold", h.threshold)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	alerts, err := h.monitor.ListAlerts(r.Context(), threshold)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: alerts})
}

// RegisterProduct handles POST /inventory/products.
func (h *InventoryHandler) RegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req RegisterProductRequest
	if err := validator.DecodeStrict(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.ledger.RegisterProduct(r.Context(), service.RegisterProductCommand{
		ID:           req.ID,
		SupplierID:   req.SupplierID,
		Name:         req.Name,
		UnitPrice:    req.UnitPrice,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: product})
}

// GetStock handles GET /inventory/products/{productId}.
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	level, err := h.ledger.GetStock(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: level})
}

// Adjust handles POST /inventory/products/{productId}/adjustments.
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := validator.DecodeStrict(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	change, err := h.ledger.Adjust(r.Context(), service.AdjustCommand{
		ProductID:   chi.URLParam(r, "productId"),
		Delta:       req.Delta,
		Kind:        domain.AdjustmentKind(req.Kind),
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: change})
}

// SetStatus handles PUT /inventory/products/{productId}/status.
func (h *InventoryHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := validator.DecodeStrict(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.ledger.SetStatus(r.Context(), chi.URLParam(r, "productId"), domain.ProductStatus(req.Status))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}

// ListMovements handles GET /inventory/products/{productId}/movements?limit=N.
func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	moves, err := h.ledger.ListMovements(r.Context(), chi.URLParam(r, "productId"), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: moves})
}

// ProductCount handles GET /inventory/product-count.
func (h *InventoryHandler) ProductCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.ProductCount(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: countResponse{Count: n}})
}

// StockCount handles GET /inventory/stock-count.
func (h *InventoryHandler) StockCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.StockCount(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: countResponse{Count: n}})
}
