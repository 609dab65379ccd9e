package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/service"
	"github.com/Sumudu01/NayanaPharma/pkg/httputil"
	"github.com/Sumudu01/NayanaPharma/pkg/pagination"
	"github.com/Sumudu01/NayanaPharma/pkg/validator"
)

// SalesHandler handles sale reporting and administration.
type SalesHandler struct {
	sales  *service.SalesService
	logger *slog.Logger
}

// NewSalesHandler creates a sales HTTP handler.
func NewSalesHandler(sales *service.SalesService, logger *slog.Logger) *SalesHandler {
	return &SalesHandler{sales: sales, logger: logger}
}

// SaleLineRequest is one line of an administrative sale edit.
type SaleLineRequest struct {
	ProductID string          `json:"productId" validate:"required,max=64"`
	Quantity  int             `json:"quantity" validate:"gte=1,lte=2147483647"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// UpdateSaleRequest is the body of PUT /sales/{saleId}.
type UpdateSaleRequest struct {
	CustomerID string            `json:"customerId" validate:"max=64"`
	Lines      []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// List handles GET /sales?page=&per_page=.
func (h *SalesHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.sales.List(r.Context(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: page})
}

// Count handles GET /sales/count.
func (h *SalesHandler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.sales.Count(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: countResponse{Count: n}})
}

// Get handles GET /sales/{saleId}.
func (h *SalesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "saleId"))
	if !ok {
		return
	}

	sale, err := h.sales.Get(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sale})
}

// Update handles PUT /sales/{saleId}.
func (h *SalesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "saleId"))
	if !ok {
		return
	}

	var req UpdateSaleRequest
	if err := validator.DecodeStrict(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	lines := make([]domain.SaleLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = domain.SaleLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}

	sale, err := h.sales.Update(r.Context(), id.String(), service.UpdateSaleCommand{
		CustomerID: req.CustomerID,
		Lines:      lines,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sale})
}

// Delete handles DELETE /sales/{saleId}.
func (h *SalesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "saleId"))
	if !ok {
		return
	}

	if err := h.sales.Delete(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"id": id.String()}})
}
