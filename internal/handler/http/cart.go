package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Sumudu01/NayanaPharma/internal/service"
	"github.com/Sumudu01/NayanaPharma/pkg/httputil"
	"github.com/Sumudu01/NayanaPharma/pkg/validator"
)

// IdempotencyKeyHeader carries the client's checkout retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from an earlier checkout.
const ReplayedHeader = "Idempotent-Replayed"

// CartHandler handles cart and checkout endpoints.
type CartHandler struct {
	checkout *service.CheckoutService
	logger   *slog.Logger
}

// NewCartHandler creates a cart HTTP handler.
func NewCartHandler(checkout *service.CheckoutService, logger *slog.Logger) *CartHandler {
	return &CartHandler{checkout: checkout, logger: logger}
}

// --- Request DTOs ---

// AddLineRequest is the body of POST /cart/{cartId}/lines.
type AddLineRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=2147483647"`
}

// UpdateLineRequest is the body of PUT /cart/{cartId}/lines/{productId}.
type UpdateLineRequest struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=2147483647"`
}

// CheckoutRequest is the optional body of POST /cart/{cartId}/checkout.
type CheckoutRequest struct {
	CustomerID string `json:"customerId" validate:"omitempty,max=64"`
}

type releasedResponse struct {
	Released int `json:"released"`
}

type renewedResponse struct {
	Renewed int `json:"renewed"`
}

// --- Handlers ---

// AddLine handles POST /cart/{cartId}/lines.
func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req AddLineRequest
	if err := validator.DecodeStrict(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.checkout.AddLine(r.Context(), service.ReserveCommand{
		CartID:    chi.URLParam(r, "cartId"),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// UpdateLine handles PUT /cart/{cartId}/lines/{productId}.
func (h *CartHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req UpdateLineRequest
	if err := validator.DecodeStrict(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.checkout.UpdateLineQuantity(r.Context(), chi.URLParam(r, "cartId"), chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// RemoveLine handles DELETE /cart/{cartId}/lines/{productId}.
func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	n, err := h.checkout.RemoveLine(r.Context(), service.ReleaseCommand{
		CartID:    chi.URLParam(r, "cartId"),
		ProductID: chi.URLParam(r, "productId"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: releasedResponse{Released: n}})
}

// ClearCart handles DELETE /cart/{cartId}.
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	n, err := h.checkout.ClearCart(r.Context(), chi.URLParam(r, "cartId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: releasedResponse{Released: n}})
}

// Renew handles POST /cart/{cartId}/renew.
func (h *CartHandler) Renew(w http.ResponseWriter, r *http.Request) {
	n, err := h.checkout.RenewCart(r.Context(), chi.URLParam(r, "cartId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: renewedResponse{Renewed: n}})
}

// GetCart handles GET /cart/{cartId}.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.GetCart(r.Context(), chi.URLParam(r, "cartId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: view})
}

// Checkout handles POST /cart/{cartId}/checkout. The body is optional.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if r.ContentLength != 0 {
		if err := validator.DecodeStrict(w, r, &req); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	result, err := h.checkout.Checkout(r.Context(), service.CheckoutCommand{
		CartID:         chi.URLParam(r, "cartId"),
		CustomerID:     req.CustomerID,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set(ReplayedHeader, "true")
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: result.Sale})
}
