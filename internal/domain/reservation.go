package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is a cart's time-limited hold on a quantity of one product.
// There is at most one per (CartID, ProductID).
type Reservation struct {
	ID        string          `json:"id"`
	CartID    string          `json:"cartId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// IsActive reports whether the hold still counts against availability at now.
func (r *Reservation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// LineTotal is quantity times the snapshotted unit price.
func (r *Reservation) LineTotal() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// Reasons a hold is released.
const (
	ReleaseCart     = "cart"
	ReleaseCheckout = "checkout"
	ReleaseExpired  = "expired"
)
