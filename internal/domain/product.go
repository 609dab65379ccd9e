package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// ProductStatus is the lifecycle state of a stocked product.
type ProductStatus string

// Product lifecycle states.
const (
	ProductAvailable ProductStatus = "available"
	ProductExpired   ProductStatus = "expired"
	ProductRefilled  ProductStatus = "refilled"
)

// Valid reports whether s is a known lifecycle state.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductAvailable, ProductExpired, ProductRefilled:
		return true
	}
	return false
}

// Sellable reports whether new holds and sales may be taken against the product.
func (s ProductStatus) Sellable() bool {
	return s != ProductExpired
}

// Product is a stocked item. OnHand and Sold are only ever written by the
// stock ledger; there is no hard delete.
type Product struct {
	ID         string          `json:"id"`
	SupplierID string          `json:"supplierId,omitempty"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	OnHand     int             `json:"onHand"`
	Sold       int             `json:"sold"`
	Status     ProductStatus   `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Available is on-hand stock minus held quantity, never below zero.
func (p *Product) Available(held int) int {
	if avail := p.OnHand - held; avail > 0 {
		return avail
	}
	return 0
}

// Storage bounds. Quantities live in INTEGER columns and amounts in BIGINT
// minor units, so a full line (MaxQuantity * MaxPriceCents) still fits int64.
const (
	MaxQuantity         = math.MaxInt32
	MaxPriceCents int64 = 1_000_000_000
)

var (
	maxPrice = FromCents(MaxPriceCents)
	maxTotal = FromCents(math.MaxInt64)
)

// ValidatePrice rejects negative amounts, amounts with more than two
// fraction digits and amounts above MaxPriceCents.
func ValidatePrice(field string, price decimal.Decimal) error {
	if price.IsNegative() {
		return apperrors.InvalidInput(fmt.Sprintf("%s must not be negative", field))
	}
	if !price.Equal(price.Truncate(2)) {
		return apperrors.InvalidInput(fmt.Sprintf("%s must have at most two decimal places", field))
	}
	if price.GreaterThan(maxPrice) {
		return apperrors.InvalidInput(fmt.Sprintf("%s must not exceed %s", field, maxPrice.StringFixed(2)))
	}
	return nil
}

// ValidateQuantity requires 1 <= q <= MaxQuantity.
func ValidateQuantity(field string, q int) error {
	if q < 1 {
		return apperrors.InvalidInput(fmt.Sprintf("%s must be at least 1", field))
	}
	if q > MaxQuantity {
		return apperrors.InvalidInput(fmt.Sprintf("%s must not exceed %d", field, MaxQuantity))
	}
	return nil
}

// ValidateTotal rejects a sale total that would not fit in minor units.
func ValidateTotal(total decimal.Decimal) error {
	if total.GreaterThan(maxTotal) {
		return apperrors.InvalidInput(fmt.Sprintf("sale total must not exceed %s", maxTotal.StringFixed(2)))
	}
	return nil
}

// Cents converts a validated price to integer minor units for storage.
func Cents(price decimal.Decimal) int64 {
	return price.Shift(2).IntPart()
}

// FromCents converts stored minor units back to a price.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
