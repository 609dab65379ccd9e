package domain

import (
	"errors"
	"fmt"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// ErrInsufficientStock is returned by stores when a guarded write would take
// on-hand stock below zero.
var ErrInsufficientStock = errors.New("insufficient stock")

// Error codes for the two stock rejections.
const (
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeCheckoutRejected  = "CHECKOUT_REJECTED"
)

// Reasons a checkout line can be rejected.
const (
	ReasonInsufficientStock = "insufficient_stock"
	ReasonProductExpired    = "product_expired"
	ReasonProductMissing    = "product_missing"
)

// InsufficientStockDetails is the machine-readable part of an InsufficientStock error.
type InsufficientStockDetails struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// RejectedLine is one offending line of a rejected checkout.
type RejectedLine struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// CheckoutRejectedDetails lists every offending line.
type CheckoutRejectedDetails struct {
	Lines []RejectedLine `json:"lines"`
}

// InsufficientStock reports that requested units of productID cannot be held.
func InsufficientStock(productID string, requested, available int) *apperrors.AppError {
	err := apperrors.Conflict(fmt.Sprintf("only %d of product %s available, %d requested", available, productID, requested)).
		WithDetails(InsufficientStockDetails{ProductID: productID, Requested: requested, Available: available})
	err.Code = CodeInsufficientStock
	err.Err = fmt.Errorf("%w: %w", ErrInsufficientStock, apperrors.ErrConflict)
	return err
}

// CheckoutRejected reports every line that failed re-validation at commit.
func CheckoutRejected(lines []RejectedLine) *apperrors.AppError {
	err := apperrors.Conflict(fmt.Sprintf("checkout rejected: %d line(s) can no longer be fulfilled", len(lines))).
		WithDetails(CheckoutRejectedDetails{Lines: lines})
	err.Code = CodeCheckoutRejected
	return err
}
