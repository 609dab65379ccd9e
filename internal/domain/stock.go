package domain

import (
	"fmt"
	"time"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// AdjustmentKind classifies a ledger adjustment.
type AdjustmentKind string

// Ledger adjustment kinds.
const (
	KindRestock    AdjustmentKind = "restock"
	KindSale       AdjustmentKind = "sale"
	KindCorrection AdjustmentKind = "correction"
	KindReturn     AdjustmentKind = "return"
)

// ValidateDelta checks the sign of delta against the kind and bounds its
// magnitude by MaxQuantity.
func (k AdjustmentKind) ValidateDelta(delta int) error {
	if delta > MaxQuantity || delta < -MaxQuantity {
		return apperrors.InvalidInput(fmt.Sprintf("delta must be between -%d and %d", MaxQuantity, MaxQuantity))
	}
	switch k {
	case KindRestock, KindReturn:
		if delta <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("%s delta must be positive", k))
		}
	case KindSale:
		if delta >= 0 {
			return apperrors.InvalidInput("sale delta must be negative")
		}
	case KindCorrection:
		if delta == 0 {
			return apperrors.InvalidInput("correction delta must not be zero")
		}
	default:
		return apperrors.InvalidInput(fmt.Sprintf("unknown adjustment kind %q", k))
	}
	return nil
}

// SoldDelta is the change to the sold counter implied by an on-hand delta.
// Sales increase it and returns decrease it; other kinds leave it alone.
func (k AdjustmentKind) SoldDelta(delta int) int {
	switch k {
	case KindSale, KindReturn:
		return -delta
	default:
		return 0
	}
}

// StockMovement is one append-only ledger entry.
type StockMovement struct {
	ID          string         `json:"id"`
	ProductID   string         `json:"productId"`
	Delta       int            `json:"delta"`
	Kind        AdjustmentKind `json:"kind"`
	ReferenceID string         `json:"referenceId,omitempty"`
	OnHandAfter int            `json:"onHandAfter"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// StockChange describes a committed ledger mutation.
type StockChange struct {
	ProductID         string         `json:"productId"`
	Kind              AdjustmentKind `json:"kind"`
	Delta             int            `json:"delta"`
	OnHand            int            `json:"onHand"`
	Sold              int            `json:"sold"`
	Available         int            `json:"available"`
	PreviousAvailable int            `json:"previousAvailable"`
	ReferenceID       string         `json:"referenceId,omitempty"`
}

// StockLevel is a product with the quantity currently held by active reservations.
type StockLevel struct {
	Product
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

// NewStockLevel computes availability for p given its active holds.
func NewStockLevel(p Product, reserved int) StockLevel {
	return StockLevel{Product: p, Reserved: reserved, Available: p.Available(reserved)}
}

// StockAlert flags a product whose availability is below the threshold.
type StockAlert struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	Message   string `json:"message"`
}

// NewStockAlert builds the alert for a low stock level.
func NewStockAlert(level StockLevel) StockAlert {
	msg := fmt.Sprintf("only %d left", level.Available)
	if level.Available == 0 {
		msg = "out of stock"
	}
	return StockAlert{
		ProductID: level.ID,
		Name:      level.Name,
		Available: level.Available,
		Message:   msg,
	}
}
