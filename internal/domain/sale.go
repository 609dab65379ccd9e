package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// SaleLine is one product line of a completed sale.
type SaleLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Sale is a committed purchase. TotalAmount is always derived from Lines.
type Sale struct {
	ID          string          `json:"id"`
	CartID      string          `json:"cartId,omitempty"`
	CustomerID  string          `json:"customerId,omitempty"`
	Lines       []SaleLine      `json:"lines"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ComputeTotal sums quantity * unitPrice over lines.
func ComputeTotal(lines []SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// ValidateLines checks an administrative line edit.
func ValidateLines(lines []SaleLine) error {
	if len(lines) == 0 {
		return apperrors.InvalidInput("a sale needs at least one line")
	}
	seen := make(map[string]struct{}, len(lines))
	for i, l := range lines {
		if l.ProductID == "" {
			return apperrors.InvalidInput(fmt.Sprintf("lines[%d].productId is required", i))
		}
		if _, dup := seen[l.ProductID]; dup {
			return apperrors.InvalidInput(fmt.Sprintf("product %s appears more than once", l.ProductID))
		}
		seen[l.ProductID] = struct{}{}
		if err := ValidateQuantity(fmt.Sprintf("lines[%d].quantity", i), l.Quantity); err != nil {
			return err
		}
		if err := ValidatePrice(fmt.Sprintf("lines[%d].unitPrice", i), l.UnitPrice); err != nil {
			return err
		}
	}
	return ValidateTotal(ComputeTotal(lines))
}

// SaleLinesFromReservations snapshots reservation prices into sale lines.
func SaleLinesFromReservations(reservations []Reservation) []SaleLine {
	lines := make([]SaleLine, 0, len(reservations))
	for _, r := range reservations {
		lines = append(lines, SaleLine{ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: r.UnitPrice})
	}
	return lines
}
