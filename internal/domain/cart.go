package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// CartStatus is a state of the checkout state machine.
type CartStatus string

// Cart states.
const (
	CartBuilding   CartStatus = "building"
	CartReserving  CartStatus = "reserving"
	CartCommitting CartStatus = "committing"
	CartCompleted  CartStatus = "completed"
	CartAbandoned  CartStatus = "abandoned"
	CartRejected   CartStatus = "rejected"
)

var cartTransitions = map[CartStatus][]CartStatus{
	CartBuilding:   {CartReserving, CartCommitting, CartAbandoned},
	CartReserving:  {CartBuilding, CartRejected},
	CartCommitting: {CartCompleted, CartRejected, CartBuilding},
	CartRejected:   {CartBuilding},
	CartAbandoned:  {CartBuilding, CartReserving},
	CartCompleted:  nil,
}

// CanTransitionTo reports whether the state machine allows from -> to.
func (s CartStatus) CanTransitionTo(to CartStatus) bool {
	for _, next := range cartTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Rejection records why the last reserve or commit attempt was refused.
type Rejection struct {
	Code  string         `json:"code"`
	Lines []RejectedLine `json:"lines"`
	At    time.Time      `json:"at"`
}

// CartSession tracks one cart through checkout.
type CartSession struct {
	CartID        string     `json:"cartId"`
	CustomerID    string     `json:"customerId,omitempty"`
	Status        CartStatus `json:"status"`
	SaleID        string     `json:"saleId,omitempty"`
	LastRejection *Rejection `json:"lastRejection,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	// Version is bumped by every successful save. A save carrying a stale
	// version is refused with Conflict.
	Version       int64      `json:"version"`
}

// NewCartSession starts a session in the building state.
func NewCartSession(cartID string, now time.Time) *CartSession {
	return &CartSession{
		CartID:    cartID,
		Status:    CartBuilding,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the session to the next state, or returns Conflict if
// the state machine does not allow it.
func (c *CartSession) TransitionTo(to CartStatus, now time.Time) error {
	if c.Status == to {
		return nil
	}
	if !c.Status.CanTransitionTo(to) {
		return apperrors.Conflict(fmt.Sprintf("cart %s cannot move from %s to %s", c.CartID, c.Status, to))
	}
	c.Status = to
	c.UpdatedAt = now
	return nil
}

// Reject records a refused attempt and returns the cart to building.
func (c *CartSession) Reject(code string, lines []RejectedLine, now time.Time) error {
	if err := c.TransitionTo(CartRejected, now); err != nil {
		return err
	}
	c.LastRejection = &Rejection{Code: code, Lines: lines, At: now}
	return c.TransitionTo(CartBuilding, now)
}

// AcceptsChanges reports whether lines may still be added or removed.
func (c *CartSession) AcceptsChanges() error {
	switch c.Status {
	case CartCompleted:
		return apperrors.Conflict(fmt.Sprintf("cart %s is already checked out", c.CartID))
	case CartCommitting:
		return apperrors.Conflict(fmt.Sprintf("cart %s is being checked out", c.CartID))
	}
	return nil
}

// CartView is a session together with its active lines.
type CartView struct {
	Session CartSession     `json:"session"`
	Lines   []Reservation   `json:"lines"`
	Total   decimal.Decimal `json:"total"`
}

// NewCartView totals lines into a view.
func NewCartView(session CartSession, lines []Reservation) CartView {
	total := decimal.Zero
	for i := range lines {
		total = total.Add(lines[i].LineTotal())
	}
	if lines == nil {
		lines = []Reservation{}
	}
	return CartView{Session: session, Lines: lines, Total: total}
}
