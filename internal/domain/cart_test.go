package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

var t0 = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

func TestCartSession_HappyPath(t *testing.T) {
	c := NewCartSession("c1", t0)

	require.NoError(t, c.TransitionTo(CartReserving, t0))
	require.NoError(t, c.TransitionTo(CartBuilding, t0))
	require.NoError(t, c.TransitionTo(CartCommitting, t0))
	require.NoError(t, c.TransitionTo(CartCompleted, t0.Add(time.Second)))

	assert.Equal(t, t0.Add(time.Second), c.UpdatedAt)
	assert.ErrorIs(t, c.TransitionTo(CartBuilding, t0), apperrors.ErrConflict)
}

func TestCartSession_RejectReturnsToBuilding(t *testing.T) {
	c := NewCartSession("c2", t0)
	require.NoError(t, c.TransitionTo(CartCommitting, t0))

	lines := []RejectedLine{{ProductID: "p1", Requested: 5, Available: 3, Reason: ReasonInsufficientStock}}
	require.NoError(t, c.Reject(CodeCheckoutRejected, lines, t0))

	assert.Equal(t, CartBuilding, c.Status)
	require.NotNil(t, c.LastRejection)
	assert.Equal(t, lines, c.LastRejection.Lines)
}

func TestCartSession_AbandonedCanRestart(t *testing.T) {
	c := NewCartSession("c3", t0)
	require.NoError(t, c.TransitionTo(CartAbandoned, t0))
	assert.NoError(t, c.TransitionTo(CartReserving, t0))
}

func TestCartSession_AcceptsChanges(t *testing.T) {
	c := NewCartSession("c4", t0)
	assert.NoError(t, c.AcceptsChanges())

	c.Status = CartCommitting
	assert.ErrorIs(t, c.AcceptsChanges(), apperrors.ErrConflict)

	c.Status = CartCompleted
	assert.ErrorIs(t, c.AcceptsChanges(), apperrors.ErrConflict)
}

func TestNewCartView_Total(t *testing.T) {
	view := NewCartView(*NewCartSession("c1", t0), []Reservation{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("4.25")},
		{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	})
	assert.True(t, view.Total.Equal(decimal.RequireFromString("18.50")), view.Total.String())

	empty := NewCartView(*NewCartSession("c9", t0), nil)
	assert.NotNil(t, empty.Lines)
	assert.True(t, empty.Total.IsZero())
}

func TestReservation_IsActive(t *testing.T) {
	r := Reservation{ExpiresAt: t0}
	assert.True(t, r.IsActive(t0.Add(-time.Nanosecond)))
	assert.False(t, r.IsActive(t0), "a hold expires exactly at expiresAt")
}

func TestInsufficientStock(t *testing.T) {
	err := InsufficientStock("p1", 8, 6)

	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Equal(t, CodeInsufficientStock, err.Code)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, InsufficientStockDetails{ProductID: "p1", Requested: 8, Available: 6}, err.Details)
}

func TestCheckoutRejected(t *testing.T) {
	lines := []RejectedLine{
		{ProductID: "p1", Requested: 5, Available: 3, Reason: ReasonInsufficientStock},
		{ProductID: "p2", Requested: 1, Available: 0, Reason: ReasonProductExpired},
	}
	err := CheckoutRejected(lines)

	assert.Equal(t, CodeCheckoutRejected, err.Code)
	assert.Equal(t, CheckoutRejectedDetails{Lines: lines}, err.Details)
	assert.Contains(t, err.Message, "2 line(s)")
}
