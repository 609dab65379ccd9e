package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

func TestReserve_RejectsBeyondAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "3.00", 10)

	res, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Available)
	assert.True(t, decimal.RequireFromString("3.00").Equal(res.Reservation.UnitPrice))

	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C2", ProductID: "P1", Quantity: 7})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, domain.InsufficientStockDetails{ProductID: "P1", Requested: 7, Available: 6}, appErr.Details)
	assert.Equal(t, 6, f.available(t, "P1"))
}

func TestReserve_QuantityIsAbsolute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 10)

	first, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 8})
	require.NoError(t, err)

	// Growing to the full stock only checks the increase over the own hold.
	grown, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, first.Reservation.ID, grown.Reservation.ID)
	assert.Equal(t, 0, grown.Available)

	shrunk, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, shrunk.Available)
	assert.Equal(t, 8, f.available(t, "P1"))
}

func TestReserve_DecreaseSucceedsAfterStockShrinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 10)

	_, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 6})
	require.NoError(t, err)
	_, err = f.ledger.Adjust(ctx, AdjustCommand{ProductID: "P1", Delta: -7, Kind: domain.KindCorrection})
	require.NoError(t, err)

	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 3})
	assert.NoError(t, err)
}

type priceList map[string]string

func (p priceList) GetProduct(_ context.Context, id string) (*domain.CatalogItem, error) {
	price, ok := p[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &domain.CatalogItem{ID: id, Name: id, UnitPrice: decimal.RequireFromString(price), Status: domain.ProductAvailable}, nil
}

func TestReserve_KeepsPriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "5.00", 10)
	prices := priceList{"P1": "4.75"}
	f.reservations.catalog = prices

	res, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.75").Equal(res.Reservation.UnitPrice), "catalog price wins")

	prices["P1"] = "9.00"
	res, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 2})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.75").Equal(res.Reservation.UnitPrice))

	f.clock.Advance(time.Hour)
	res, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 2})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9.00").Equal(res.Reservation.UnitPrice), "an expired hold is re-priced")
}

func TestReserve_ExpiredProductCannotGrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 10)

	_, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 3})
	require.NoError(t, err)
	_, err = f.ledger.SetStatus(ctx, "P1", domain.ProductExpired)
	require.NoError(t, err)

	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 4})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 1})
	assert.NoError(t, err)
}

func TestReserve_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.reservations.Reserve(ctx, ReserveCommand{ProductID: "P1", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: domain.MaxQuantity + 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "ghost", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReserve_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.register(t, "P1", "1.00", 10)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cart := fmt.Sprintf("cart-%02d", i)
			if _, err := f.reservations.Reserve(context.Background(), ReserveCommand{CartID: cart, ProductID: "P1", Quantity: 1}); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, 0, f.available(t, "P1"))
}

func TestRelease_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 5)
	f.register(t, "P2", "1.00", 5)

	_, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 2})
	require.NoError(t, err)
	_, err = f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P2", Quantity: 3})
	require.NoError(t, err)

	n, err := f.reservations.Release(ctx, ReleaseCommand{CartID: "C1", ProductID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.reservations.Release(ctx, ReleaseCommand{CartID: "C1", ProductID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.reservations.Release(ctx, ReleaseCommand{CartID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, f.available(t, "P1"))
	assert.Equal(t, 5, f.available(t, "P2"))

	f.publisher.AssertNumberOfCalls(t, "PublishReleased", 2)
	f.publisher.AssertCalled(t, "PublishReleased", mock.Anything, mock.Anything, domain.ReleaseCart)
}

func TestRenew_ExtendsOnlyActiveHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 5)

	_, err := f.reservations.Reserve(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 2})
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	n, err := f.reservations.Renew(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 3, f.available(t, "P1"), "renewed hold is still active")

	f.clock.Advance(time.Hour)
	n, err = f.reservations.Renew(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 5, f.available(t, "P1"))
}

func TestSweep_ReleasesExpiredHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 10)
	f.register(t, "P2", "1.00", 10)

	for _, cart := range []string{"C1", "C2", "C3"} {
		_, err := f.checkout.AddLine(ctx, ReserveCommand{CartID: cart, ProductID: "P1", Quantity: 2})
		require.NoError(t, err)
	}
	_, err := f.checkout.AddLine(ctx, ReserveCommand{CartID: "C1", ProductID: "P2", Quantity: 1})
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.checkout.AddLine(ctx, ReserveCommand{CartID: "C4", ProductID: "P1", Quantity: 1})
	require.NoError(t, err)

	// Expired holds stop counting before the sweep runs.
	f.clock.Advance(11 * time.Minute)
	assert.Equal(t, 9, f.available(t, "P1"))

	// Batch size is 2, so the sweep loops over several batches.
	swept, err := f.reservations.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, swept)

	n, err := f.store.Reservations().CountByCart(ctx, "C4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	session, err := f.sessions.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, domain.CartAbandoned, session.Status)
	session, err = f.sessions.Get(ctx, "C4")
	require.NoError(t, err)
	assert.Equal(t, domain.CartBuilding, session.Status)

	f.publisher.AssertCalled(t, "PublishReleased", mock.Anything, mock.Anything, domain.ReleaseExpired)

	swept, err = f.reservations.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweep_AbandonedCartCanRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "P1", "1.00", 10)

	_, err := f.checkout.AddLine(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 2})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.reservations.Sweep(ctx)
	require.NoError(t, err)

	_, err = f.checkout.AddLine(ctx, ReserveCommand{CartID: "C1", ProductID: "P1", Quantity: 1})
	require.NoError(t, err)
	view, err := f.checkout.GetCart(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, domain.CartBuilding, view.Session.Status)
	require.Len(t, view.Lines, 1)
}
