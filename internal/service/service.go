// Package service holds the stock ledger, reservation manager, checkout
// coordinator, low-stock monitor and sales administration.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	"github.com/Sumudu01/NayanaPharma/pkg/logger"
)

// EventPublisher sends domain events to subscribers outside the service.
// Publishing happens after commit; a failure is logged and never undoes the
// committed change.
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, change domain.StockChange) error
	PublishReserved(ctx context.Context, reservation domain.Reservation, available int) error
	PublishReleased(ctx context.Context, reservation domain.Reservation, reason string) error
	PublishLowStock(ctx context.Context, alert domain.StockAlert, threshold int) error
	PublishSaleCompleted(ctx context.Context, sale *domain.Sale) error
}

// NoopPublisher discards every event. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishStockChanged(context.Context, domain.StockChange) error { return nil }
func (NoopPublisher) PublishReserved(context.Context, domain.Reservation, int) error { return nil }
func (NoopPublisher) PublishReleased(context.Context, domain.Reservation, string) error { return nil }
func (NoopPublisher) PublishLowStock(context.Context, domain.StockAlert, int) error { return nil }
func (NoopPublisher) PublishSaleCompleted(context.Context, *domain.Sale) error { return nil }

// Catalog supplies product metadata. It returns apperrors.ErrNotFound for
// unknown products.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.CatalogItem, error)
}

// CustomerDirectory resolves customer references. It returns
// apperrors.ErrNotFound for unknown customers.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
}

// StockObserver is notified after every committed ledger change.
type StockObserver interface {
	StockChanged(ctx context.Context, change domain.StockChange)
}

func utcNow() time.Time { return time.Now().UTC() }

// persistenceFailure passes application errors through and turns anything
// else into a logged PERSISTENCE_FAILURE.
func persistenceFailure(ctx context.Context, fallback *slog.Logger, op string, err error) error {
	if apperrors.IsDomain(err) {
		return err
	}
	l := logger.FromContext(ctx)
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	l.ErrorContext(ctx, "persistence failure",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return apperrors.Unavailable(err)
}
