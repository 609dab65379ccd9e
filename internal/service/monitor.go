package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// DefaultLowStockThreshold is used when a caller gives none.
const DefaultLowStockThreshold = 10

// StockMonitor derives low-stock alerts from the ledger. It never mutates.
type StockMonitor struct {
	products  repository.ProductRepository
	publisher EventPublisher
	threshold int
	logger    *slog.Logger
	now       func() time.Time
}

// NewStockMonitor creates a monitor. threshold is the level below which
// StockChanged publishes a low-stock event.
func NewStockMonitor(products repository.ProductRepository, publisher EventPublisher, threshold int, logger *slog.Logger) *StockMonitor {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &StockMonitor{products: products, publisher: publisher, threshold: threshold, logger: logger, now: utcNow}
}

// ListAlerts returns one alert per product with availability below
// threshold, lowest availability first. It is recomputed on every call.
func (m *StockMonitor) ListAlerts(ctx context.Context, threshold int) ([]domain.StockAlert, error) {
	if threshold < 0 {
		return nil, apperrors.InvalidInput("threshold must not be negative")
	}
	levels, err := m.products.ListLevels(ctx, m.now())
	if err != nil {
		return nil, persistenceFailure(ctx, m.logger, "list alerts", err)
	}

	alerts := []domain.StockAlert{}
	for _, level := range levels {
		if level.Available < threshold {
			alerts = append(alerts, domain.NewStockAlert(level))
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Available != alerts[j].Available {
			return alerts[i].Available < alerts[j].Available
		}
		return alerts[i].ProductID < alerts[j].ProductID
	})
	return alerts, nil
}

// StockChanged publishes a low-stock event when a change takes availability
// from at or above the threshold to below it.
func (m *StockMonitor) StockChanged(ctx context.Context, change domain.StockChange) {
	if change.PreviousAvailable < m.threshold || change.Available >= m.threshold {
		return
	}

	p, err := m.products.Get(ctx, change.ProductID)
	name := ""
	if err == nil {
		name = p.Name
	}
	alert := domain.NewStockAlert(domain.StockLevel{
		Product:   domain.Product{ID: change.ProductID, Name: name},
		Available: change.Available,
	})
	if err := m.publisher.PublishLowStock(ctx, alert, m.threshold); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish low stock event",
			slog.String("product_id", change.ProductID),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.WarnContext(ctx, "product crossed low stock threshold",
		slog.String("product_id", change.ProductID),
		slog.Int("available", change.Available),
		slog.Int("threshold", m.threshold),
	)
}
