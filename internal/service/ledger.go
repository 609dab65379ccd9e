package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// defaultMovementLimit caps movement history reads.
const defaultMovementLimit = 100

// AdjustCommand is a ledger adjustment request.
type AdjustCommand struct {
	ProductID   string
	Delta       int
	Kind        domain.AdjustmentKind
	ReferenceID string
}

// RegisterProductCommand adds a product to the ledger.
type RegisterProductCommand struct {
	ID           string
	SupplierID   string
	Name         string
	UnitPrice    decimal.Decimal
	InitialStock int
}

// Ledger is the authoritative record of on-hand and sold quantities.
type Ledger struct {
	store     repository.Store
	publisher EventPublisher
	observers []StockObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedger creates a stock ledger. publisher may be nil.
func NewLedger(store repository.Store, publisher EventPublisher, logger *slog.Logger) *Ledger {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Ledger{store: store, publisher: publisher, logger: logger, now: utcNow}
}

// Observe registers o for stock change notifications.
func (l *Ledger) Observe(o StockObserver) {
	l.observers = append(l.observers, o)
}

// GetAvailable returns on-hand stock minus active holds, never below zero.
func (l *Ledger) GetAvailable(ctx context.Context, productID string) (int, error) {
	level, err := l.GetStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	return level.Available, nil
}

// GetStock returns a product together with its held and available quantities.
func (l *Ledger) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	p, err := l.store.Products().Get(ctx, productID)
	if err != nil {
		return nil, persistenceFailure(ctx, l.logger, "get stock", err)
	}
	held, err := l.store.Reservations().HeldQuantity(ctx, productID, "", l.now())
	if err != nil {
		return nil, persistenceFailure(ctx, l.logger, "get stock", err)
	}
	level := domain.NewStockLevel(*p, held)
	return &level, nil
}

// Adjust applies a guarded on-hand change under the product lock.
func (l *Ledger) Adjust(ctx context.Context, cmd AdjustCommand) (*domain.StockChange, error) {
	if cmd.ProductID == "" {
		return nil, apperrors.InvalidInput("productId is required")
	}
	if err := cmd.Kind.ValidateDelta(cmd.Delta); err != nil {
		return nil, err
	}

	var change *domain.StockChange
	err := l.store.WithProductLocks(ctx, []string{cmd.ProductID}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		change, err = l.adjustInTx(ctx, tx, cmd, l.now())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			l.logger.InfoContext(ctx, "stock adjustment rejected",
				slog.String("product_id", cmd.ProductID),
				slog.Int("delta", cmd.Delta),
				slog.String("kind", string(cmd.Kind)),
			)
		}
		return nil, persistenceFailure(ctx, l.logger, "adjust stock", err)
	}

	l.notify(ctx, *change)
	l.logger.InfoContext(ctx, "stock adjusted",
		slog.String("product_id", change.ProductID),
		slog.String("kind", string(change.Kind)),
		slog.Int("delta", change.Delta),
		slog.Int("on_hand", change.OnHand),
		slog.Int("available", change.Available),
	)
	return change, nil
}

// AdjustMany applies several adjustments as one unit of work. Either every
// command is applied or none is.
func (l *Ledger) AdjustMany(ctx context.Context, cmds []AdjustCommand) ([]domain.StockChange, error) {
	if len(cmds) == 0 {
		return nil, apperrors.InvalidInput("at least one adjustment is required")
	}
	ids := make([]string, 0, len(cmds))
	for i, cmd := range cmds {
		if cmd.ProductID == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf("adjustments[%d].productId is required", i))
		}
		if err := cmd.Kind.ValidateDelta(cmd.Delta); err != nil {
			return nil, err
		}
		ids = append(ids, cmd.ProductID)
	}

	var changes []domain.StockChange
	err := l.store.WithProductLocks(ctx, ids, func(ctx context.Context, tx repository.Tx) error {
		changes = changes[:0]
		now := l.now()
		for _, cmd := range cmds {
			change, err := l.adjustInTx(ctx, tx, cmd, now)
			if err != nil {
				return err
			}
			changes = append(changes, *change)
		}
		return nil
	})
	if err != nil {
		return nil, persistenceFailure(ctx, l.logger, "adjust stock", err)
	}
	for _, change := range changes {
		l.notify(ctx, change)
	}
	return changes, nil
}

// adjustInTx performs the guarded write and appends the movement. The caller
// holds the product lock and publishes the change after commit.
func (l *Ledger) adjustInTx(ctx context.Context, tx repository.Tx, cmd AdjustCommand, now time.Time) (*domain.StockChange, error) {
	before, err := tx.Products().Get(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	held, err := tx.Reservations().HeldQuantity(ctx, cmd.ProductID, "", now)
	if err != nil {
		return nil, err
	}

	if before.OnHand+cmd.Delta > domain.MaxQuantity || before.Sold+cmd.Kind.SoldDelta(cmd.Delta) > domain.MaxQuantity {
		return nil, apperrors.InvalidInput(fmt.Sprintf("stock of %s would exceed %d", cmd.ProductID, domain.MaxQuantity))
	}

	after, err := tx.Products().ApplyDelta(ctx, cmd.ProductID, cmd.Delta, cmd.Kind.SoldDelta(cmd.Delta), now)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return nil, domain.InsufficientStock(cmd.ProductID, -cmd.Delta, before.Available(held))
		}
		return nil, err
	}

	if err := tx.Movements().Append(ctx, &domain.StockMovement{
		ID:          uuid.New().String(),
		ProductID:   cmd.ProductID,
		Delta:       cmd.Delta,
		Kind:        cmd.Kind,
		ReferenceID: cmd.ReferenceID,
		OnHandAfter: after.OnHand,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	return &domain.StockChange{
		ProductID:         cmd.ProductID,
		Kind:              cmd.Kind,
		Delta:             cmd.Delta,
		OnHand:            after.OnHand,
		Sold:              after.Sold,
		Available:         after.Available(held),
		PreviousAvailable: before.Available(held),
		ReferenceID:       cmd.ReferenceID,
	}, nil
}

// notify publishes a committed change and fans it out to observers.
func (l *Ledger) notify(ctx context.Context, change domain.StockChange) {
	stockAdjustments.WithLabelValues(string(change.Kind)).Inc()
	if err := l.publisher.PublishStockChanged(ctx, change); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish stock changed event",
			slog.String("product_id", change.ProductID),
			slog.String("error", err.Error()),
		)
	}
	for _, o := range l.observers {
		o.StockChanged(ctx, change)
	}
}

// RegisterProduct creates a product with its initial stock.
func (l *Ledger) RegisterProduct(ctx context.Context, cmd RegisterProductCommand) (*domain.Product, error) {
	if cmd.ID == "" {
		return nil, apperrors.InvalidInput("id is required")
	}
	if cmd.Name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	if cmd.InitialStock < 0 || cmd.InitialStock > domain.MaxQuantity {
		return nil, apperrors.InvalidInput(fmt.Sprintf("initialStock must be between 0 and %d", domain.MaxQuantity))
	}
	if err := domain.ValidatePrice("unitPrice", cmd.UnitPrice); err != nil {
		return nil, err
	}

	now := l.now()
	product := &domain.Product{
		ID:         cmd.ID,
		SupplierID: cmd.SupplierID,
		Name:       cmd.Name,
		UnitPrice:  cmd.UnitPrice,
		OnHand:     cmd.InitialStock,
		Status:     domain.ProductAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := l.store.WithProductLocks(ctx, []string{cmd.ID}, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Products().Create(ctx, product); err != nil {
			return err
		}
		if cmd.InitialStock == 0 {
			return nil
		}
		return tx.Movements().Append(ctx, &domain.StockMovement{
			ID:          uuid.New().String(),
			ProductID:   cmd.ID,
			Delta:       cmd.InitialStock,
			Kind:        domain.KindRestock,
			ReferenceID: "initial",
			OnHandAfter: cmd.InitialStock,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, persistenceFailure(ctx, l.logger, "register product", err)
	}

	if cmd.InitialStock > 0 {
		l.notify(ctx, domain.StockChange{
			ProductID:   cmd.ID,
			Kind:        domain.KindRestock,
			Delta:       cmd.InitialStock,
			OnHand:      cmd.InitialStock,
			Available:   cmd.InitialStock,
			ReferenceID: "initial",
		})
	}
	l.logger.InfoContext(ctx, "product registered",
		slog.String("product_id", product.ID),
		slog.Int("on_hand", product.OnHand),
	)
	return product, nil
}

// SetStatus moves a product through its lifecycle.
func (l *Ledger) SetStatus(ctx context.Context, productID string, status domain.ProductStatus) (*domain.Product, error) {
	if !status.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown product status %q", status))
	}
	var product *domain.Product
	err := l.store.WithProductLocks(ctx, []string{productID}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		product, err = tx.Products().SetStatus(ctx, productID, status, l.now())
		return err
	})
	if err != nil {
		return nil, persistenceFailure(ctx, l.logger, "set product status", err)
	}
	l.logger.InfoContext(ctx, "product status changed",
		slog.String("product_id", productID),
		slog.String("status", string(status)),
	)
	return product, nil
}

// ListMovements returns the newest ledger entries for a product.
func (l *Ledger) ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 || limit > defaultMovementLimit {
		limit = defaultMovementLimit
	}
	if _, err := l.store.Products().Get(ctx, productID); err != nil {
		return nil, persistenceFailure(ctx, l.logger, "list movements", err)
	}
	moves, err := l.store.Movements().ListByProduct(ctx, productID, limit)
	if err != nil {
		return nil, persistenceFailure(ctx, l.logger, "list movements", err)
	}
	return moves, nil
}

// ProductCount returns the number of products.
func (l *Ledger) ProductCount(ctx context.Context) (int, error) {
	n, err := l.store.Products().Count(ctx)
	if err != nil {
		return 0, persistenceFailure(ctx, l.logger, "count products", err)
	}
	return n, nil
}

// StockCount returns the total on-hand units across products.
func (l *Ledger) StockCount(ctx context.Context) (int, error) {
	n, err := l.store.Products().TotalOnHand(ctx)
	if err != nil {
		return 0, persistenceFailure(ctx, l.logger, "count stock", err)
	}
	return n, nil
}
