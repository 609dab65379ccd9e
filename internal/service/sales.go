package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	"github.com/Sumudu01/NayanaPharma/pkg/pagination"
)

// SaleDeletePolicy decides what deleting a sale does to stock.
type SaleDeletePolicy string

// Sale delete policies.
const (
	// DeleteRetain removes the record only.
	DeleteRetain SaleDeletePolicy = "retain"
	// DeleteRestock returns every line to stock in the same unit of work.
	DeleteRestock SaleDeletePolicy = "restock"
)

// UpdateSaleCommand is an administrative edit of a sale.
type UpdateSaleCommand struct {
	CustomerID string
	Lines      []domain.SaleLine
}

// SalesService administers committed sales.
type SalesService struct {
	store  repository.Store
	ledger *Ledger
	policy SaleDeletePolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewSalesService creates the sales administration service.
func NewSalesService(store repository.Store, ledger *Ledger, policy SaleDeletePolicy, logger *slog.Logger) *SalesService {
	if policy != DeleteRestock {
		policy = DeleteRetain
	}
	return &SalesService{store: store, ledger: ledger, policy: policy, logger: logger, now: utcNow}
}

// List returns a page of sales, newest first.
func (s *SalesService) List(ctx context.Context, params pagination.Params) (pagination.Result[domain.Sale], error) {
	total, err := s.store.Sales().Count(ctx)
	if err != nil {
		return pagination.Result[domain.Sale]{}, persistenceFailure(ctx, s.logger, "count sales", err)
	}
	sales, err := s.store.Sales().List(ctx, params.Offset, params.PerPage)
	if err != nil {
		return pagination.Result[domain.Sale]{}, persistenceFailure(ctx, s.logger, "list sales", err)
	}
	return pagination.NewResult(sales, total, params), nil
}

// Get returns one sale.
func (s *SalesService) Get(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := s.store.Sales().Get(ctx, id)
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "get sale", err)
	}
	return sale, nil
}

// Count returns the number of sales.
func (s *SalesService) Count(ctx context.Context) (int, error) {
	n, err := s.store.Sales().Count(ctx)
	if err != nil {
		return 0, persistenceFailure(ctx, s.logger, "count sales", err)
	}
	return n, nil
}

// Update replaces customer and lines and recomputes the total. Stock is not
// touched.
func (s *SalesService) Update(ctx context.Context, id string, cmd UpdateSaleCommand) (*domain.Sale, error) {
	if err := domain.ValidateLines(cmd.Lines); err != nil {
		return nil, err
	}
	sale, err := s.store.Sales().Get(ctx, id)
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "update sale", err)
	}

	sale.CustomerID = cmd.CustomerID
	sale.Lines = cmd.Lines
	sale.TotalAmount = domain.ComputeTotal(cmd.Lines)
	sale.UpdatedAt = s.now()

	err = s.store.WithProductLocks(ctx, nil, func(ctx context.Context, tx repository.Tx) error {
		return tx.Sales().Update(ctx, sale)
	})
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "update sale", err)
	}
	s.logger.InfoContext(ctx, "sale updated",
		slog.String("sale_id", id),
		slog.String("total", sale.TotalAmount.StringFixed(2)),
	)
	return sale, nil
}

// Delete removes a sale, restocking its lines when the policy says so.
func (s *SalesService) Delete(ctx context.Context, id string) error {
	sale, err := s.store.Sales().Get(ctx, id)
	if err != nil {
		return persistenceFailure(ctx, s.logger, "delete sale", err)
	}

	var lockIDs []string
	if s.policy == DeleteRestock {
		for _, l := range sale.Lines {
			lockIDs = append(lockIDs, l.ProductID)
		}
	}

	var changes []domain.StockChange
	err = s.store.WithProductLocks(ctx, lockIDs, func(ctx context.Context, tx repository.Tx) error {
		changes = changes[:0]
		if err := tx.Sales().Delete(ctx, id); err != nil {
			return err
		}
		if s.policy != DeleteRestock {
			return nil
		}
		now := s.now()
		for _, l := range sale.Lines {
			change, err := s.ledger.adjustInTx(ctx, tx, AdjustCommand{
				ProductID:   l.ProductID,
				Delta:       l.Quantity,
				Kind:        domain.KindReturn,
				ReferenceID: id,
			}, now)
			if err != nil {
				return err
			}
			changes = append(changes, *change)
		}
		return nil
	})
	if err != nil {
		return persistenceFailure(ctx, s.logger, "delete sale", err)
	}

	for _, change := range changes {
		s.ledger.notify(ctx, change)
	}
	s.logger.InfoContext(ctx, "sale deleted",
		slog.String("sale_id", id),
		slog.String("policy", string(s.policy)),
	)
	return nil
}

// ParseSaleDeletePolicy maps a configured policy name.
func ParseSaleDeletePolicy(name string) (SaleDeletePolicy, error) {
	switch SaleDeletePolicy(name) {
	case DeleteRetain, DeleteRestock:
		return SaleDeletePolicy(name), nil
	}
	return "", apperrors.InvalidInput("unknown sale delete policy " + name)
}
