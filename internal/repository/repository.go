package repository

import (
	"context"
	"time"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
)

// ProductRepository persists products and their ledger counters.
type ProductRepository interface {
	// Get returns apperrors.ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*domain.Product, error)

	// Create inserts a new product; a duplicate id is apperrors.ErrAlreadyExists.
	Create(ctx context.Context, product *domain.Product) error

	// ApplyDelta adds onHandDelta and soldDelta in one guarded write. It
	// returns domain.ErrInsufficientStock when either counter would go below
	// zero and apperrors.ErrNotFound for an unknown id.
	ApplyDelta(ctx context.Context, id string, onHandDelta, soldDelta int, now time.Time) (*domain.Product, error)

	// SetStatus changes the lifecycle state.
	SetStatus(ctx context.Context, id string, status domain.ProductStatus, now time.Time) (*domain.Product, error)

	// ListLevels returns every product with its quantity held by reservations active at now.
	ListLevels(ctx context.Context, now time.Time) ([]domain.StockLevel, error)

	// Count returns the number of products.
	Count(ctx context.Context) (int, error)

	// TotalOnHand returns the sum of on-hand units across all products.
	TotalOnHand(ctx context.Context) (int, error)
}

// ReservationRepository persists cart holds.
type ReservationRepository interface {
	// Get returns apperrors.ErrNotFound when the cart has no hold on the product.
	Get(ctx context.Context, cartID, productID string) (*domain.Reservation, error)

	// Upsert creates or replaces the (cartID, productID) hold.
	Upsert(ctx context.Context, reservation *domain.Reservation) error

	// Delete removes a hold and reports whether one existed.
	Delete(ctx context.Context, cartID, productID string) (bool, error)

	// ListByCart returns the cart's holds active at now, ordered by product id.
	ListByCart(ctx context.Context, cartID string, now time.Time) ([]domain.Reservation, error)

	// HeldQuantity sums active holds on productID, excluding excludeCartID.
	HeldQuantity(ctx context.Context, productID, excludeCartID string, now time.Time) (int, error)

	// Renew sets expiresAt on the cart's holds that are still active at now.
	Renew(ctx context.Context, cartID string, now, expiresAt time.Time) (int, error)

	// ListExpired returns at most limit holds that have expired at now, oldest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)

	// DeleteIfExpired removes the hold only if it is still expired at now.
	DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error)

	// CountByCart counts the cart's holds regardless of expiry.
	CountByCart(ctx context.Context, cartID string) (int, error)
}

// SaleRepository persists completed sales.
type SaleRepository interface {
	Create(ctx context.Context, sale *domain.Sale) error
	Get(ctx context.Context, id string) (*domain.Sale, error)
	// List returns sales newest first.
	List(ctx context.Context, offset, limit int) ([]domain.Sale, error)
	Count(ctx context.Context) (int, error)
	// Update replaces customer, lines and total.
	Update(ctx context.Context, sale *domain.Sale) error
	Delete(ctx context.Context, id string) error
}

// MovementRepository is the append-only stock ledger.
type MovementRepository interface {
	Append(ctx context.Context, movement *domain.StockMovement) error
	// ListByProduct returns the newest movements first.
	ListByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)
}

// Tx groups the repositories that share one unit of work.
type Tx interface {
	Products() ProductRepository
	Reservations() ReservationRepository
	Sales() SaleRepository
	Movements() MovementRepository
}

// Store is the persistence boundary. Its own repositories run outside any
// unit of work and are used for reads.
type Store interface {
	Tx

	// WithProductLocks runs fn as one unit of work while holding exclusive
	// locks on productIDs, acquired in sorted order. Any error from fn rolls
	// back every write made through the Tx.
	WithProductLocks(ctx context.Context, productIDs []string, fn func(ctx context.Context, tx Tx) error) error
}

// CartSessionStore keeps checkout state machine sessions.
type CartSessionStore interface {
	// Get returns apperrors.ErrNotFound for an unknown cart.
	Get(ctx context.Context, cartID string) (*domain.CartSession, error)
	// Save stores session only if the stored copy still has session.Version
	// (or none is stored), then bumps session.Version. A lost race returns
	// apperrors.ErrConflict.
	Save(ctx context.Context, session *domain.CartSession) error
}

// IdempotencyStore remembers which sale a checkout Idempotency-Key produced.
type IdempotencyStore interface {
	// Lookup returns the sale id for key, or "" when unseen.
	Lookup(ctx context.Context, key string) (string, error)
	Remember(ctx context.Context, key, saleID string) error
}
