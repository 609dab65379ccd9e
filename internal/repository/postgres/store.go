// Package postgres implements the repository interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sumudu01/NayanaPharma/internal/repository"
	"github.com/Sumudu01/NayanaPharma/pkg/database"
)

const queryLockProducts = `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

// Store is the PostgreSQL implementation of repository.Store.
type Store struct {
	repos
	pool database.Pool
}

// NewStore creates a store over pool.
func NewStore(pool database.Pool) *Store {
	return &Store{repos: newRepos(pool), pool: pool}
}

type repos struct {
	products     *ProductRepository
	reservations *ReservationRepository
	sales        *SaleRepository
	movements    *MovementRepository
}

func newRepos(db database.DBTX) repos {
	return repos{
		products:     NewProductRepository(db),
		reservations: NewReservationRepository(db),
		sales:        NewSaleRepository(db),
		movements:    NewMovementRepository(db),
	}
}

func (r repos) Products() repository.ProductRepository         { return r.products }
func (r repos) Reservations() repository.ReservationRepository { return r.reservations }
func (r repos) Sales() repository.SaleRepository               { return r.sales }
func (r repos) Movements() repository.MovementRepository       { return r.movements }

// WithProductLocks runs fn in a READ COMMITTED transaction after taking row
// locks on the products in id order. Lock order is the same for every caller,
// so two units of work over overlapping products cannot deadlock.
func (s *Store) WithProductLocks(ctx context.Context, productIDs []string, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	ids := repository.SortedUnique(productIDs)
	ctx, end := database.TraceQuery(ctx, "WithProductLocks", queryLockProducts, database.AttrProductIDs.StringSlice(ids))
	defer func() { end(err) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, queryLockProducts, ids); err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
	}

	if err := fn(ctx, newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
