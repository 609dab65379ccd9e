package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/pkg/database"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

const reservationColumns = `id, cart_id, product_id, quantity, unit_price, created_at, expires_at`

const (
	queryGetReservation = `SELECT ` + reservationColumns + ` FROM reservations WHERE cart_id = $1 AND product_id = $2`

	queryUpsertReservation = `
		INSERT INTO reservations (id, cart_id, product_id, quantity, unit_price, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET
			id = EXCLUDED.id,
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	queryDeleteReservation = `DELETE FROM reservations WHERE cart_id = $1 AND product_id = $2`

	queryListCartReservations = `
		SELECT ` + reservationColumns + ` FROM reservations
		WHERE cart_id = $1 AND expires_at > $2
		ORDER BY product_id`

	queryHeldQuantity = `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations
		WHERE product_id = $1 AND cart_id <> $2 AND expires_at > $3`

	queryRenewReservations = `UPDATE reservations SET expires_at = $1 WHERE cart_id = $2 AND expires_at > $3`

	queryListExpired = `
		SELECT ` + reservationColumns + ` FROM reservations
		WHERE expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2`

	queryDeleteIfExpired = `DELETE FROM reservations WHERE id = $1 AND expires_at <= $2`

	queryCountCartReservations = `SELECT COUNT(*) FROM reservations WHERE cart_id = $1`
)

// ReservationRepository implements repository.ReservationRepository.
type ReservationRepository struct {
	db database.DBTX
}

// NewReservationRepository creates a reservation repository over db.
func NewReservationRepository(db database.DBTX) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res   domain.Reservation
		cents int64
	)
	if err := row.Scan(&res.ID, &res.CartID, &res.ProductID, &res.Quantity, &cents, &res.CreatedAt, &res.ExpiresAt); err != nil {
		return nil, err
	}
	res.UnitPrice = domain.FromCents(cents)
	return &res, nil
}

func collectReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	defer rows.Close()

	out := []domain.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}

// Get returns the cart's hold on productID, expired or not.
func (r *ReservationRepository) Get(ctx context.Context, cartID, productID string) (_ *domain.Reservation, err error) {
	ctx, end := database.TraceQuery(ctx, "GetReservation", queryGetReservation,
		database.AttrCartID.String(cartID), database.AttrProductID.String(productID))
	defer func() { end(err) }()

	res, err := scanReservation(r.db.QueryRow(ctx, queryGetReservation, cartID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", cartID+"/"+productID)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// Upsert creates or replaces a hold.
func (r *ReservationRepository) Upsert(ctx context.Context, res *domain.Reservation) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpsertReservation", queryUpsertReservation,
		database.AttrCartID.String(res.CartID), database.AttrProductID.String(res.ProductID))
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, queryUpsertReservation,
		res.ID, res.CartID, res.ProductID, res.Quantity, domain.Cents(res.UnitPrice), res.CreatedAt, res.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reservation: %w", err)
	}
	return nil
}

// Delete removes a hold.
func (r *ReservationRepository) Delete(ctx context.Context, cartID, productID string) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteReservation", queryDeleteReservation,
		database.AttrCartID.String(cartID), database.AttrProductID.String(productID))
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, queryDeleteReservation, cartID, productID)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByCart returns the cart's active holds.
func (r *ReservationRepository) ListByCart(ctx context.Context, cartID string, now time.Time) (_ []domain.Reservation, err error) {
	ctx, end := database.TraceQuery(ctx, "ListCartReservations", queryListCartReservations, database.AttrCartID.String(cartID))
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, queryListCartReservations, cartID, now)
	if err != nil {
		return nil, fmt.Errorf("list cart reservations: %w", err)
	}
	return collectReservations(rows)
}

// HeldQuantity sums other carts' active holds on a product.
func (r *ReservationRepository) HeldQuantity(ctx context.Context, productID, excludeCartID string, now time.Time) (held int, err error) {
	ctx, end := database.TraceQuery(ctx, "HeldQuantity", queryHeldQuantity, database.AttrProductID.String(productID))
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, queryHeldQuantity, productID, excludeCartID, now).Scan(&held); err != nil {
		return 0, fmt.Errorf("sum held quantity: %w", err)
	}
	return held, nil
}

// Renew pushes the expiry of the cart's active holds.
func (r *ReservationRepository) Renew(ctx context.Context, cartID string, now, expiresAt time.Time) (_ int, err error) {
	ctx, end := database.TraceQuery(ctx, "RenewReservations", queryRenewReservations, database.AttrCartID.String(cartID))
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, queryRenewReservations, expiresAt, cartID, now)
	if err != nil {
		return 0, fmt.Errorf("renew reservations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListExpired returns up to limit expired holds, oldest first.
func (r *ReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) (_ []domain.Reservation, err error) {
	ctx, end := database.TraceQuery(ctx, "ListExpiredReservations", queryListExpired)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, queryListExpired, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	return collectReservations(rows)
}

// DeleteIfExpired removes a hold that is still expired at now.
func (r *ReservationRepository) DeleteIfExpired(ctx context.Context, id string, now time.Time) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteExpiredReservation", queryDeleteIfExpired)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, queryDeleteIfExpired, id, now)
	if err != nil {
		return false, fmt.Errorf("delete expired reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByCart counts every hold of the cart.
func (r *ReservationRepository) CountByCart(ctx context.Context, cartID string) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "CountCartReservations", queryCountCartReservations, database.AttrCartID.String(cartID))
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, queryCountCartReservations, cartID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cart reservations: %w", err)
	}
	return n, nil
}
