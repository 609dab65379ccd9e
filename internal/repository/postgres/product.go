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

const productColumns = `id, supplier_id, name, unit_price, on_hand, sold, status, created_at, updated_at`

const (
	queryGetProduct = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	queryInsertProduct = `
		INSERT INTO products (id, supplier_id, name, unit_price, on_hand, sold, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	queryApplyDelta = `
		UPDATE products
		SET on_hand = on_hand + $1, sold = sold + $2, updated_at = $3
		WHERE id = $4 AND on_hand + $1 >= 0 AND sold + $2 >= 0
		RETURNING ` + productColumns

	queryProductExists = `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`

	querySetStatus = `
		UPDATE products SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + productColumns

	queryListLevels = `
		SELECT p.id, p.supplier_id, p.name, p.unit_price, p.on_hand, p.sold, p.status, p.created_at, p.updated_at,
		       COALESCE(SUM(r.quantity) FILTER (WHERE r.expires_at > $1), 0) AS reserved
		FROM products p
		LEFT JOIN reservations r ON r.product_id = p.id
		GROUP BY p.id
		ORDER BY p.id`

	queryCountProducts = `SELECT COUNT(*) FROM products`
	queryTotalOnHand   = `SELECT COALESCE(SUM(on_hand), 0) FROM products`
)

// ProductRepository implements repository.ProductRepository.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a product repository over db.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

func scanProduct(row pgx.Row, extra ...any) (*domain.Product, error) {
	var (
		p     domain.Product
		cents int64
	)
	dest := append([]any{&p.ID, &p.SupplierID, &p.Name, &cents, &p.OnHand, &p.Sold, &p.Status, &p.CreatedAt, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.UnitPrice = domain.FromCents(cents)
	return &p, nil
}

// Get retrieves a product by id.
func (r *ProductRepository) Get(ctx context.Context, id string) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "GetProduct", queryGetProduct, database.AttrProductID.String(id))
	defer func() { end(err) }()

	p, err := scanProduct(r.db.QueryRow(ctx, queryGetProduct, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Create inserts a product.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateProduct", queryInsertProduct, database.AttrProductID.String(p.ID))
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, queryInsertProduct,
		p.ID, p.SupplierID, p.Name, domain.Cents(p.UnitPrice),
		p.OnHand, p.Sold, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("product", "id", p.ID)
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// ApplyDelta performs the guarded counter update.
func (r *ProductRepository) ApplyDelta(ctx context.Context, id string, onHandDelta, soldDelta int, now time.Time) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "ApplyDelta", queryApplyDelta, database.AttrProductID.String(id))
	defer func() { end(err) }()

	p, err := scanProduct(r.db.QueryRow(ctx, queryApplyDelta, onHandDelta, soldDelta, now, id))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("apply stock delta: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, queryProductExists, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return nil, apperrors.NotFound("product", id)
	}
	return nil, domain.ErrInsufficientStock
}

// SetStatus changes the product lifecycle state.
func (r *ProductRepository) SetStatus(ctx context.Context, id string, status domain.ProductStatus, now time.Time) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "SetProductStatus", querySetStatus, database.AttrProductID.String(id))
	defer func() { end(err) }()

	p, err := scanProduct(r.db.QueryRow(ctx, querySetStatus, string(status), now, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("set product status: %w", err)
	}
	return p, nil
}

// ListLevels returns every product with its active held quantity.
func (r *ProductRepository) ListLevels(ctx context.Context, now time.Time) (_ []domain.StockLevel, err error) {
	ctx, end := database.TraceQuery(ctx, "ListStockLevels", queryListLevels)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, queryListLevels, now)
	if err != nil {
		return nil, fmt.Errorf("list stock levels: %w", err)
	}
	defer rows.Close()

	levels := []domain.StockLevel{}
	for rows.Next() {
		var reserved int
		p, err := scanProduct(rows, &reserved)
		if err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		levels = append(levels, domain.NewStockLevel(*p, reserved))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}
	return levels, nil
}

// Count returns the number of products.
func (r *ProductRepository) Count(ctx context.Context) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "CountProducts", queryCountProducts)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, queryCountProducts).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// TotalOnHand returns the sum of on-hand units.
func (r *ProductRepository) TotalOnHand(ctx context.Context) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "TotalOnHand", queryTotalOnHand)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, queryTotalOnHand).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum on-hand stock: %w", err)
	}
	return n, nil
}
