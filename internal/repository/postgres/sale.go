package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/pkg/database"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

const (
	queryInsertSale = `
		INSERT INTO sales (id, cart_id, customer_id, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	queryInsertSaleLine = `
		INSERT INTO sale_lines (sale_id, position, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)`

	queryGetSale = `SELECT id, cart_id, customer_id, total_amount, created_at, updated_at FROM sales WHERE id = $1`

	queryListSales = `
		SELECT id, cart_id, customer_id, total_amount, created_at, updated_at FROM sales
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	querySaleLines = `
		SELECT sale_id, product_id, quantity, unit_price FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position`

	queryCountSales = `SELECT COUNT(*) FROM sales`

	queryUpdateSale = `
		UPDATE sales SET customer_id = $1, total_amount = $2, updated_at = $3
		WHERE id = $4`

	queryDeleteSaleLines = `DELETE FROM sale_lines WHERE sale_id = $1`

	queryDeleteSale = `DELETE FROM sales WHERE id = $1`
)

// SaleRepository implements repository.SaleRepository. Multi-statement
// writes must run inside Store.WithProductLocks to be atomic.
type SaleRepository struct {
	db database.DBTX
}

// NewSaleRepository creates a sale repository over db.
func NewSaleRepository(db database.DBTX) *SaleRepository {
	return &SaleRepository{db: db}
}

// Create inserts the sale header and its lines.
func (r *SaleRepository) Create(ctx context.Context, sale *domain.Sale) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateSale", queryInsertSale)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, queryInsertSale,
		sale.ID, sale.CartID, sale.CustomerID, domain.Cents(sale.TotalAmount), sale.CreatedAt, sale.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return r.insertLines(ctx, sale)
}

func (r *SaleRepository) insertLines(ctx context.Context, sale *domain.Sale) error {
	for i, l := range sale.Lines {
		if _, err := r.db.Exec(ctx, queryInsertSaleLine, sale.ID, i, l.ProductID, l.Quantity, domain.Cents(l.UnitPrice)); err != nil {
			return fmt.Errorf("insert sale line %d: %w", i, err)
		}
	}
	return nil
}

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var (
		s     domain.Sale
		cents int64
	)
	if err := row.Scan(&s.ID, &s.CartID, &s.CustomerID, &cents, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.TotalAmount = domain.FromCents(cents)
	s.Lines = []domain.SaleLine{}
	return &s, nil
}

// Get retrieves a sale with its lines.
func (r *SaleRepository) Get(ctx context.Context, id string) (_ *domain.Sale, err error) {
	ctx, end := database.TraceQuery(ctx, "GetSale", queryGetSale)
	defer func() { end(err) }()

	sale, err := scanSale(r.db.QueryRow(ctx, queryGetSale, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("sale", id)
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}

	sales := []domain.Sale{*sale}
	if err := r.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

// List returns a page of sales, newest first.
func (r *SaleRepository) List(ctx context.Context, offset, limit int) (_ []domain.Sale, err error) {
	ctx, end := database.TraceQuery(ctx, "ListSales", queryListSales)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, queryListSales, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	sales := []domain.Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	rows.Close()

	if err := r.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *SaleRepository) attachLines(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i := range sales {
		ids[i] = sales[i].ID
		index[sales[i].ID] = i
	}

	rows, err := r.db.Query(ctx, querySaleLines, ids)
	if err != nil {
		return fmt.Errorf("load sale lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID string
			line   domain.SaleLine
			cents  int64
		)
		if err := rows.Scan(&saleID, &line.ProductID, &line.Quantity, &cents); err != nil {
			return fmt.Errorf("scan sale line: %w", err)
		}
		line.UnitPrice = domain.FromCents(cents)
		if i, ok := index[saleID]; ok {
			sales[i].Lines = append(sales[i].Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sale lines: %w", err)
	}
	return nil
}

// Count returns the number of sales.
func (r *SaleRepository) Count(ctx context.Context) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "CountSales", queryCountSales)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, queryCountSales).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	return n, nil
}

// Update replaces the customer, lines and total of a sale.
func (r *SaleRepository) Update(ctx context.Context, sale *domain.Sale) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateSale", queryUpdateSale)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, queryUpdateSale, sale.CustomerID, domain.Cents(sale.TotalAmount), sale.UpdatedAt, sale.ID)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("sale", sale.ID)
	}
	if _, err = r.db.Exec(ctx, queryDeleteSaleLines, sale.ID); err != nil {
		return fmt.Errorf("clear sale lines: %w", err)
	}
	return r.insertLines(ctx, sale)
}

// Delete removes a sale; its lines cascade.
func (r *SaleRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteSale", queryDeleteSale)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, queryDeleteSale, id)
	if err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("sale", id)
	}
	return nil
}
