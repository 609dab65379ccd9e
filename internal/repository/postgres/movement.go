package postgres

import (
	"context"
	"fmt"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/pkg/database"
)

const (
	queryInsertMovement = `
		INSERT INTO stock_movements (id, product_id, delta, kind, reference_id, on_hand_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	queryListMovements = `
		SELECT id, product_id, delta, kind, reference_id, on_hand_after, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`
)

// MovementRepository implements repository.MovementRepository.
type MovementRepository struct {
	db database.DBTX
}

// NewMovementRepository creates a movement repository over db.
func NewMovementRepository(db database.DBTX) *MovementRepository {
	return &MovementRepository{db: db}
}

// Append records a ledger entry.
func (r *MovementRepository) Append(ctx context.Context, m *domain.StockMovement) (err error) {
	ctx, end := database.TraceQuery(ctx, "AppendMovement", queryInsertMovement, database.AttrProductID.String(m.ProductID))
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, queryInsertMovement,
		m.ID, m.ProductID, m.Delta, string(m.Kind), m.ReferenceID, m.OnHandAfter, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// ListByProduct returns the newest movements for a product.
func (r *MovementRepository) ListByProduct(ctx context.Context, productID string, limit int) (_ []domain.StockMovement, err error) {
	ctx, end := database.TraceQuery(ctx, "ListMovements", queryListMovements, database.AttrProductID.String(productID))
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, queryListMovements, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	out := []domain.StockMovement{}
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.Kind, &m.ReferenceID, &m.OnHandAfter, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return out, nil
}
