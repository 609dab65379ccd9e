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

// ReserveCommand creates or resizes a cart's hold on one product.
type ReserveCommand struct {
	CartID    string
	ProductID string
	Quantity  int
}

// ReleaseCommand drops one line, or every line when ProductID is empty.
type ReleaseCommand struct {
	CartID    string
	ProductID string
}

// ReserveResult is the hold after a successful reserve and the product's
// availability right after it.
type ReserveResult struct {
	Reservation domain.Reservation `json:"reservation"`
	Available   int                `json:"available"`
}

// ReservationConfig tunes hold lifetime and sweeping.
type ReservationConfig struct {
	TTL            time.Duration
	SweepBatchSize int
}

// ReservationManager owns cart holds.
type ReservationManager struct {
	store     repository.Store
	catalog   Catalog
	sessions  repository.CartSessionStore
	publisher EventPublisher
	logger    *slog.Logger
	cfg       ReservationConfig
	now       func() time.Time
}

// NewReservationManager creates a reservation manager. sessions is used by
// the sweep to mark emptied carts abandoned and may be nil.
func NewReservationManager(
	store repository.Store,
	catalog Catalog,
	sessions repository.CartSessionStore,
	publisher EventPublisher,
	logger *slog.Logger,
	cfg ReservationConfig,
) *ReservationManager {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return &ReservationManager{
		store:     store,
		catalog:   catalog,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       utcNow,
	}
}

// Reserve sets the cart's hold on a product to cmd.Quantity. Only the
// increase over the cart's own active hold is checked against stock, and a
// decrease always succeeds.
func (m *ReservationManager) Reserve(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error) {
	if cmd.CartID == "" || cmd.ProductID == "" {
		return nil, apperrors.InvalidInput("cartId and productId are required")
	}
	if cmd.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be greater than zero")
	}
	if cmd.Quantity > domain.MaxQuantity {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantity))
	}

	price, err := m.quote(ctx, cmd)
	if err != nil {
		reservationsTotal.WithLabelValues(resultFailed).Inc()
		return nil, persistenceFailure(ctx, m.logger, "reserve", err)
	}

	var result *ReserveResult
	err = m.store.WithProductLocks(ctx, []string{cmd.ProductID}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		result, err = m.reserveInTx(ctx, tx, cmd, price, m.now())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			reservationsTotal.WithLabelValues(resultRejected).Inc()
			m.logger.InfoContext(ctx, "reservation rejected",
				slog.String("cart_id", cmd.CartID),
				slog.String("product_id", cmd.ProductID),
				slog.Int("requested", cmd.Quantity),
			)
			return nil, err
		}
		reservationsTotal.WithLabelValues(resultFailed).Inc()
		return nil, persistenceFailure(ctx, m.logger, "reserve", err)
	}

	reservationsTotal.WithLabelValues(resultOK).Inc()
	if err := m.publisher.PublishReserved(ctx, result.Reservation, result.Available); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish reserved event",
			slog.String("reservation_id", result.Reservation.ID),
			slog.String("error", err.Error()),
		)
	}
	m.logger.InfoContext(ctx, "stock reserved",
		slog.String("cart_id", cmd.CartID),
		slog.String("product_id", cmd.ProductID),
		slog.Int("quantity", cmd.Quantity),
		slog.Int("available", result.Available),
	)
	return result, nil
}

// quote looks up the catalog price for a line the cart does not hold yet.
// It returns nil when an active hold already carries a snapshot.
func (m *ReservationManager) quote(ctx context.Context, cmd ReserveCommand) (*decimal.Decimal, error) {
	existing, err := m.store.Reservations().Get(ctx, cmd.CartID, cmd.ProductID)
	switch {
	case err == nil && existing.IsActive(m.now()):
		return nil, nil
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	item, err := m.catalog.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	return &item.UnitPrice, nil
}

func (m *ReservationManager) reserveInTx(ctx context.Context, tx repository.Tx, cmd ReserveCommand, price *decimal.Decimal, now time.Time) (*ReserveResult, error) {
	product, err := tx.Products().Get(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	heldByOthers, err := tx.Reservations().HeldQuantity(ctx, cmd.ProductID, cmd.CartID, now)
	if err != nil {
		return nil, err
	}
	existing, err := tx.Reservations().Get(ctx, cmd.CartID, cmd.ProductID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	active := existing != nil && existing.IsActive(now)

	own := 0
	if active {
		own = existing.Quantity
	}
	if cmd.Quantity > own {
		if !product.Status.Sellable() {
			return nil, apperrors.Conflict(fmt.Sprintf("product %s is %s and cannot be reserved", product.ID, product.Status))
		}
		if cmd.Quantity > product.OnHand-heldByOthers {
			return nil, domain.InsufficientStock(cmd.ProductID, cmd.Quantity, product.Available(heldByOthers+own))
		}
	}

	res := domain.Reservation{
		CartID:    cmd.CartID,
		ProductID: cmd.ProductID,
		Quantity:  cmd.Quantity,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if active {
		res.ID = existing.ID
		res.UnitPrice = existing.UnitPrice
		res.CreatedAt = existing.CreatedAt
	} else {
		res.ID = uuid.New().String()
		res.UnitPrice = product.UnitPrice
		if price != nil {
			res.UnitPrice = *price
		}
		res.CreatedAt = now
	}
	if err := tx.Reservations().Upsert(ctx, &res); err != nil {
		return nil, err
	}

	return &ReserveResult{Reservation: res, Available: product.Available(heldByOthers + cmd.Quantity)}, nil
}

// Release drops holds. Unknown holds are not an error. It returns the number
// of holds removed.
func (m *ReservationManager) Release(ctx context.Context, cmd ReleaseCommand) (int, error) {
	return m.release(ctx, cmd, domain.ReleaseCart)
}

func (m *ReservationManager) release(ctx context.Context, cmd ReleaseCommand, reason string) (int, error) {
	if cmd.CartID == "" {
		return 0, apperrors.InvalidInput("cartId is required")
	}

	var lines []domain.Reservation
	if cmd.ProductID != "" {
		res, err := m.store.Reservations().Get(ctx, cmd.CartID, cmd.ProductID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return 0, nil
			}
			return 0, persistenceFailure(ctx, m.logger, "release", err)
		}
		lines = append(lines, *res)
	} else {
		// The zero time lists expired holds as well.
		active, err := m.store.Reservations().ListByCart(ctx, cmd.CartID, time.Time{})
		if err != nil {
			return 0, persistenceFailure(ctx, m.logger, "release", err)
		}
		lines = active
	}
	if len(lines) == 0 {
		return 0, nil
	}

	ids := make([]string, len(lines))
	for i := range lines {
		ids[i] = lines[i].ProductID
	}

	var released []domain.Reservation
	err := m.store.WithProductLocks(ctx, ids, func(ctx context.Context, tx repository.Tx) error {
		released = released[:0]
		for _, l := range lines {
			ok, err := tx.Reservations().Delete(ctx, l.CartID, l.ProductID)
			if err != nil {
				return err
			}
			if ok {
				released = append(released, l)
			}
		}
		return nil
	})
	if err != nil {
		return 0, persistenceFailure(ctx, m.logger, "release", err)
	}

	m.afterRelease(ctx, released, reason)
	return len(released), nil
}

func (m *ReservationManager) afterRelease(ctx context.Context, released []domain.Reservation, reason string) {
	for _, res := range released {
		reservationsReleased.WithLabelValues(reason).Inc()
		if err := m.publisher.PublishReleased(ctx, res, reason); err != nil {
			m.logger.ErrorContext(ctx, "failed to publish released event",
				slog.String("reservation_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(released) > 0 {
		m.logger.InfoContext(ctx, "reservations released",
			slog.String("cart_id", released[0].CartID),
			slog.Int("count", len(released)),
			slog.String("reason", reason),
		)
	}
}

// Renew pushes the expiry of the cart's active holds to now + TTL. Holds that
// have already expired stay expired.
func (m *ReservationManager) Renew(ctx context.Context, cartID string) (int, error) {
	if cartID == "" {
		return 0, apperrors.InvalidInput("cartId is required")
	}
	now := m.now()
	lines, err := m.store.Reservations().ListByCart(ctx, cartID, now)
	if err != nil {
		return 0, persistenceFailure(ctx, m.logger, "renew", err)
	}
	if len(lines) == 0 {
		return 0, nil
	}
	ids := make([]string, len(lines))
	for i := range lines {
		ids[i] = lines[i].ProductID
	}

	var renewed int
	err = m.store.WithProductLocks(ctx, ids, func(ctx context.Context, tx repository.Tx) error {
		now := m.now()
		var err error
		renewed, err = tx.Reservations().Renew(ctx, cartID, now, now.Add(m.cfg.TTL))
		return err
	})
	if err != nil {
		return 0, persistenceFailure(ctx, m.logger, "renew", err)
	}
	return renewed, nil
}

// Sweep releases expired holds one at a time, each under its own product
// lock, and marks carts left without holds abandoned. It returns the number
// of holds released.
func (m *ReservationManager) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	swept := 0
	emptied := make(map[string]struct{})
	for {
		now := m.now()
		batch, err := m.store.Reservations().ListExpired(ctx, now, m.cfg.SweepBatchSize)
		if err != nil {
			return swept, persistenceFailure(ctx, m.logger, "sweep", err)
		}

		progressed := false
		for _, res := range batch {
			if err := ctx.Err(); err != nil {
				return swept, err
			}
			var deleted bool
			err := m.store.WithProductLocks(ctx, []string{res.ProductID}, func(ctx context.Context, tx repository.Tx) error {
				var err error
				deleted, err = tx.Reservations().DeleteIfExpired(ctx, res.ID, m.now())
				return err
			})
			if err != nil {
				return swept, persistenceFailure(ctx, m.logger, "sweep", err)
			}
			if !deleted {
				continue
			}
			progressed = true
			swept++
			emptied[res.CartID] = struct{}{}
			m.afterRelease(ctx, []domain.Reservation{res}, domain.ReleaseExpired)
		}

		if len(batch) < m.cfg.SweepBatchSize || !progressed {
			break
		}
	}

	for cartID := range emptied {
		m.abandonIfEmpty(ctx, cartID)
	}
	if swept > 0 {
		m.logger.InfoContext(ctx, "expired reservations swept", slog.Int("count", swept))
	}
	return swept, nil
}

func (m *ReservationManager) abandonIfEmpty(ctx context.Context, cartID string) {
	if m.sessions == nil {
		return
	}
	n, err := m.store.Reservations().CountByCart(ctx, cartID)
	if err != nil || n > 0 {
		return
	}
	session, err := m.sessions.Get(ctx, cartID)
	if err != nil {
		return
	}
	if session.Status != domain.CartBuilding {
		return
	}
	if err := session.TransitionTo(domain.CartAbandoned, m.now()); err != nil {
		return
	}
	if err := m.sessions.Save(ctx, session); err != nil {
		m.logger.WarnContext(ctx, "failed to mark cart abandoned",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
	}
}
