package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

// CheckoutCommand commits a cart into a sale.
type CheckoutCommand struct {
	CartID         string
	CustomerID     string
	IdempotencyKey string
}

// CheckoutResult is the committed sale. Replayed is set when the sale was
// produced by an earlier request with the same idempotency key.
type CheckoutResult struct {
	Sale     *domain.Sale
	Replayed bool
}

// CheckoutService drives carts through the checkout state machine.
type CheckoutService struct {
	store        repository.Store
	ledger       *Ledger
	reservations *ReservationManager
	sessions     repository.CartSessionStore
	idempotency  repository.IdempotencyStore
	customers    CustomerDirectory
	publisher    EventPublisher
	logger       *slog.Logger
	now          func() time.Time
}

// NewCheckoutService creates a checkout coordinator.
func NewCheckoutService(
	store repository.Store,
	ledger *Ledger,
	reservations *ReservationManager,
	sessions repository.CartSessionStore,
	idempotency repository.IdempotencyStore,
	customers CustomerDirectory,
	publisher EventPublisher,
	logger *slog.Logger,
) *CheckoutService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &CheckoutService{
		store:        store,
		ledger:       ledger,
		reservations: reservations,
		sessions:     sessions,
		idempotency:  idempotency,
		customers:    customers,
		publisher:    publisher,
		logger:       logger,
		now:          utcNow,
	}
}

// loadSession returns the cart's session, starting a new one for unseen carts.
func (s *CheckoutService) loadSession(ctx context.Context, cartID string) (*domain.CartSession, error) {
	session, err := s.sessions.Get(ctx, cartID)
	if err == nil {
		return session, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return domain.NewCartSession(cartID, s.now()), nil
	}
	return nil, persistenceFailure(ctx, s.logger, "load cart session", err)
}

func (s *CheckoutService) saveSession(ctx context.Context, session *domain.CartSession) error {
	if err := s.sessions.Save(ctx, session); err != nil {
		return persistenceFailure(ctx, s.logger, "save cart session", err)
	}
	return nil
}

// AddLine reserves stock for a cart line and renews the cart's other holds.
// A stock rejection is recorded on the session and the cart returns to
// building.
func (s *CheckoutService) AddLine(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error) {
	if cmd.CartID == "" {
		return nil, apperrors.InvalidInput("cartId is required")
	}
	session, err := s.loadSession(ctx, cmd.CartID)
	if err != nil {
		return nil, err
	}
	if err := session.AcceptsChanges(); err != nil {
		return nil, err
	}
	if err := session.TransitionTo(domain.CartReserving, s.now()); err != nil {
		return nil, err
	}

	result, reserveErr := s.reservations.Reserve(ctx, cmd)
	if reserveErr != nil {
		var appErr *apperrors.AppError
		if errors.As(reserveErr, &appErr) && appErr.Code == domain.CodeInsufficientStock {
			details, _ := appErr.Details.(domain.InsufficientStockDetails)
			_ = session.Reject(domain.CodeInsufficientStock, []domain.RejectedLine{{
				ProductID: details.ProductID,
				Requested: details.Requested,
				Available: details.Available,
				Reason:    domain.ReasonInsufficientStock,
			}}, s.now())
		} else {
			_ = session.TransitionTo(domain.CartBuilding, s.now())
		}
		if err := s.saveSession(ctx, session); err != nil {
			s.logger.WarnContext(ctx, "failed to save cart session after rejected line",
				slog.String("cart_id", cmd.CartID),
				slog.String("error", err.Error()),
			)
		}
		return nil, reserveErr
	}

	if _, err := s.reservations.Renew(ctx, cmd.CartID); err != nil {
		s.logger.WarnContext(ctx, "failed to renew cart holds",
			slog.String("cart_id", cmd.CartID),
			slog.String("error", err.Error()),
		)
	}
	if err := session.TransitionTo(domain.CartBuilding, s.now()); err != nil {
		return nil, err
	}
	if err := s.saveAfterReserve(ctx, session, cmd); err != nil {
		return nil, err
	}
	return result, nil
}

// saveAfterReserve stores the session once a line is held. If another line
// edit saved first the stored session already reads building and the hold
// stands. If a checkout got there first the cart no longer accepts changes,
// and a hold taken after completion is handed back.
func (s *CheckoutService) saveAfterReserve(ctx context.Context, session *domain.CartSession, cmd ReserveCommand) error {
	err := s.sessions.Save(ctx, session)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrConflict) {
		return persistenceFailure(ctx, s.logger, "save cart session", err)
	}

	current, getErr := s.sessions.Get(ctx, session.CartID)
	if getErr != nil {
		return err
	}
	rejectErr := current.AcceptsChanges()
	if rejectErr == nil {
		return nil
	}
	if current.Status == domain.CartCompleted {
		if _, relErr := s.reservations.Release(ctx, ReleaseCommand{CartID: cmd.CartID, ProductID: cmd.ProductID}); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release hold on completed cart",
				slog.String("cart_id", cmd.CartID),
				slog.String("product_id", cmd.ProductID),
				slog.String("error", relErr.Error()),
			)
		}
	}
	return rejectErr
}

// UpdateLineQuantity sets an existing line to an absolute quantity of at
// least one. Use RemoveLine to drop a line.
func (s *CheckoutService) UpdateLineQuantity(ctx context.Context, cartID, productID string, quantity int) (*ReserveResult, error) {
	if quantity < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1; remove the line instead")
	}
	if _, err := s.store.Reservations().Get(ctx, cartID, productID); err != nil {
		return nil, persistenceFailure(ctx, s.logger, "update line", err)
	}
	return s.AddLine(ctx, ReserveCommand{CartID: cartID, ProductID: productID, Quantity: quantity})
}

// RemoveLine releases one line. Removing an unknown line is a no-op.
func (s *CheckoutService) RemoveLine(ctx context.Context, cmd ReleaseCommand) (int, error) {
	if cmd.ProductID == "" {
		return 0, apperrors.InvalidInput("productId is required")
	}
	return s.reservations.Release(ctx, cmd)
}

// ClearCart releases every line of the cart.
func (s *CheckoutService) ClearCart(ctx context.Context, cartID string) (int, error) {
	return s.reservations.Release(ctx, ReleaseCommand{CartID: cartID})
}

// RenewCart extends the cart's active holds.
func (s *CheckoutService) RenewCart(ctx context.Context, cartID string) (int, error) {
	return s.reservations.Renew(ctx, cartID)
}

// GetCart returns the session with its active lines and total.
func (s *CheckoutService) GetCart(ctx context.Context, cartID string) (*domain.CartView, error) {
	lines, err := s.store.Reservations().ListByCart(ctx, cartID, s.now())
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "get cart", err)
	}
	session, err := s.sessions.Get(ctx, cartID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, persistenceFailure(ctx, s.logger, "get cart", err)
		}
		if len(lines) == 0 {
			return nil, apperrors.NotFound("cart", cartID)
		}
		session = domain.NewCartSession(cartID, lines[0].CreatedAt)
	}
	view := domain.NewCartView(*session, lines)
	return &view, nil
}

// Checkout re-validates every line under the product locks and, if all
// pass, decrements the ledger, records the sale and drops the holds in one
// unit of work. Any failing line rejects the whole checkout and leaves the
// holds untouched.
func (s *CheckoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error) {
	if cmd.CartID == "" {
		return nil, apperrors.InvalidInput("cartId is required")
	}

	if cmd.IdempotencyKey != "" {
		if res, err := s.replay(ctx, cmd.IdempotencyKey); res != nil || err != nil {
			return res, err
		}
	}

	if cmd.CustomerID != "" {
		if _, err := s.customers.GetCustomer(ctx, cmd.CustomerID); err != nil {
			return nil, persistenceFailure(ctx, s.logger, "resolve customer", err)
		}
	}

	session, err := s.loadSession(ctx, cmd.CartID)
	if err != nil {
		return nil, err
	}
	if err := session.AcceptsChanges(); err != nil {
		return nil, err
	}

	lines, err := s.store.Reservations().ListByCart(ctx, cmd.CartID, s.now())
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "checkout", err)
	}
	if len(lines) == 0 {
		return nil, apperrors.NotFound("cart lines", cmd.CartID)
	}

	if err := session.TransitionTo(domain.CartCommitting, s.now()); err != nil {
		return nil, err
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}

	start := time.Now()
	sale, changes, released, commitErr := s.commit(ctx, cmd, lines)
	checkoutDuration.Observe(time.Since(start).Seconds())

	if commitErr != nil {
		return nil, s.abortCheckout(ctx, session, commitErr)
	}

	checkoutsTotal.WithLabelValues(resultOK).Inc()
	for _, change := range changes {
		s.ledger.notify(ctx, change)
	}
	s.reservations.afterRelease(ctx, released, domain.ReleaseCheckout)
	if err := s.publisher.PublishSaleCompleted(ctx, sale); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish sale completed event",
			slog.String("sale_id", sale.ID),
			slog.String("error", err.Error()),
		)
	}

	session.SaleID = sale.ID
	session.CustomerID = cmd.CustomerID
	session.LastRejection = nil
	if err := session.TransitionTo(domain.CartCompleted, s.now()); err == nil {
		if err := s.sessions.Save(ctx, session); err != nil {
			s.logger.WarnContext(ctx, "failed to mark cart completed",
				slog.String("cart_id", cmd.CartID),
				slog.String("error", err.Error()),
			)
		}
	}
	if cmd.IdempotencyKey != "" {
		if err := s.idempotency.Remember(ctx, cmd.IdempotencyKey, sale.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to record idempotency key",
				slog.String("sale_id", sale.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("cart_id", cmd.CartID),
		slog.String("sale_id", sale.ID),
		slog.Int("lines", len(sale.Lines)),
		slog.String("total", sale.TotalAmount.StringFixed(2)),
	)
	return &CheckoutResult{Sale: sale}, nil
}

// replay returns the sale an earlier checkout with key produced, or nil.
func (s *CheckoutService) replay(ctx context.Context, key string) (*CheckoutResult, error) {
	saleID, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "lookup idempotency key", err)
	}
	if saleID == "" {
		return nil, nil
	}
	sale, err := s.store.Sales().Get(ctx, saleID)
	if err != nil {
		return nil, persistenceFailure(ctx, s.logger, "replay checkout", err)
	}
	checkoutsTotal.WithLabelValues(resultReplayed).Inc()
	return &CheckoutResult{Sale: sale, Replayed: true}, nil
}

func (s *CheckoutService) commit(ctx context.Context, cmd CheckoutCommand, lines []domain.Reservation) (*domain.Sale, []domain.StockChange, []domain.Reservation, error) {
	locked := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		locked[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}

	saleID := uuid.New().String()
	var (
		sale    *domain.Sale
		changes []domain.StockChange
		current []domain.Reservation
	)
	err := s.store.WithProductLocks(ctx, ids, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()
		var err error
		current, err = tx.Reservations().ListByCart(ctx, cmd.CartID, now)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			return apperrors.NotFound("cart lines", cmd.CartID)
		}
		for _, l := range current {
			if _, ok := locked[l.ProductID]; !ok {
				return apperrors.Conflict(fmt.Sprintf("cart %s changed during checkout, retry", cmd.CartID))
			}
		}

		if rejected, err := s.revalidate(ctx, tx, current, now); err != nil {
			return err
		} else if len(rejected) > 0 {
			return domain.CheckoutRejected(rejected)
		}

		changes = changes[:0]
		for _, l := range current {
			change, err := s.ledger.adjustInTx(ctx, tx, AdjustCommand{
				ProductID:   l.ProductID,
				Delta:       -l.Quantity,
				Kind:        domain.KindSale,
				ReferenceID: saleID,
			}, now)
			if err != nil {
				return err
			}
			changes = append(changes, *change)
		}

		saleLines := domain.SaleLinesFromReservations(current)
		total := domain.ComputeTotal(saleLines)
		if err := domain.ValidateTotal(total); err != nil {
			return err
		}
		sale = &domain.Sale{
			ID:          saleID,
			CartID:      cmd.CartID,
			CustomerID:  cmd.CustomerID,
			Lines:       saleLines,
			TotalAmount: total,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Sales().Create(ctx, sale); err != nil {
			return err
		}

		for _, l := range current {
			if _, err := tx.Reservations().Delete(ctx, l.CartID, l.ProductID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return sale, changes, current, nil
}

// revalidate checks every line against stock held by other carts and the
// product lifecycle, collecting every offending line.
func (s *CheckoutService) revalidate(ctx context.Context, tx repository.Tx, lines []domain.Reservation, now time.Time) ([]domain.RejectedLine, error) {
	var rejected []domain.RejectedLine
	for _, l := range lines {
		p, err := tx.Products().Get(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				rejected = append(rejected, domain.RejectedLine{
					ProductID: l.ProductID, Requested: l.Quantity, Reason: domain.ReasonProductMissing,
				})
				continue
			}
			return nil, err
		}
		heldByOthers, err := tx.Reservations().HeldQuantity(ctx, l.ProductID, l.CartID, now)
		if err != nil {
			return nil, err
		}
		available := p.Available(heldByOthers)
		switch {
		case !p.Status.Sellable():
			rejected = append(rejected, domain.RejectedLine{
				ProductID: l.ProductID, Requested: l.Quantity, Available: available, Reason: domain.ReasonProductExpired,
			})
		case l.Quantity > available:
			rejected = append(rejected, domain.RejectedLine{
				ProductID: l.ProductID, Requested: l.Quantity, Available: available, Reason: domain.ReasonInsufficientStock,
			})
		}
	}
	return rejected, nil
}

// abortCheckout returns the cart to building after a failed commit and maps
// the error.
func (s *CheckoutService) abortCheckout(ctx context.Context, session *domain.CartSession, commitErr error) error {
	var appErr *apperrors.AppError
	if errors.As(commitErr, &appErr) && appErr.Code == domain.CodeCheckoutRejected {
		checkoutsTotal.WithLabelValues(resultRejected).Inc()
		details, _ := appErr.Details.(domain.CheckoutRejectedDetails)
		_ = session.Reject(domain.CodeCheckoutRejected, details.Lines, s.now())
		s.logger.InfoContext(ctx, "checkout rejected",
			slog.String("cart_id", session.CartID),
			slog.Int("offending_lines", len(details.Lines)),
		)
	} else {
		checkoutsTotal.WithLabelValues(resultFailed).Inc()
		_ = session.TransitionTo(domain.CartBuilding, s.now())
	}

	// A stale version means another request moved the cart on; its state wins.
	if err := s.sessions.Save(ctx, session); err != nil {
		s.logger.WarnContext(ctx, "failed to reset cart session",
			slog.String("cart_id", session.CartID),
			slog.String("error", err.Error()),
		)
	}
	return persistenceFailure(ctx, s.logger, "checkout", commitErr)
}
