package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository/memory"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockPublisher records published events.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishStockChanged(ctx context.Context, change domain.StockChange) error {
	return m.Called(ctx, change).Error(0)
}

func (m *mockPublisher) PublishReserved(ctx context.Context, res domain.Reservation, available int) error {
	return m.Called(ctx, res, available).Error(0)
}

func (m *mockPublisher) PublishReleased(ctx context.Context, res domain.Reservation, reason string) error {
	return m.Called(ctx, res, reason).Error(0)
}

func (m *mockPublisher) PublishLowStock(ctx context.Context, alert domain.StockAlert, threshold int) error {
	return m.Called(ctx, alert, threshold).Error(0)
}

func (m *mockPublisher) PublishSaleCompleted(ctx context.Context, sale *domain.Sale) error {
	return m.Called(ctx, sale).Error(0)
}

func newMockPublisher() *mockPublisher {
	p := &mockPublisher{}
	p.On("PublishStockChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishReserved", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishReleased", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishLowStock", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishSaleCompleted", mock.Anything, mock.Anything).Return(nil).Maybe()
	return p
}

// storeCatalog prices lines from the ledger's own products.
type storeCatalog struct {
	store *memory.Store
}

func (c storeCatalog) GetProduct(ctx context.Context, id string) (*domain.CatalogItem, error) {
	p, err := c.store.Products().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.CatalogItemFromProduct(p), nil
}

type customerSet map[string]bool

func (c customerSet) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	if !c[id] {
		return nil, apperrors.NotFound("customer", id)
	}
	return &domain.Customer{ID: id, Name: id}, nil
}

type fixture struct {
	store        *memory.Store
	sessions     *memory.CartSessionStore
	idempotency  *memory.IdempotencyStore
	publisher    *mockPublisher
	clock        *testClock
	ledger       *Ledger
	reservations *ReservationManager
	checkout     *CheckoutService
	sales        *SalesService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       memory.NewStore(),
		sessions:    memory.NewCartSessionStore(24 * time.Hour),
		idempotency: memory.NewIdempotencyStore(24 * time.Hour),
		publisher:   newMockPublisher(),
		clock:       &testClock{t: epoch},
	}
	logger := testLogger()

	f.ledger = NewLedger(f.store, f.publisher, logger)
	f.ledger.now = f.clock.Now
	f.reservations = NewReservationManager(f.store, storeCatalog{f.store}, f.sessions, f.publisher, logger,
		ReservationConfig{TTL: 15 * time.Minute, SweepBatchSize: 2})
	f.reservations.now = f.clock.Now
	f.checkout = NewCheckoutService(f.store, f.ledger, f.reservations, f.sessions, f.idempotency,
		customerSet{"cust-1": true}, f.publisher, logger)
	f.checkout.now = f.clock.Now
	f.sales = NewSalesService(f.store, f.ledger, DeleteRetain, logger)
	f.sales.now = f.clock.Now
	return f
}

func (f *fixture) register(t *testing.T, id, price string, stock int) {
	t.Helper()
	_, err := f.ledger.RegisterProduct(context.Background(), RegisterProductCommand{
		ID: id, Name: id, UnitPrice: decimal.RequireFromString(price), InitialStock: stock,
	})
	require.NoError(t, err)
}

func (f *fixture) available(t *testing.T, id string) int {
	t.Helper()
	n, err := f.ledger.GetAvailable(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (f *fixture) onHand(t *testing.T, id string) int {
	t.Helper()
	level, err := f.ledger.GetStock(context.Background(), id)
	require.NoError(t, err)
	return level.OnHand
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

// interleavedSessions runs then once, just before the first save that
// matches when, to stand in for a request that wrote the session between
// another request's read and write.
type interleavedSessions struct {
	*memory.CartSessionStore
	when func(*domain.CartSession) bool
	then func()
}

func (s *interleavedSessions) Save(ctx context.Context, session *domain.CartSession) error {
	if s.then != nil && (s.when == nil || s.when(session)) {
		then := s.then
		s.then = nil
		then()
	}
	return s.CartSessionStore.Save(ctx, session)
}

// completeCart marks a stored session checked out as another request would.
func completeCart(t *testing.T, sessions *memory.CartSessionStore, cartID string) {
	t.Helper()
	ctx := context.Background()
	current, err := sessions.Get(ctx, cartID)
	require.NoError(t, err)
	require.NoError(t, current.TransitionTo(domain.CartCommitting, epoch))
	require.NoError(t, current.TransitionTo(domain.CartCompleted, epoch))
	current.SaleID = "sale-elsewhere"
	require.NoError(t, sessions.Save(ctx, current))
}
