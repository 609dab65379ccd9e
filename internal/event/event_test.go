package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository/memory"
	"github.com/Sumudu01/NayanaPharma/internal/service"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	pkgkafka "github.com/Sumudu01/NayanaPharma/pkg/kafka"
	"github.com/Sumudu01/NayanaPharma/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockKafka struct {
	mock.Mock
}

func (m *mockKafka) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	return m.Called(ctx, topic, event).Error(0)
}

func capture(t *testing.T, k *mockKafka, topic string) *pkgkafka.Event {
	t.Helper()
	for _, call := range k.Calls {
		if call.Arguments.String(1) == topic {
			return call.Arguments.Get(2).(*pkgkafka.Event)
		}
	}
	t.Fatalf("no event published to %s", topic)
	return nil
}

func TestProducer_Topics(t *testing.T) {
	assert.Equal(t, "pharmacy.inventory.stock_changed", TopicStockChanged)
	assert.Equal(t, "pharmacy.inventory.reserved", TopicReserved)
	assert.Equal(t, "pharmacy.inventory.released", TopicReleased)
	assert.Equal(t, "pharmacy.inventory.low_stock", TopicLowStock)
	assert.Equal(t, "pharmacy.sale.completed", TopicSaleCompleted)
	assert.Equal(t, "pharmacy.delivery.received", TopicDeliveryReceived)
}

func TestProducer_PublishStockChanged(t *testing.T) {
	k := &mockKafka{}
	k.On("Publish", mock.Anything, TopicStockChanged, mock.Anything).Return(nil)
	p := NewProducer(k, discardLogger())

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	err := p.PublishStockChanged(ctx, domain.StockChange{
		ProductID: "para-500", Kind: domain.KindSale, Delta: -4, OnHand: 6, Sold: 4, Available: 6, PreviousAvailable: 6, ReferenceID: "sale-1",
	})
	require.NoError(t, err)

	event := capture(t, k, TopicStockChanged)
	assert.Equal(t, "para-500", event.AggregateID)
	assert.Equal(t, AggregateTypeProduct, event.AggregateType)
	assert.Equal(t, SourceStockService, event.Source)
	assert.Equal(t, "corr-1", event.CorrelationID)

	var data StockChangedData
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, "sale", data.Kind)
	assert.Equal(t, -4, data.Delta)
	assert.Equal(t, "sale-1", data.ReferenceID)
}

func TestProducer_PublishReservedAndReleased(t *testing.T) {
	k := &mockKafka{}
	k.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	p := NewProducer(k, discardLogger())
	ctx := context.Background()

	res := domain.Reservation{
		ID: "r-1", CartID: "C1", ProductID: "P1", Quantity: 4,
		ExpiresAt: time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishReserved(ctx, res, 6))
	require.NoError(t, p.PublishReleased(ctx, res, domain.ReleaseExpired))

	var reserved ReservedData
	require.NoError(t, capture(t, k, TopicReserved).UnmarshalData(&reserved))
	assert.Equal(t, ReservedData{
		ReservationID: "r-1", CartID: "C1", ProductID: "P1", Quantity: 4, Available: 6, ExpiresAt: "2024-06-01T09:15:00Z",
	}, reserved)

	var released ReleasedData
	require.NoError(t, capture(t, k, TopicReleased).UnmarshalData(&released))
	assert.Equal(t, "expired", released.Reason)
}

func TestProducer_PublishLowStockAndSale(t *testing.T) {
	k := &mockKafka{}
	k.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	p := NewProducer(k, discardLogger())
	ctx := context.Background()

	require.NoError(t, p.PublishLowStock(ctx, domain.StockAlert{ProductID: "P1", Name: "Paracetamol", Available: 3}, 10))
	var low LowStockData
	require.NoError(t, capture(t, k, TopicLowStock).UnmarshalData(&low))
	assert.Equal(t, 10, low.LowStockThreshold)

	sale := &domain.Sale{
		ID: "s-1", CartID: "C1",
		Lines:       []domain.SaleLine{{ProductID: "P1", Quantity: 4, UnitPrice: decimal.RequireFromString("2.5")}},
		TotalAmount: decimal.RequireFromString("10"),
	}
	require.NoError(t, p.PublishSaleCompleted(ctx, sale))
	event := capture(t, k, TopicSaleCompleted)
	assert.Equal(t, AggregateTypeSale, event.AggregateType)

	var data SaleCompletedData
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, "10.00", data.TotalAmount)
	require.Len(t, data.Lines, 1)
	assert.Equal(t, "2.50", data.Lines[0].UnitPrice)
}

func TestProducer_PublishError(t *testing.T) {
	k := &mockKafka{}
	k.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("leader not available"))
	p := NewProducer(k, discardLogger())

	err := p.PublishReleased(context.Background(), domain.Reservation{ProductID: "P1"}, domain.ReleaseCart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

// Producer must satisfy the service's publisher port.
var _ service.EventPublisher = (*Producer)(nil)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) AdjustMany(ctx context.Context, cmds []service.AdjustCommand) ([]domain.StockChange, error) {
	args := m.Called(ctx, cmds)
	changes, _ := args.Get(0).([]domain.StockChange)
	return changes, args.Error(1)
}

func deliveryEvent(t *testing.T, data any) *pkgkafka.Event {
	t.Helper()
	event, err := pkgkafka.NewEvent(TopicDeliveryReceived, "d-1", "delivery", "supplier-portal", data)
	require.NoError(t, err)
	return event
}

func TestConsumer_HandleDeliveryReceived(t *testing.T) {
	ledger := &mockLedger{}
	ledger.On("AdjustMany", mock.Anything, []service.AdjustCommand{
		{ProductID: "P1", Delta: 10, Kind: domain.KindRestock, ReferenceID: "d-1"},
		{ProductID: "P2", Delta: 5, Kind: domain.KindRestock, ReferenceID: "d-1"},
	}).Return([]domain.StockChange{}, nil).Once()
	c := NewConsumer(ledger, discardLogger())

	err := c.HandleDeliveryReceived(context.Background(), deliveryEvent(t, DeliveryReceivedData{
		DeliveryID: "d-1",
		Lines:      []DeliveryLineData{{ProductID: "P1", Quantity: 10}, {ProductID: "P2", Quantity: 5}},
	}))
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestConsumer_MalformedPayload(t *testing.T) {
	c := NewConsumer(&mockLedger{}, discardLogger())

	event := deliveryEvent(t, nil)
	event.Data = json.RawMessage(`{"delivery_id":`)
	assert.ErrorIs(t, c.HandleDeliveryReceived(context.Background(), event), ErrMalformedDelivery)

	err := c.HandleDeliveryReceived(context.Background(), deliveryEvent(t, DeliveryReceivedData{DeliveryID: "d-1"}))
	assert.ErrorIs(t, err, ErrMalformedDelivery)
}

func TestConsumer_UnknownProductIsMalformed(t *testing.T) {
	ledger := &mockLedger{}
	ledger.On("AdjustMany", mock.Anything, mock.Anything).Return(nil, apperrors.NotFound("product", "ghost"))
	c := NewConsumer(ledger, discardLogger())

	err := c.HandleDeliveryReceived(context.Background(), deliveryEvent(t, DeliveryReceivedData{
		DeliveryID: "d-1", Lines: []DeliveryLineData{{ProductID: "ghost", Quantity: 1}},
	}))
	assert.ErrorIs(t, err, ErrMalformedDelivery)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConsumer_RedeliveryRestocksOnce(t *testing.T) {
	store := memory.NewStore()
	ledger := service.NewLedger(store, nil, discardLogger())
	ctx := context.Background()
	_, err := ledger.RegisterProduct(ctx, service.RegisterProductCommand{
		ID: "P1", Name: "Paracetamol", UnitPrice: decimal.RequireFromString("2.50"), InitialStock: 2,
	})
	require.NoError(t, err)

	c := NewConsumer(ledger, discardLogger())
	handler := pkgkafka.IdempotentHandler(pkgkafka.NewMemoryIdempotencyStore(time.Hour), c.HandleDeliveryReceived, discardLogger())

	event := deliveryEvent(t, DeliveryReceivedData{
		DeliveryID: "d-1", Lines: []DeliveryLineData{{ProductID: "P1", Quantity: 8}},
	})
	require.NoError(t, handler(ctx, event))
	require.NoError(t, handler(ctx, event))

	level, err := ledger.GetStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, level.OnHand)
}
