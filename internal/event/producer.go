package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	pkgkafka "github.com/Sumudu01/NayanaPharma/pkg/kafka"
	"github.com/Sumudu01/NayanaPharma/pkg/logger"
)

// Topics produced by the stock service.
var (
	TopicStockChanged  = pkgkafka.Topic("inventory", "stock_changed")
	TopicReserved      = pkgkafka.Topic("inventory", "reserved")
	TopicReleased      = pkgkafka.Topic("inventory", "released")
	TopicLowStock      = pkgkafka.Topic("inventory", "low_stock")
	TopicSaleCompleted = pkgkafka.Topic("sale", "completed")
)

// Aggregate types.
const (
	AggregateTypeProduct = "product"
	AggregateTypeSale    = "sale"
)

// SourceStockService identifies events originating here.
const SourceStockService = "nayana-pharma"

// StockChangedData is the payload for a stock_changed event.
type StockChangedData struct {
	ProductID         string `json:"product_id"`
	Kind              string `json:"kind"`
	Delta             int    `json:"delta"`
	OnHand            int    `json:"on_hand"`
	Sold              int    `json:"sold"`
	Available         int    `json:"available"`
	PreviousAvailable int    `json:"previous_available"`
	ReferenceID       string `json:"reference_id,omitempty"`
}

// ReservedData is the payload for a reserved event.
type ReservedData struct {
	ReservationID string `json:"reservation_id"`
	CartID        string `json:"cart_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Available     int    `json:"available"`
	ExpiresAt     string `json:"expires_at"`
}

// ReleasedData is the payload for a released event.
type ReleasedData struct {
	ReservationID string `json:"reservation_id"`
	CartID        string `json:"cart_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
}

// LowStockData is the payload for a low_stock event.
type LowStockData struct {
	ProductID         string `json:"product_id"`
	Name              string `json:"name"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// SaleLineData is one line of a sale.completed payload.
type SaleLineData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// SaleCompletedData is the payload for a sale.completed event.
type SaleCompletedData struct {
	SaleID      string         `json:"sale_id"`
	CartID      string         `json:"cart_id"`
	CustomerID  string         `json:"customer_id,omitempty"`
	TotalAmount string         `json:"total_amount"`
	Lines       []SaleLineData `json:"lines"`
}

// Producer publishes stock domain events to Kafka.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates an event producer.
func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStockService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
		slog.String("event_id", event.EventID),
	)
	return nil
}

// PublishStockChanged publishes a stock_changed event.
func (p *Producer) PublishStockChanged(ctx context.Context, change domain.StockChange) error {
	return p.publish(ctx, TopicStockChanged, change.ProductID, AggregateTypeProduct, StockChangedData{
		ProductID:         change.ProductID,
		Kind:              string(change.Kind),
		Delta:             change.Delta,
		OnHand:            change.OnHand,
		Sold:              change.Sold,
		Available:         change.Available,
		PreviousAvailable: change.PreviousAvailable,
		ReferenceID:       change.ReferenceID,
	})
}

// PublishReserved publishes a reserved event.
func (p *Producer) PublishReserved(ctx context.Context, res domain.Reservation, available int) error {
	return p.publish(ctx, TopicReserved, res.ProductID, AggregateTypeProduct, ReservedData{
		ReservationID: res.ID,
		CartID:        res.CartID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		Available:     available,
		ExpiresAt:     res.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// PublishReleased publishes a released event.
func (p *Producer) PublishReleased(ctx context.Context, res domain.Reservation, reason string) error {
	return p.publish(ctx, TopicReleased, res.ProductID, AggregateTypeProduct, ReleasedData{
		ReservationID: res.ID,
		CartID:        res.CartID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		Reason:        reason,
	})
}

// PublishLowStock publishes a low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, alert domain.StockAlert, threshold int) error {
	return p.publish(ctx, TopicLowStock, alert.ProductID, AggregateTypeProduct, LowStockData{
		ProductID:         alert.ProductID,
		Name:              alert.Name,
		Available:         alert.Available,
		LowStockThreshold: threshold,
	})
}

// PublishSaleCompleted publishes a sale.completed event.
func (p *Producer) PublishSaleCompleted(ctx context.Context, sale *domain.Sale) error {
	lines := make([]SaleLineData, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		lines = append(lines, SaleLineData{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
		})
	}
	return p.publish(ctx, TopicSaleCompleted, sale.ID, AggregateTypeSale, SaleCompletedData{
		SaleID:      sale.ID,
		CartID:      sale.CartID,
		CustomerID:  sale.CustomerID,
		TotalAmount: sale.TotalAmount.StringFixed(2),
		Lines:       lines,
	})
}
