package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/service"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
	pkgkafka "github.com/Sumudu01/NayanaPharma/pkg/kafka"
)

// TopicDeliveryReceived is consumed to restock the ledger.
var TopicDeliveryReceived = pkgkafka.Topic("delivery", "received")

// StockLedger is the part of the ledger the consumer needs.
type StockLedger interface {
	AdjustMany(ctx context.Context, cmds []service.AdjustCommand) ([]domain.StockChange, error)
}

// DeliveryLineData is one received product line.
type DeliveryLineData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// DeliveryReceivedData is the expected payload of a delivery.received event.
type DeliveryReceivedData struct {
	DeliveryID string             `json:"delivery_id"`
	SupplierID string             `json:"supplier_id"`
	Lines      []DeliveryLineData `json:"lines"`
}

// Consumer processes incoming Kafka events.
type Consumer struct {
	ledger StockLedger
	logger *slog.Logger
}

// NewConsumer creates an event consumer.
func NewConsumer(ledger StockLedger, logger *slog.Logger) *Consumer {
	return &Consumer{
		ledger: ledger,
		logger: logger,
	}
}

// ErrMalformedDelivery is returned for payloads no retry can fix.
var ErrMalformedDelivery = errors.New("malformed delivery event")

// HandleDeliveryReceived restocks every line of a delivery in one unit of
// work, referencing the delivery id.
func (c *Consumer) HandleDeliveryReceived(ctx context.Context, event *pkgkafka.Event) error {
	var data DeliveryReceivedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal delivery.received data: %w", errors.Join(ErrMalformedDelivery, err))
	}
	if data.DeliveryID == "" || len(data.Lines) == 0 {
		return fmt.Errorf("delivery.received %s: %w", event.EventID, ErrMalformedDelivery)
	}

	c.logger.InfoContext(ctx, "processing delivery.received event",
		slog.String("delivery_id", data.DeliveryID),
		slog.Int("lines", len(data.Lines)),
	)

	cmds := make([]service.AdjustCommand, 0, len(data.Lines))
	for _, l := range data.Lines {
		cmds = append(cmds, service.AdjustCommand{
			ProductID:   l.ProductID,
			Delta:       l.Quantity,
			Kind:        domain.KindRestock,
			ReferenceID: data.DeliveryID,
		})
	}

	if _, err := c.ledger.AdjustMany(ctx, cmds); err != nil {
		// Unknown products and bad quantities never apply; the consumer
		// dead-letters them after its retries.
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrInvalidInput) {
			c.logger.WarnContext(ctx, "unusable delivery",
				slog.String("delivery_id", data.DeliveryID),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("restock delivery %s: %w", data.DeliveryID, errors.Join(ErrMalformedDelivery, err))
		}
		return fmt.Errorf("restock delivery %s: %w", data.DeliveryID, err)
	}

	c.logger.InfoContext(ctx, "delivery restocked",
		slog.String("delivery_id", data.DeliveryID),
	)
	return nil
}
