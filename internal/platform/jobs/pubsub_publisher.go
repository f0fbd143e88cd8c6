package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/choocapi/ecommerce-backend/internal/services"
)

// PubSubEventPublisher publishes order and stock lifecycle events to Pub/Sub
// topics for downstream consumers (notifications, analytics, reporting).
type PubSubEventPublisher struct {
	orderTopic *pubsub.Topic
	stockTopic *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. Both
// topics are required; pass the same topic twice to share one stream.
func NewPubSubEventPublisher(orderTopic, stockTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil {
		return nil, errors.New("pubsub event publisher: order topic is required")
	}
	if stockTopic == nil {
		return nil, errors.New("pubsub event publisher: stock topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic: orderTopic,
		stockTopic: stockTopic,
		marshal:    json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event on the order topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orderTopic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", string(event.Status))

	result := p.orderTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PublishStockEvent enqueues a stock ledger event on the stock topic.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	if p == nil || p.stockTopic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderRef", event.OrderRef)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "delta", strconv.Itoa(event.Delta))

	result := p.stockTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish stock event: %w", err)
	}
	return nil
}

var (
	_ services.OrderEventPublisher = (*PubSubEventPublisher)(nil)
	_ services.StockEventPublisher = (*PubSubEventPublisher)(nil)
)

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
