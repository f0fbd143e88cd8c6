package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

func newTestTopics(t *testing.T) (*pubsub.Topic, *pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	orderTopic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	stockTopic, err := client.CreateTopic(ctx, "stock-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return orderTopic, stockTopic, srv
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	orderTopic, stockTopic, srv := newTestTopics(t)

	publisher, err := NewPubSubEventPublisher(orderTopic, stockTopic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 9, 1, 3, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:       "order.created",
		OrderID:    "ord_01TEST",
		UserID:     "user-1",
		Status:     domain.OrderStatusPending,
		OccurredAt: occurredAt,
		Metadata:   map[string]any{"payment_method": "VNPAY"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Type != event.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_01TEST" {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["status"]; attr != "PENDING" {
		t.Fatalf("expected status attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherPublishesStockEvent(t *testing.T) {
	ctx := context.Background()
	orderTopic, stockTopic, srv := newTestTopics(t)

	publisher, err := NewPubSubEventPublisher(orderTopic, stockTopic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.StockEvent{
		Type:       "stock.reserve",
		OrderRef:   "ord_01TEST",
		ProductID:  "prod-1",
		Delta:      3,
		OnHand:     10,
		Reserved:   3,
		OccurredAt: time.Date(2025, 9, 1, 3, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishStockEvent(ctx, event); err != nil {
		t.Fatalf("PublishStockEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["delta"]; attr != "3" {
		t.Fatalf("expected delta attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["productId"]; attr != "prod-1" {
		t.Fatalf("expected productId attribute, got %q", attr)
	}
}
