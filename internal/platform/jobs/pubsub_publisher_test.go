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

	"github.com/oakmarket/api/internal/services"
)

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	createdAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := services.OrderCreatedMessage{
		OrderID:           "01HZXTESTORDER",
		OrderNumber:       "20260314-4821",
		PaymentReference:  "pi_test_123",
		CheckoutSessionID: "cs_test_456",
		Currency:          "usd",
		Total:             112.49,
		CreatedAt:         createdAt,
	}

	if _, err := publisher.PublishOrderCreated(ctx, msg); err != nil {
		t.Fatalf("PublishOrderCreated: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderCreatedMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.PaymentReference != msg.PaymentReference {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.created" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["paymentReference"]; attr != "pi_test_123" {
		t.Fatalf("expected payment reference attribute, got %q", attr)
	}
}
