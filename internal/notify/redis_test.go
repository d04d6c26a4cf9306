package notify

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	addr := os.Getenv("LAB_SCHEDULER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LAB_SCHEDULER_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	publisher := NewRedisPublisher(client, slog.New(slog.DiscardHandler))
	received := make(chan Message, 1)
	cancel, err := publisher.Subscribe("owner-1", func(msg Message) { received <- msg })
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer cancel()

	if err := publisher.NotifyOwner(context.Background(), testEvent, testChange()); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Event != "proposal_submitted" {
			t.Fatalf("unexpected event %q", msg.Event)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}
