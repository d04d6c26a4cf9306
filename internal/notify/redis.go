package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/scheduler"
)

const (
	// ChannelPrefix is prepended to the owner id to form the pub/sub channel.
	ChannelPrefix  = "labscheduler:owner:"
	publishTimeout = 5 * time.Second
)

// PubSubClient is the subset of *redis.Client used for owner channels.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisPublisher relays owner messages between service instances.
type RedisPublisher struct {
	client PubSubClient
	logger *slog.Logger
}

// NewRedisPublisher creates a Redis pub/sub bridge for owner notifications.
func NewRedisPublisher(client PubSubClient, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, logger: logger.With("component", "notify.redis")}
}

// Channel returns the pub/sub channel of an owner.
func Channel(ownerID string) string {
	return ChannelPrefix + ownerID
}

// Publish sends msg on the owner's channel.
func (r *RedisPublisher) Publish(ctx context.Context, ownerID string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, Channel(ownerID), body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel(ownerID), err)
	}
	return nil
}

// NotifyOwner implements application.Notifier.
func (r *RedisPublisher) NotifyOwner(ctx context.Context, event scheduler.Event, change application.ChangeSummary) error {
	msg, err := NewMessage(change)
	if err != nil {
		return err
	}
	return r.Publish(ctx, event.OwnerID, msg)
}

// Subscribe calls handler for every message published on the owner's
// channel until cancel is called.
func (r *RedisPublisher) Subscribe(ownerID string, handler func(Message)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					r.logger.Warn("dropping malformed message", "channel", raw.Channel, "error", err)
					continue
				}
				handler(msg)
			}
		}
	}()
	return cancelCtx, nil
}
