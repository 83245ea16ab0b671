package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
)

const channelPrefix = "notifications:"

func channelFor(principalID uuid.UUID) string {
	return channelPrefix + principalID.String()
}

// RedisPublisher is the live channel when several API instances run: it
// publishes to the recipient's Redis channel and every instance's Bridge
// forwards to its local connections.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Name() string { return "live" }

func (p *RedisPublisher) Send(ctx context.Context, recipientID uuid.UUID, payload notify.Payload) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	// zero receivers means the recipient is offline everywhere; not an error
	if err := p.client.Publish(ctx, channelFor(recipientID), data).Err(); err != nil {
		return fmt.Errorf("publish live notification: %w", err)
	}
	return nil
}

var _ notify.Channel = (*RedisPublisher)(nil)

// Bridge feeds messages published on notifications:* into the local Hub.
type Bridge struct {
	client redis.UniversalClient
	hub    *Hub
	logger zerolog.Logger
}

func NewBridge(client redis.UniversalClient, hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{client: client, hub: hub, logger: logger}
}

// Run subscribes and forwards until ctx is cancelled. ready, if non-nil, is
// closed once the subscription is confirmed.
func (b *Bridge) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe live notifications: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
			if err != nil {
				b.logger.Warn().Str("channel", msg.Channel).Msg("ignoring live message on malformed channel")
				continue
			}
			b.hub.Deliver(id, []byte(msg.Payload))
		}
	}
}
