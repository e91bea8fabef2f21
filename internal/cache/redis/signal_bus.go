package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// SignalBus publishes view updates on Redis Pub/Sub. Channel names are
// prefixed so several deployments can share one Redis.
type SignalBus struct {
	rdb    *redis.Client
	prefix string
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, prefix string) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), prefix: prefix}
}

// Publish sends payload to the prefixed channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	ch := sb.prefix + channel
	if err := sb.rdb.Publish(ctx, ch, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ch, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
