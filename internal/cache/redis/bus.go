package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openarb/arbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Pub/Sub channels consumed by external dashboards.
const (
	channelOpportunities = "arbot:opportunities"
	channelTrades        = "arbot:trades"
)

// Bus publishes core events to Redis Pub/Sub so out-of-process consumers can
// follow detections and executions live. Implements the event bus Sink
// contract.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus backed by the given Client.
func NewBus(c *Client) *Bus {
	return &Bus{rdb: c.Underlying()}
}

// Name identifies the sink in bus logs.
func (b *Bus) Name() string { return "redis" }

// Handle publishes the event as JSON. Detections go to the opportunities
// channel, executions and failures to the trades channel.
func (b *Bus) Handle(ctx context.Context, ev domain.Event) error {
	channel := channelTrades
	if ev.Type == domain.EventOpportunityDetected {
		channel = channelOpportunities
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}
