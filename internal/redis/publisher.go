package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Pusher delivers realtime events to a connected user. Subscribers (the
// dashboard gateway) listen on the per-user channel.
type Pusher interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload any) error
}

type redisPusher struct {
	client *redis.Client
}

func NewRedisPusher(client *redis.Client) Pusher {
	return &redisPusher{client: client}
}

type pushEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (p *redisPusher) Publish(ctx context.Context, userID uuid.UUID, event string, payload any) error {
	data, err := json.Marshal(pushEnvelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	channel := fmt.Sprintf("user:%s", userID.String())
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
