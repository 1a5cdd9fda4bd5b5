package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "ecomdwh:notifications"

// Publisher is the part of a redis client used for pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes messages as JSON on a pub/sub channel.
type RedisNotifier struct {
	Client  Publisher
	Channel string
	Now     func() time.Time
}

type redisEnvelope struct {
	Message
	SentAt time.Time `json:"sent_at"`
}

func (n RedisNotifier) Notify(ctx context.Context, msg Message) error {
	if n.Client == nil {
		return &NotificationError{Sink: "redis", Err: errors.New("client is nil")}
	}
	channel := strings.TrimSpace(n.Channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	now := time.Now().UTC()
	if n.Now != nil {
		now = n.Now().UTC()
	}
	payload, err := json.Marshal(redisEnvelope{Message: msg, SentAt: now})
	if err != nil {
		return &NotificationError{Sink: "redis", Err: err}
	}
	if err := n.Client.Publish(ctx, channel, payload).Err(); err != nil {
		return &NotificationError{Sink: "redis", Err: err}
	}
	return nil
}
