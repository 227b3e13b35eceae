package realtime

import (
	"context"
	"fmt"

	"go-chat-sync/internal/chat"

	"github.com/redis/go-redis/v9"
)

// Publisher announces stored messages on their conversation's channel.
type Publisher struct {
	redis  *redis.Client
	prefix string
}

func NewPublisher(redisClient *redis.Client, prefix string) *Publisher {
	return &Publisher{redis: redisClient, prefix: prefix}
}

var _ chat.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, m chat.Message) error {
	raw, err := Encode(m)
	if err != nil {
		return err
	}
	if err := p.redis.Publish(ctx, Channel(p.prefix, m.ConversationID), raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
