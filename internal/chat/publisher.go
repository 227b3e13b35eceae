package chat

import (
	"context"

	"go-chat-sync/internal/logger"
)

type publishingStore struct {
	Store
	pub Publisher
	log *logger.Logger
}

// WithPublisher returns a Store that publishes every stored message on the
// live feed. A failed publish is logged and does not fail the insert: the
// message is durable, only live delivery missed it.
func WithPublisher(store Store, pub Publisher, log *logger.Logger) Store {
	return &publishingStore{Store: store, pub: pub, log: log.With("service", "PublishingStore")}
}

func (p *publishingStore) InsertMessage(ctx context.Context, nm NewMessage) (Message, error) {
	m, err := p.Store.InsertMessage(ctx, nm)
	if err != nil {
		return Message{}, err
	}
	if err := p.pub.Publish(ctx, m); err != nil {
		p.log.Error("publish failed", "conversation_id", m.ConversationID, "message_id", m.ID, "error", err)
	}
	return m, nil
}
