package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-chat-sync/internal/chat"
	"go-chat-sync/internal/logger"

	"github.com/redis/go-redis/v9"
)

// ErrHubStopped is returned by Subscribe once the hub loop has exited.
var ErrHubStopped = errors.New("hub stopped")

const defaultBuffer = 256

// Hub fans live events out to the subscribers of this instance. One Redis
// pattern subscription feeds it; every subscriber wants one conversation.
//
// Run is the only goroutine that touches subscribers, so the map needs no
// lock. Register, unregister and broadcast all go through channels.
type Hub struct {
	subscribers map[string]map[*subscriber]struct{}

	broadcast  chan chat.Message // From Redis -> subscribers
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}

	redis  *redis.Client
	prefix string
	buffer int
	log    *logger.Logger
}

func NewHub(redisClient *redis.Client, prefix string, log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		broadcast:   make(chan chat.Message),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		done:        make(chan struct{}),
		redis:       redisClient,
		prefix:      prefix,
		buffer:      defaultBuffer,
		log:         log.With("service", "Hub"),
	}
}

var _ chat.Feed = (*Hub)(nil)

// Run serves the hub until ctx is done, then closes every subscription.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, set := range h.subscribers {
			for s := range set {
				close(s.ch)
			}
		}
		h.subscribers = nil
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			if h.subscribers[s.conversationID] == nil {
				h.subscribers[s.conversationID] = make(map[*subscriber]struct{})
			}
			h.subscribers[s.conversationID][s] = struct{}{}

		case s := <-h.unregister:
			h.remove(s)

		case m := <-h.broadcast:
			for s := range h.subscribers[m.ConversationID] {
				select {
				case s.ch <- m:
				default:
					// A subscriber this far behind has lost ordering anyway.
					h.log.Warn("dropping slow subscriber", "conversation_id", m.ConversationID)
					h.remove(s)
				}
			}
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	set := h.subscribers[s.conversationID]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subscribers, s.conversationID)
	}
	close(s.ch)
}

// Dispatch hands m to the local subscribers of its conversation.
func (h *Hub) Dispatch(ctx context.Context, m chat.Message) error {
	select {
	case h.broadcast <- m:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber for conversationID.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) (chat.Subscription, error) {
	s := &subscriber{
		hub:            h,
		conversationID: conversationID,
		ch:             make(chan chat.Message, h.buffer),
	}
	select {
	case h.register <- s:
		return s, nil
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeToRedis listens for inserts published by any instance. It
// returns once the subscription is confirmed; delivery continues in the
// background until ctx is done.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	if h.redis == nil {
		return fmt.Errorf("redis client required")
	}
	pubsub := h.redis.PSubscribe(ctx, Channel(h.prefix, "*"))

	// ensures subscription actually started
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					h.log.Warn("redis subscription closed")
					return
				}
				h.forward(ctx, msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (h *Hub) forward(ctx context.Context, channel string, payload []byte) {
	convID, ok := ConversationID(h.prefix, channel)
	if !ok {
		h.log.Warn("unexpected channel", "channel", channel)
		return
	}
	m, err := Decode(payload)
	if err != nil {
		h.log.Warn("bad redis payload", "channel", channel, "error", err)
		return
	}
	if m.ConversationID != convID {
		h.log.Warn("payload for another conversation", "channel", channel, "conversation_id", m.ConversationID)
		return
	}
	if err := h.Dispatch(ctx, m); err != nil {
		h.log.Debug("dispatch skipped", "error", err)
	}
}

type subscriber struct {
	hub            *Hub
	conversationID string
	ch             chan chat.Message
	once           sync.Once
}

func (s *subscriber) Events() <-chan chat.Message { return s.ch }

func (s *subscriber) Close() error {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
	return nil
}
