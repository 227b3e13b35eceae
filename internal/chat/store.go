package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("not a participant")
	ErrFeedClosed      = errors.New("live feed closed")
)

// DirectoryStore is what the conversation directory reads and writes.
type DirectoryStore interface {
	// ConversationsFor returns every conversation where identity is either
	// participant, ordered by last_message_at descending, nulls last.
	ConversationsFor(ctx context.Context, identity string) ([]Conversation, error)
	// FindConversation searches both participant orderings. ErrNotFound if missing.
	FindConversation(ctx context.Context, a, b string) (Conversation, error)
	// CreateConversation returns ErrConflict when the pair already exists.
	CreateConversation(ctx context.Context, a, b string) (Conversation, error)
	Conversation(ctx context.Context, id string) (Conversation, error)
	Profile(ctx context.Context, identity string) (Profile, error)
	// LastMessage returns ErrNotFound for a conversation with no messages.
	LastMessage(ctx context.Context, conversationID string) (Message, error)
}

// MessageStore is what a message stream reads and writes.
type MessageStore interface {
	// Messages returns the full history ascending by created_at.
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	InsertMessage(ctx context.Context, m NewMessage) (Message, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
}

type Store interface {
	DirectoryStore
	MessageStore
}

// Subscription is a live feed of insertions for one conversation.
// Events is closed after Close, or when the feed gives up on the subscriber.
// Close is safe to call more than once.
type Subscription interface {
	Events() <-chan Message
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

// Publisher pushes a stored message onto the live feed.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}
