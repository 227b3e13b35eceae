package chat

import (
	"context"
	"fmt"
	"sync"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/logger"
)

// Session is one signed-in chat view: the directory for the current
// identity plus at most one open conversation. An identity change closes
// the open conversation, since its sequence belonged to the previous
// identity.
type Session struct {
	identity  *auth.Identity
	store     DirectoryStore
	directory *Directory
	stream    *Stream
	log       *logger.Logger

	stopWatch func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(identity *auth.Identity, store Store, feed Feed, log *logger.Logger, opts ...StreamOption) *Session {
	s := &Session{
		identity:  identity,
		store:     store,
		directory: NewDirectory(store, log),
		stream:    NewStream(store, feed, log, opts...),
		log:       log.With("service", "Session"),
		done:      make(chan struct{}),
	}

	changes, stop := identity.Watch()
	s.stopWatch = stop
	go s.watch(changes)
	return s
}

func (s *Session) watch(changes <-chan string) {
	for id := range changes {
		s.log.Info("identity changed, closing conversation", "signed_in", id != "")
		s.stream.Close()
	}
	close(s.done)
}

// Stream is the session's message stream, for snapshots and notifications.
func (s *Session) Stream() *Stream { return s.stream }

func (s *Session) current() (string, error) {
	id, ok := s.identity.Current()
	if !ok {
		return "", fmt.Errorf("no signed-in identity: %w", ErrForbidden)
	}
	return id, nil
}

// Conversations loads the directory of the signed-in identity.
func (s *Session) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	id, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.directory.Load(ctx, id)
}

// StartWith opens the conversation with other, creating it if needed.
func (s *Session) StartWith(ctx context.Context, other string) (string, error) {
	id, err := s.current()
	if err != nil {
		return "", err
	}
	if err := checkCounterpart(ctx, s.store, id, other); err != nil {
		return "", err
	}
	convID, err := s.directory.GetOrCreate(ctx, id, other)
	if err != nil {
		return "", err
	}
	return convID, s.stream.Open(ctx, convID, id)
}

// OpenConversation opens an existing conversation the identity takes part in.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	id, err := s.current()
	if err != nil {
		return err
	}
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("open conversation %s: %w", conversationID, err)
	}
	if !conv.HasParticipant(id) {
		return fmt.Errorf("open conversation %s: %w", conversationID, ErrForbidden)
	}
	return s.stream.Open(ctx, conversationID, id)
}

// Send sends text in the open conversation; see Stream.Send.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if _, ok := s.identity.Current(); !ok {
		return Message{}, nil
	}
	return s.stream.Send(ctx, text)
}

// checkCounterpart refuses to start a conversation with an identity that
// has no profile, since the directory would never list it.
func checkCounterpart(ctx context.Context, store DirectoryStore, current, other string) error {
	if other == "" || other == current {
		return nil // GetOrCreate rejects these
	}
	if _, err := store.Profile(ctx, other); err != nil {
		return fmt.Errorf("user %s: %w", other, err)
	}
	return nil
}

// Leave closes the open conversation but keeps the session.
func (s *Session) Leave() {
	s.stream.Close()
}

// Close tears the session down.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopWatch()
		<-s.done
		s.stream.Close()
	})
}
