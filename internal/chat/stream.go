package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-chat-sync/internal/logger"
)

// ErrClosed is returned by Open when the stream was closed or switched to
// another conversation before loading finished.
var ErrClosed = errors.New("stream closed")

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a consistent copy of a stream's state.
type Snapshot struct {
	Generation     uint64
	ConversationID string
	State          State
	Messages       []Message
	Err            error
}

// Stream holds the ordered, duplicate-free message sequence of one open
// conversation: the history loaded on Open, extended by the live feed.
//
// Every Open or Close bumps the generation. The goroutine merging live
// events only touches the sequence while the generation it was started for
// is still current, so a late event for a previous conversation is dropped.
type Stream struct {
	store MessageStore
	feed  Feed
	log   *logger.Logger
	now   func() time.Time

	mu       sync.Mutex
	gen      uint64
	state    State
	convID   string
	identity string
	msgs     []Message
	seen     map[string]struct{}
	sub      Subscription
	err      error
	changed  chan struct{}
}

type StreamOption func(*Stream)

// WithClock overrides the clock used for the last-activity marker.
func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) { s.now = now }
}

func NewStream(store MessageStore, feed Feed, log *logger.Logger, opts ...StreamOption) *Stream {
	s := &Stream{
		store:   store,
		feed:    feed,
		log:     log.With("service", "Stream"),
		now:     time.Now,
		changed: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open switches the stream to conversationID on behalf of identity. The
// previous conversation, if any, is released first. Open subscribes to the
// live feed, then loads the full history; live events that arrived in the
// meantime are merged after the history.
//
// On failure the error is also kept in Err, the sequence stays empty and
// the state stays Loading. Nothing is retried.
func (s *Stream) Open(ctx context.Context, conversationID, identity string) error {
	if conversationID == "" {
		return fmt.Errorf("open stream: %w", ErrInvalidArgument)
	}

	s.mu.Lock()
	prev := s.resetLocked()
	gen := s.gen
	s.state = StateLoading
	s.convID = conversationID
	s.identity = identity
	s.seen = make(map[string]struct{})
	s.notifyLocked()
	s.mu.Unlock()
	closeSub(prev)

	log := s.log.With("conversation_id", conversationID)

	sub, err := s.feed.Subscribe(ctx, conversationID)
	if err != nil {
		s.fail(gen, err)
		log.Warn("subscribe failed", "error", err)
		return fmt.Errorf("subscribe %s: %w", conversationID, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		closeSub(sub)
		return ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	history, err := s.store.Messages(ctx, conversationID)
	if err != nil {
		s.mu.Lock()
		owned := s.gen == gen
		if owned {
			s.sub = nil
			s.err = err
			s.notifyLocked()
		}
		s.mu.Unlock()
		if owned {
			closeSub(sub)
		}
		log.Warn("history load failed", "error", err)
		return fmt.Errorf("load history %s: %w", conversationID, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrClosed
	}
	for _, m := range history {
		s.appendLocked(m)
	}
	s.state = StateLive
	s.notifyLocked()
	s.mu.Unlock()

	log.Debug("stream live", "history", len(history))
	go s.pump(gen, sub)
	return nil
}

// Close releases the subscription and discards the sequence.
func (s *Stream) Close() {
	s.mu.Lock()
	sub := s.resetLocked()
	s.state = StateClosed
	s.notifyLocked()
	s.mu.Unlock()
	closeSub(sub)
}

// Send stores text as a message from the stream's identity in the open
// conversation. Blank text, or no open conversation or identity, is a no-op
// that returns a zero Message and no error. Delivery back into the sequence
// happens through the live feed.
func (s *Stream) Send(ctx context.Context, text string) (Message, error) {
	s.mu.Lock()
	convID, identity := s.convID, s.identity
	s.mu.Unlock()
	return SendMessage(ctx, s.store, s.now(), s.log, convID, identity, text)
}

// SendMessage inserts the trimmed text and then moves the conversation's
// last-activity marker to now. The insert error is returned; a failed
// marker update is only logged since the message is already stored.
func SendMessage(ctx context.Context, store MessageStore, now time.Time, log *logger.Logger, conversationID, sender, text string) (Message, error) {
	content := strings.TrimSpace(text)
	if content == "" || conversationID == "" || sender == "" {
		return Message{}, nil
	}

	m, err := store.InsertMessage(ctx, NewMessage{
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
	})
	if err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	if err := store.TouchConversation(ctx, conversationID, now); err != nil {
		log.Warn("last activity not updated", "conversation_id", conversationID, "error", err)
	}
	return m, nil
}

func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Generation:     s.gen,
		ConversationID: s.convID,
		State:          s.state,
		Messages:       append([]Message(nil), s.msgs...),
		Err:            s.err,
	}
}

func (s *Stream) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Changed is signalled after every state change. Signals coalesce: a
// reader should take a Snapshot rather than count notifications.
func (s *Stream) Changed() <-chan struct{} {
	return s.changed
}

func (s *Stream) pump(gen uint64, sub Subscription) {
	for m := range sub.Events() {
		if !s.merge(gen, m) {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == StateLive {
		s.err = ErrFeedClosed
		s.sub = nil
		s.notifyLocked()
		s.log.Warn("live feed closed", "conversation_id", s.convID)
	}
}

// merge reports false once gen is no longer current.
func (s *Stream) merge(gen uint64, m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateLive {
		return false
	}
	if m.ConversationID != s.convID {
		s.log.Warn("event for another conversation", "conversation_id", s.convID, "event_conversation_id", m.ConversationID)
		return true
	}
	if s.appendLocked(m) {
		s.notifyLocked()
	}
	return true
}

func (s *Stream) appendLocked(m Message) bool {
	if _, ok := s.seen[m.ID]; ok {
		return false
	}
	s.seen[m.ID] = struct{}{}
	s.msgs = append(s.msgs, m)
	return true
}

func (s *Stream) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.err = err
		s.notifyLocked()
	}
}

// resetLocked discards all per-conversation state and hands back the
// subscription for the caller to close outside the lock.
func (s *Stream) resetLocked() Subscription {
	s.gen++
	sub := s.sub
	s.sub = nil
	s.convID = ""
	s.identity = ""
	s.msgs = nil
	s.seen = nil
	s.err = nil
	return sub
}

func (s *Stream) notifyLocked() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func closeSub(sub Subscription) {
	if sub != nil {
		_ = sub.Close()
	}
}
