// Package chattest provides an in-memory chat backend for tests: a Store
// enforcing the one-conversation-per-pair constraint and a Feed that
// publishes every inserted message, with hooks for injecting failures.
package chattest

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-chat-sync/internal/chat"

	"github.com/google/uuid"
)

// Backend is safe for concurrent use.
type Backend struct {
	mu sync.Mutex

	profiles      map[string]chat.Profile
	conversations map[string]chat.Conversation
	pairs         map[string]string // pairKey -> conversation id
	messages      map[string][]chat.Message
	subs          map[string]map[*subscription]struct{}

	clock func() time.Time

	// Fault injection; each is consulted on every call.
	ConversationsErr error
	ProfileErr       error
	LastMessageErr   error
	MessagesErr      error
	InsertErr        error
	TouchErr         error
	SubscribeErr     error

	// BeforeCreate runs before CreateConversation takes the lock.
	BeforeCreate func()
	// BeforeMessages runs before Messages takes the lock; live events
	// emitted from it land between subscribe and history load.
	BeforeMessages func()

	// Call counters.
	Inserts    int
	Touches    int
	Subscribes int
	Creates    int
}

func New() *Backend {
	return &Backend{
		profiles:      make(map[string]chat.Profile),
		conversations: make(map[string]chat.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]chat.Message),
		subs:          make(map[string]map[*subscription]struct{}),
		clock:         time.Now,
	}
}

// SetClock fixes the clock used for created_at values.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = now
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (b *Backend) AddProfile(p chat.Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Status == "" {
		p.Status = chat.StatusOffline
	}
	b.profiles[p.UserID] = p
}

func (b *Backend) DeleteProfile(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.profiles, id)
}

// AddConversation stores c as is, bypassing the pair constraint check.
func (b *Backend) AddConversation(c chat.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[c.ID] = c
	b.pairs[pairKey(c.User1ID, c.User2ID)] = c.ID
}

// AddMessage stores m as history without publishing it.
func (b *Backend) AddMessage(m chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[m.ConversationID] = append(b.messages[m.ConversationID], m)
}

// Emit delivers m to the live subscribers of its conversation only.
func (b *Backend) Emit(m chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitLocked(m)
}

// EmitTo delivers m to subscribers of conversationID regardless of the
// message's own conversation id.
func (b *Backend) EmitTo(conversationID string, m chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[conversationID] {
		s.ch <- m
	}
}

// DropSubscribers closes every live subscription of conversationID, as a
// feed does when it gives up on slow consumers.
func (b *Backend) DropSubscribers(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[conversationID] {
		s.closeLocked()
	}
	delete(b.subs, conversationID)
}

// Subscribers counts the open subscriptions of conversationID.
func (b *Backend) Subscribers(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conversationID])
}

// ConversationCount counts stored conversations.
func (b *Backend) ConversationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conversations)
}

func (b *Backend) ConversationsFor(ctx context.Context, identity string) ([]chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConversationsErr != nil {
		return nil, b.ConversationsErr
	}
	var out []chat.Conversation
	for _, c := range b.conversations {
		if c.HasParticipant(identity) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && c == nil:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case a == nil:
			return false
		case c == nil:
			return true
		default:
			return a.After(*c)
		}
	})
	return out, nil
}

func (b *Backend) FindConversation(ctx context.Context, x, y string) (chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.pairs[pairKey(x, y)]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return b.conversations[id], nil
}

func (b *Backend) CreateConversation(ctx context.Context, x, y string) (chat.Conversation, error) {
	if b.BeforeCreate != nil {
		b.BeforeCreate()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Creates++
	key := pairKey(x, y)
	if _, ok := b.pairs[key]; ok {
		return chat.Conversation{}, chat.ErrConflict
	}
	c := chat.Conversation{
		ID:        uuid.NewString(),
		User1ID:   x,
		User2ID:   y,
		CreatedAt: b.clock(),
	}
	b.conversations[c.ID] = c
	b.pairs[key] = c.ID
	return c, nil
}

func (b *Backend) Conversation(ctx context.Context, id string) (chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conversations[id]
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return c, nil
}

func (b *Backend) Profile(ctx context.Context, identity string) (chat.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProfileErr != nil {
		return chat.Profile{}, b.ProfileErr
	}
	p, ok := b.profiles[identity]
	if !ok {
		return chat.Profile{}, chat.ErrNotFound
	}
	return p, nil
}

func (b *Backend) LastMessage(ctx context.Context, conversationID string) (chat.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LastMessageErr != nil {
		return chat.Message{}, b.LastMessageErr
	}
	msgs := b.messages[conversationID]
	if len(msgs) == 0 {
		return chat.Message{}, chat.ErrNotFound
	}
	last := msgs[0]
	for _, m := range msgs[1:] {
		if !m.CreatedAt.Before(last.CreatedAt) {
			last = m
		}
	}
	return last, nil
}

func (b *Backend) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if b.BeforeMessages != nil {
		b.BeforeMessages()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.MessagesErr != nil {
		return nil, b.MessagesErr
	}
	out := append([]chat.Message(nil), b.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Backend) InsertMessage(ctx context.Context, nm chat.NewMessage) (chat.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Inserts++
	if b.InsertErr != nil {
		return chat.Message{}, b.InsertErr
	}
	if _, ok := b.conversations[nm.ConversationID]; !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	m := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: nm.ConversationID,
		SenderID:       nm.SenderID,
		Content:        nm.Content,
		CreatedAt:      b.clock(),
	}
	b.messages[m.ConversationID] = append(b.messages[m.ConversationID], m)
	b.emitLocked(m)
	return m, nil
}

func (b *Backend) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Touches++
	if b.TouchErr != nil {
		return b.TouchErr
	}
	c, ok := b.conversations[conversationID]
	if !ok {
		return chat.ErrNotFound
	}
	c.LastMessageAt = &at
	b.conversations[conversationID] = c
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, conversationID string) (chat.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Subscribes++
	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}
	s := &subscription{b: b, conversationID: conversationID, ch: make(chan chat.Message, 64)}
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[*subscription]struct{})
	}
	b.subs[conversationID][s] = struct{}{}
	return s, nil
}

func (b *Backend) emitLocked(m chat.Message) {
	for s := range b.subs[m.ConversationID] {
		s.ch <- m
	}
}

type subscription struct {
	b              *Backend
	conversationID string
	ch             chan chat.Message
	closed         bool
}

func (s *subscription) Events() <-chan chat.Message { return s.ch }

func (s *subscription) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if set := s.b.subs[s.conversationID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.b.subs, s.conversationID)
		}
	}
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

var (
	_ chat.Store = (*Backend)(nil)
	_ chat.Feed  = (*Backend)(nil)
)
