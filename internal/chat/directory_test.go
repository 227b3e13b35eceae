package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-chat-sync/internal/chat"
	"go-chat-sync/internal/chat/chattest"
	"go-chat-sync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func at(minutes int) *time.Time {
	v := t0.Add(time.Duration(minutes) * time.Minute)
	return &v
}

func seedUsers(b *chattest.Backend, ids ...string) {
	for _, id := range ids {
		b.AddProfile(chat.Profile{UserID: id, DisplayName: "user " + id, Status: chat.StatusOnline})
	}
}

func TestDirectoryLoad_NullsLast(t *testing.T) {
	b := chattest.New()
	seedUsers(b, "me", "a", "b", "c")
	b.AddConversation(chat.Conversation{ID: "c3", User1ID: "me", User2ID: "a", LastMessageAt: at(3), CreatedAt: t0})
	b.AddConversation(chat.Conversation{ID: "cnull", User1ID: "b", User2ID: "me", LastMessageAt: nil, CreatedAt: t0})
	b.AddConversation(chat.Conversation{ID: "c1", User1ID: "me", User2ID: "c", LastMessageAt: at(1), CreatedAt: t0})

	d := chat.NewDirectory(b, logger.Nop())
	got, err := d.Load(context.Background(), "me")
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"c3", "c1", "cnull"}, ids)
}

func TestDirectoryLoad_EnrichesCounterpartAndLastMessage(t *testing.T) {
	b := chattest.New()
	seedUsers(b, "me", "a")
	b.AddConversation(chat.Conversation{ID: "c", User1ID: "a", User2ID: "me", LastMessageAt: at(2), CreatedAt: t0})
	b.AddMessage(chat.Message{ID: "m1", ConversationID: "c", SenderID: "a", Content: "hi", CreatedAt: *at(1)})
	b.AddMessage(chat.Message{ID: "m2", ConversationID: "c", SenderID: "me", Content: "hey", CreatedAt: *at(2)})

	got, err := chat.NewDirectory(b, logger.Nop()).Load(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "a", got[0].OtherUser.UserID)
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, "m2", got[0].LastMessage.ID)
}

func TestDirectoryLoad_NoMessagesLeavesLastMessageNil(t *testing.T) {
	b := chattest.New()
	seedUsers(b, "me", "a")
	b.AddConversation(chat.Conversation{ID: "c", User1ID: "me", User2ID: "a", CreatedAt: t0})

	got, err := chat.NewDirectory(b, logger.Nop()).Load(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].LastMessage)
}

func TestDirectoryLoad_DropsMissingProfiles(t *testing.T) {
	b := chattest.New()
	seedUsers(b, "me", "a", "gone")
	b.AddConversation(chat.Conversation{ID: "keep", User1ID: "me", User2ID: "a", LastMessageAt: at(1), CreatedAt: t0})
	b.AddConversation(chat.Conversation{ID: "drop", User1ID: "gone", User2ID: "me", LastMessageAt: at(2), CreatedAt: t0})
	b.DeleteProfile("gone")

	got, err := chat.NewDirectory(b, logger.Nop()).Load(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)
}

func TestDirectoryLoad_StorageFailures(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name  string
		setup func(b *chattest.Backend)
	}{
		{"list", func(b *chattest.Backend) { b.ConversationsErr = boom }},
		{"profile", func(b *chattest.Backend) { b.ProfileErr = boom }},
		{"last message", func(b *chattest.Backend) { b.LastMessageErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := chattest.New()
			seedUsers(b, "me", "a")
			b.AddConversation(chat.Conversation{ID: "c", User1ID: "me", User2ID: "a", CreatedAt: t0})
			tt.setup(b)

			got, err := chat.NewDirectory(b, logger.Nop()).Load(context.Background(), "me")
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Nil(t, got)
		})
	}
}

func TestDirectoryLoad_RequiresIdentity(t *testing.T) {
	_, err := chat.NewDirectory(chattest.New(), logger.Nop()).Load(context.Background(), "")
	assert.ErrorIs(t, err, chat.ErrInvalidArgument)
}

func TestGetOrCreate_FindsEitherOrdering(t *testing.T) {
	b := chattest.New()
	b.AddConversation(chat.Conversation{ID: "existing", User1ID: "b", User2ID: "a", CreatedAt: t0})
	d := chat.NewDirectory(b, logger.Nop())

	id, err := d.GetOrCreate(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
	assert.Equal(t, 0, b.Creates)
}

func TestGetOrCreate_CreatesOnce(t *testing.T) {
	b := chattest.New()
	d := chat.NewDirectory(b, logger.Nop())

	first, err := d.GetOrCreate(context.Background(), "a", "b")
	require.NoError(t, err)
	second, err := d.GetOrCreate(context.Background(), "b", "a")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.ConversationCount())
}

func TestGetOrCreate_ConcurrentCallsShareConversation(t *testing.T) {
	b := chattest.New()
	// Both callers must have missed the lookup before either creates.
	var arrived sync.WaitGroup
	arrived.Add(2)
	b.BeforeCreate = func() {
		arrived.Done()
		arrived.Wait()
	}
	d := chat.NewDirectory(b, logger.Nop())

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = d.GetOrCreate(context.Background(), "a", "b")
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, 2, b.Creates)
	assert.Equal(t, 1, b.ConversationCount())
}

func TestGetOrCreate_InvalidArguments(t *testing.T) {
	d := chat.NewDirectory(chattest.New(), logger.Nop())
	for _, pair := range [][2]string{{"", "b"}, {"a", ""}, {"a", "a"}} {
		_, err := d.GetOrCreate(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, chat.ErrInvalidArgument, pair)
	}
}

func TestSortByActivity_Stable(t *testing.T) {
	s := []chat.ConversationSummary{
		{Conversation: chat.Conversation{ID: "n1"}},
		{Conversation: chat.Conversation{ID: "t1", LastMessageAt: at(1)}},
		{Conversation: chat.Conversation{ID: "n2"}},
		{Conversation: chat.Conversation{ID: "t3", LastMessageAt: at(3)}},
	}
	chat.SortByActivity(s)

	ids := []string{s[0].ID, s[1].ID, s[2].ID, s[3].ID}
	assert.Equal(t, []string{"t3", "t1", "n1", "n2"}, ids)
}
