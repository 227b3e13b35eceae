package chat_test

import (
	"context"
	"testing"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/chat"
	"go-chat-sync/internal/chat/chattest"
	"go-chat-sync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_StartWithCreatesAndOpens(t *testing.T) {
	b := chattest.New()
	seedUsers(b, "me", "a")
	sess := chat.NewSession(auth.NewIdentity("me"), b, b, logger.Nop())
	defer sess.Close()

	convID, err := sess.StartWith(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, convID, sess.Stream().ConversationID())
	assert.Equal(t, chat.StateLive, sess.Stream().State())

	_, err = sess.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.Stream().Len() == 1 }, waitFor, tick)

	list, err := sess.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].OtherUser.UserID)
}

func TestSession_StartWithUnknownUser(t *testing.T) {
	b := chattest.New()
	seedUsers(b, "me")
	sess := chat.NewSession(auth.NewIdentity("me"), b, b, logger.Nop())
	defer sess.Close()

	_, err := sess.StartWith(context.Background(), "ghost")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.Equal(t, 0, b.ConversationCount())
}

func TestSession_OpenConversationChecksParticipant(t *testing.T) {
	b := chattest.New()
	b.AddConversation(chat.Conversation{ID: "theirs", User1ID: "a", User2ID: "b", CreatedAt: t0})
	sess := chat.NewSession(auth.NewIdentity("me"), b, b, logger.Nop())
	defer sess.Close()

	err := sess.OpenConversation(context.Background(), "theirs")
	assert.ErrorIs(t, err, chat.ErrForbidden)
	assert.Equal(t, 0, b.Subscribes)

	err = sess.OpenConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestSession_IdentityChangeClosesStream(t *testing.T) {
	b := chattest.New()
	b.AddConversation(chat.Conversation{ID: "c", User1ID: "me", User2ID: "a", CreatedAt: t0})
	id := auth.NewIdentity("me")
	sess := chat.NewSession(id, b, b, logger.Nop())
	defer sess.Close()

	require.NoError(t, sess.OpenConversation(context.Background(), "c"))
	require.Equal(t, 1, b.Subscribers("c"))

	id.SignOut()
	require.Eventually(t, func() bool { return sess.Stream().State() == chat.StateClosed }, waitFor, tick)
	assert.Equal(t, 0, b.Subscribers("c"))

	m, err := sess.Send(context.Background(), "anyone?")
	require.NoError(t, err)
	assert.Empty(t, m.ID)
	assert.Equal(t, 0, b.Inserts)

	_, err = sess.Conversations(context.Background())
	assert.ErrorIs(t, err, chat.ErrForbidden)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	b := chattest.New()
	sess := chat.NewSession(auth.NewIdentity("me"), b, b, logger.Nop())
	sess.Close()
	sess.Close()
	assert.Equal(t, chat.StateClosed, sess.Stream().State())
}
