package realtime

import (
	"testing"
	"time"

	"go-chat-sync/internal/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNaming(t *testing.T) {
	ch := Channel("messages", "c1")
	assert.Equal(t, "messages:c1", ch)

	id, ok := ConversationID("messages", ch)
	require.True(t, ok)
	assert.Equal(t, "c1", id)

	_, ok = ConversationID("messages", "messages:")
	assert.False(t, ok)
	_, ok = ConversationID("messages", "presence:c1")
	assert.False(t, ok)
}

func TestDecode_RoundTripsMessage(t *testing.T) {
	in := chat.Message{ID: "m", ConversationID: "c", SenderID: "a", Content: "hi", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	raw, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestDecode_RejectsIncompleteEvents(t *testing.T) {
	_, err := Decode([]byte(`{"id":"m"}`))
	assert.ErrorIs(t, err, errBadEvent)
	_, err = Decode([]byte(`nope`))
	assert.ErrorIs(t, err, errBadEvent)
}
