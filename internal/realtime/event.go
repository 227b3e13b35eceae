// Package realtime carries stored messages from the instance that inserted
// them to every instance with a live subscriber, over Redis pub/sub.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go-chat-sync/internal/chat"
)

var errBadEvent = errors.New("bad event")

// Channel is the Redis channel carrying inserts for one conversation.
func Channel(prefix, conversationID string) string {
	return prefix + ":" + conversationID
}

// ConversationID extracts the conversation id from a channel name.
func ConversationID(prefix, channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, prefix+":")
	return id, ok && id != ""
}

func Encode(m chat.Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(payload []byte) (chat.Message, error) {
	var m chat.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", errBadEvent, err)
	}
	if m.ID == "" || m.ConversationID == "" {
		return chat.Message{}, fmt.Errorf("%w: missing id", errBadEvent)
	}
	return m, nil
}
