package chat

import "time"

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// Conversation pairs two identities. Exactly one exists per unordered pair.
type Conversation struct {
	ID            string     `json:"id"`
	User1ID       string     `json:"user1_id"`
	User2ID       string     `json:"user2_id"`
	LastMessageAt *time.Time `json:"last_message_at"` // nil until the first send
	CreatedAt     time.Time  `json:"created_at"`
}

// Other returns the participant that is not identity.
func (c Conversation) Other(identity string) string {
	if c.User1ID == identity {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether identity is one of the two participants.
func (c Conversation) HasParticipant(identity string) bool {
	return c.User1ID == identity || c.User2ID == identity
}

// Message is append-only: it is never edited or deleted once stored.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage is what the send path hands to storage.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
}

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Profile is the public face of an identity.
type Profile struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Email       string     `json:"email"`
	Status      Status     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// ConversationSummary is one row of the directory: the conversation, the
// counterpart's profile and the most recent message (nil when empty).
type ConversationSummary struct {
	Conversation
	OtherUser   Profile  `json:"other_user"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// ---------------------------------------------
// ⚡ Websocket frames
// ---------------------------------------------

const (
	ActionOpen  = "open"
	ActionStart = "start"
	ActionSend  = "send"
	ActionClose = "close"
)

// WSRequest is the JSON the browser SENDS to us.
type WSRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
	TargetID       string `json:"target_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

const (
	FrameSnapshot = "snapshot"
	FrameMessage  = "message"
	FrameSent     = "sent"
	FrameError    = "error"
)

// WSFrame is the JSON we push to the browser.
type WSFrame struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Messages       []Message `json:"messages,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Error          string    `json:"error,omitempty"`
}
