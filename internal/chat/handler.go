package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/logger"
	myMiddleware "go-chat-sync/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

// ActivityRecorder receives the presence of connected users: a heartbeat
// while connected, and one MarkInactive once the last connection is gone.
type ActivityRecorder interface {
	MarkActive(ctx context.Context, userID string) error
	MarkInactive(ctx context.Context, userID string) error
}

type Handler struct {
	store            Store
	feed             Feed
	directory        *Directory
	presence         ActivityRecorder
	presenceInterval time.Duration
	log              *logger.Logger
	now              func() time.Time

	mu          sync.Mutex
	connections map[string]int // user id -> open websockets
}

// NewHandler wires the REST and websocket surface. presence may be nil, in
// which case no heartbeat is recorded.
func NewHandler(store Store, feed Feed, presence ActivityRecorder, presenceInterval time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		store:            store,
		feed:             feed,
		directory:        NewDirectory(store, log),
		presence:         presence,
		presenceInterval: presenceInterval,
		log:              log.With("service", "ChatHandler"),
		now:              time.Now,
		connections:      make(map[string]int),
	}
}

// ListConversations returns the caller's directory, most recent first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	list, err := h.directory.Load(r.Context(), userID)
	if err != nil {
		h.fail(w, "load conversations", err)
		return
	}
	if list == nil {
		list = []ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// StartConversation finds or creates the conversation with target_id.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		TargetID string `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := checkCounterpart(r.Context(), h.store, userID, req.TargetID); err != nil {
		h.fail(w, "find user", err)
		return
	}

	convID, err := h.directory.GetOrCreate(r.Context(), userID, req.TargetID)
	if err != nil {
		h.fail(w, "start conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": convID})
}

// GetChatHistory returns every message of a conversation, oldest first.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.participant(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), convID)
	if err != nil {
		h.fail(w, "load history", err, "user_id", userID)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// PostMessage sends content into a conversation over plain HTTP.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	userID, convID, ok := h.participant(w, r)
	if !ok {
		return
	}

	m, err := SendMessage(r.Context(), h.store, h.now(), h.log, convID, userID, req.Content)
	if err != nil {
		h.fail(w, "send message", err, "conversation_id", convID)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// participant resolves the {id} route parameter and checks that the caller
// takes part in that conversation.
func (h *Handler) participant(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", "", false
	}

	convID := chi.URLParam(r, "id")
	conv, err := h.store.Conversation(r.Context(), convID)
	if err != nil {
		h.fail(w, "find conversation", err)
		return "", "", false
	}
	if !conv.HasParticipant(userID) {
		http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
		return "", "", false
	}
	return userID, convID, true
}

// ServeWs upgrades an authenticated request and gives the connection its
// own chat session.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	identity := auth.NewIdentity(userID)
	log := h.log.With("user_id", userID)
	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		userID:   userID,
		identity: identity,
		session:  NewSession(identity, h.store, h.feed, log),
		log:      log,
	}

	h.connect(userID)
	client.leave = func() { h.disconnect(userID) }

	if exp, ok := myMiddleware.ExpiresAt(r.Context()); ok && !exp.IsZero() {
		client.expiry = time.AfterFunc(time.Until(exp), func() {
			log.Info("access token expired, signing out")
			identity.SignOut()
			client.release()
		})
	}

	go client.WritePump()
	go client.WatchStream()
	if h.presence != nil && h.presenceInterval > 0 {
		go client.Heartbeat(h.presence, h.presenceInterval)
	}
	go client.ReadPump()
}

func (h *Handler) connect(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[userID]++
}

// disconnect marks the user offline when their last connection leaves.
func (h *Handler) disconnect(userID string) {
	h.mu.Lock()
	h.connections[userID]--
	last := h.connections[userID] <= 0
	if last {
		delete(h.connections, userID)
	}
	h.mu.Unlock()

	if !last || h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := h.presence.MarkInactive(ctx, userID); err != nil {
		h.log.Warn("presence offline failed", "user_id", userID, "error", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error, kv ...interface{}) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", append(kv, "error", err)...)
		http.Error(w, op+" failed", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// StatusFor maps a chat error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
