package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
)

// Client is a middleman between the websocket connection and the
// connection's chat session.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	userID   string
	identity *auth.Identity
	session  *Session
	expiry   *time.Timer
	log      *logger.Logger

	// leave runs once per connection, on disconnect or token expiry.
	leave     func()
	mu        sync.Mutex // guards released; no heartbeat lands after it
	released  bool
	closeOnce sync.Once
}

// ReadPump turns browser frames into session calls. It owns the
// connection's lifetime: when it returns, everything else stops.
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.sendFrame(WSFrame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		c.handle(ctx, req)
	}
}

func (c *Client) handle(ctx context.Context, req WSRequest) {
	switch req.Action {
	case ActionOpen:
		if err := c.session.OpenConversation(ctx, req.ConversationID); err != nil {
			c.sendError(req.ConversationID, err)
		}
	case ActionStart:
		if convID, err := c.session.StartWith(ctx, req.TargetID); err != nil {
			c.sendError(convID, err)
		}
	case ActionSend:
		m, err := c.session.Send(ctx, req.Content)
		if err != nil {
			c.sendError(c.session.Stream().ConversationID(), err)
			return
		}
		if m.ID != "" {
			c.sendFrame(WSFrame{Type: FrameSent, ConversationID: m.ConversationID, Message: &m})
		}
	case ActionClose:
		c.session.Leave()
	default:
		c.sendFrame(WSFrame{Type: FrameError, Error: "unknown action " + req.Action})
	}
}

func (c *Client) sendError(convID string, err error) {
	if errors.Is(err, ErrClosed) {
		return
	}
	c.log.Debug("frame failed", "conversation_id", convID, "error", err)
	c.sendFrame(WSFrame{Type: FrameError, ConversationID: convID, Error: err.Error()})
}

// WatchStream pushes the open conversation to the browser: one snapshot
// per opened conversation, then each newly merged message. Nothing from a
// conversation that is no longer open gets through, since a switch starts
// a new generation.
func (c *Client) WatchStream() {
	stream := c.session.Stream()
	var (
		gen     uint64
		sent    int
		live    bool
		lastErr error
	)
	for {
		select {
		case <-c.done:
			return
		case <-stream.Changed():
		}

		snap := stream.Snapshot()
		if snap.Generation != gen {
			gen, sent, live, lastErr = snap.Generation, 0, false, nil
		}
		if snap.State != StateLive {
			continue
		}

		if !live {
			live = true
			sent = len(snap.Messages)
			c.sendFrame(WSFrame{Type: FrameSnapshot, ConversationID: snap.ConversationID, Messages: snap.Messages})
		}
		for i := sent; i < len(snap.Messages); i++ {
			m := snap.Messages[i]
			c.sendFrame(WSFrame{Type: FrameMessage, ConversationID: snap.ConversationID, Message: &m})
		}
		sent = len(snap.Messages)

		if snap.Err != nil && snap.Err != lastErr {
			lastErr = snap.Err
			c.sendFrame(WSFrame{Type: FrameError, ConversationID: snap.ConversationID, Error: snap.Err.Error()})
		}
	}
}

// Heartbeat records presence now and then every interval until the
// connection goes away.
func (c *Client) Heartbeat(rec ActivityRecorder, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.beat(rec)

		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) beat(rec ActivityRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	if _, ok := c.identity.Current(); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := rec.MarkActive(ctx, c.userID); err != nil {
		c.log.Warn("presence heartbeat failed", "error", err)
	}
}

// release gives up the connection's share of the user's presence.
func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	if c.leave != nil {
		c.leave()
	}
}

// WritePump pumps frames from the send queue to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush whatever is already queued in the same frame, one JSON
			// document per line.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendFrame(f WSFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		c.log.Error("encode frame", "error", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.expiry != nil {
			c.expiry.Stop()
		}
		c.session.Close()
		c.release()
		c.conn.Close()
	})
}
