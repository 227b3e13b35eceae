package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-chat-sync/internal/chat"
	"go-chat-sync/internal/logger"

	"github.com/gorilla/websocket"
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type ConversationResponse struct {
	ID string `json:"conversation_id"`
}

type loadTest struct {
	baseURL  string
	wsURL    string
	msgCount int
	log      *logger.Logger

	sent     atomic.Int64
	received atomic.Int64
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	pairs := flag.Int("pairs", 50, "number of user pairs")
	msgs := flag.Int("msgs", 20, "messages per user")
	flag.Parse()

	log, err := logger.New("development")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	lt := &loadTest{
		baseURL:  strings.TrimRight(*baseURL, "/"),
		wsURL:    "ws" + strings.TrimPrefix(strings.TrimRight(*baseURL, "/"), "http") + "/ws",
		msgCount: *msgs,
		log:      log,
	}

	log.Info("starting stress test", "users", *pairs*2, "messages_per_user", *msgs)
	start := time.Now()

	// We create pairs: user 0a talks to user 0b, 1a to 1b...
	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			lt.runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		"elapsed", time.Since(start).String(),
		"sent", lt.sent.Load(),
		"received", lt.received.Load(),
	)
}

func (lt *loadTest) runPair(pairID int) {
	run := time.Now().UnixNano()
	pass := "password123"

	tokenA, _ := lt.authenticate(fmt.Sprintf("u_%d_a_%d@load.test", pairID, run), pass)
	tokenB, idB := lt.authenticate(fmt.Sprintf("u_%d_b_%d@load.test", pairID, run), pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	convID := lt.createConversation(tokenA, idB)
	if convID == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go lt.spamChat(&wsWg, tokenA, convID)
	go lt.spamChat(&wsWg, tokenB, convID)
	wsWg.Wait()
}

// authenticate registers and logs in; login returns the user id.
func (lt *loadTest) authenticate(email, password string) (string, string) {
	if resp, err := lt.postJSON("/register", "", map[string]string{
		"email": email, "password": password, "display_name": strings.SplitN(email, "@", 2)[0],
	}); err == nil {
		resp.Body.Close()
	}

	resp, err := lt.postJSON("/login", "", map[string]string{"email": email, "password": password})
	if err != nil {
		lt.log.Warn("login failed", "email", email, "error", err)
		return "", ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		lt.log.Warn("login rejected", "email", email, "status", resp.StatusCode)
		return "", ""
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", ""
	}
	return data.Token, data.ID
}

func (lt *loadTest) createConversation(token, targetID string) string {
	resp, err := lt.postJSON("/api/conversations", token, map[string]string{"target_id": targetID})
	if err != nil {
		lt.log.Warn("create conversation failed", "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		lt.log.Warn("create conversation rejected", "status", resp.StatusCode)
		return ""
	}

	var data ConversationResponse
	_ = json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

func (lt *loadTest) spamChat(wg *sync.WaitGroup, token, convID string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(lt.wsURL+"?token="+token, nil)
	if err != nil {
		lt.log.Warn("ws connect failed", "error", err)
		return
	}
	defer conn.Close()

	go lt.drain(conn)

	if err := conn.WriteJSON(chat.WSRequest{Action: chat.ActionOpen, ConversationID: convID}); err != nil {
		return
	}

	for i := 0; i < lt.msgCount; i++ {
		err := conn.WriteJSON(chat.WSRequest{
			Action:  chat.ActionSend,
			Content: fmt.Sprintf("LoadTest Msg %d", i),
		})
		if err != nil {
			lt.log.Warn("send failed", "error", err)
			break
		}
		lt.sent.Add(1)
		// Small sleep to simulate a real network
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)
}

// drain counts message frames until the connection closes.
func (lt *loadTest) drain(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			var f chat.WSFrame
			if json.Unmarshal(line, &f) == nil && f.Type == chat.FrameMessage {
				lt.received.Add(1)
			}
		}
	}
}

func (lt *loadTest) postJSON(endpoint, token string, data interface{}) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, lt.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
