package chatsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// kickPusherURL is Kick's Pusher-compatible websocket endpoint. Kick's
// chatrooms are delivered over a public Pusher app; no credentials are
// required to subscribe.
const kickPusherURL = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=7.6.0&flash=false"

// KickAdapter subscribes to a Kick chatroom over Pusher's websocket
// protocol. It is receive-only: Kick's chat-send API requires a
// session cookie Noalbs does not hold, matching the original's
// receive-only Kick adapter.
type KickAdapter struct {
	chatroomID int
	queue      *Queue
	logger     *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewKickAdapter(chatroomID int, queue *Queue, logger *slog.Logger) *KickAdapter {
	return &KickAdapter{
		chatroomID: chatroomID,
		queue:      queue,
		logger:     logger.With("component", "kick"),
		stopCh:     make(chan struct{}),
	}
}

func (k *KickAdapter) Start() {
	k.wg.Add(1)
	go k.run()
}

func (k *KickAdapter) Stop() {
	k.stopOnce.Do(func() {
		close(k.stopCh)
		k.connMu.Lock()
		if k.conn != nil {
			k.conn.Close()
		}
		k.connMu.Unlock()
	})
	k.wg.Wait()
}

func (k *KickAdapter) run() {
	defer k.wg.Done()

	delay := reconnectBaseDelay
	for {
		select {
		case <-k.stopCh:
			return
		default:
		}

		if err := k.connect(); err != nil {
			k.logger.Warn("kick connect failed", "error", err, "retry_in", delay)
			select {
			case <-k.stopCh:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		delay = reconnectBaseDelay
		k.logger.Info("kick connected", "chatroom_id", k.chatroomID)
		k.readLoop()

		select {
		case <-k.stopCh:
			return
		default:
		}
	}
}

func (k *KickAdapter) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: twitchDialTimeout}
	conn, _, err := dialer.Dial(kickPusherURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	sub := pusherEnvelope{
		Event: "pusher:subscribe",
		Data: mustMarshal(map[string]string{
			"channel": "chatrooms." + strconv.Itoa(k.chatroomID) + ".v2",
		}),
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	k.connMu.Lock()
	k.conn = conn
	k.connMu.Unlock()
	return nil
}

// pusherEnvelope is Pusher protocol 7's outer frame; Data is itself a
// JSON-encoded string, not a nested object.
type pusherEnvelope struct {
	Event   string `json:"event"`
	Data    string `json:"data"`
	Channel string `json:"channel,omitempty"`
}

type kickChatMessageData struct {
	Content string `json:"content"`
	Sender  struct {
		Username string `json:"username"`
		Identity struct {
			Badges []struct {
				Type string `json:"type"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

func (k *KickAdapter) readLoop() {
	k.connMu.Lock()
	conn := k.conn
	k.connMu.Unlock()

	for {
		var env pusherEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Event != "App\\Events\\ChatMessageEvent" {
			continue
		}

		var msg kickChatMessageData
		if err := json.Unmarshal([]byte(env.Data), &msg); err != nil {
			k.logger.Warn("kick message: decode failed", "error", err)
			continue
		}

		isMod := false
		for _, b := range msg.Sender.Identity.Badges {
			if b.Type == "moderator" || b.Type == "broadcaster" {
				isMod = true
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev := ChatEvent{Platform: "kick", Username: msg.Sender.Username, Text: msg.Content, IsMod: isMod}
		if err := k.queue.SendChat(ctx, ev); err != nil {
			k.logger.Warn("dropping chat event: queue send failed", "error", err)
		}
		cancel()
	}
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
