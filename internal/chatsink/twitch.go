package chatsink

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	twitchIRCAddr = "irc.chat.twitch.tv:6697"
	// Twitch's unverified-bot rate limit: 20 PRIVMSGs per rolling 30s
	// window per channel.
	twitchMsgBurst  = 20
	twitchMsgPeriod = 30 * time.Second

	twitchDialTimeout = 10 * time.Second

	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// TwitchAdapter is a raw IRC-over-TLS client for Twitch chat, dialing
// and framing the connection the way control_channel.go dials and reads
// its persistent TCP/TLS connection, with a dedicated read-loop
// goroutine and a connMu/writeMu split for the connection.
type TwitchAdapter struct {
	channel  string
	username string
	oauth    string
	queue    *Queue
	logger   *slog.Logger

	limiter *rate.Limiter

	connMu  sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTwitchAdapter reads bot credentials from TWITCH_BOT_USERNAME and
// TWITCH_BOT_OAUTH, populated either directly in the environment or by
// legacy config migration's .env write.
func NewTwitchAdapter(channel string, queue *Queue, logger *slog.Logger) *TwitchAdapter {
	return &TwitchAdapter{
		channel:  strings.ToLower(channel),
		username: os.Getenv("TWITCH_BOT_USERNAME"),
		oauth:    os.Getenv("TWITCH_BOT_OAUTH"),
		queue:    queue,
		logger:   logger.With("component", "twitch"),
		limiter:  rate.NewLimiter(rate.Every(twitchMsgPeriod/twitchMsgBurst), twitchMsgBurst),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the connect/reconnect loop in the background.
func (t *TwitchAdapter) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop cancels the adapter. Idempotent.
func (t *TwitchAdapter) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.connMu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.connMu.Unlock()
	})
	t.wg.Wait()
}

func (t *TwitchAdapter) run() {
	defer t.wg.Done()

	delay := reconnectBaseDelay
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if err := t.connect(); err != nil {
			t.logger.Warn("twitch connect failed", "error", err, "retry_in", delay)
			select {
			case <-t.stopCh:
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
		t.logger.Info("twitch connected", "channel", t.channel)
		t.readLoop()

		select {
		case <-t.stopCh:
			return
		default:
		}
	}
}

func (t *TwitchAdapter) connect() error {
	conn, err := net.DialTimeout("tcp", twitchIRCAddr, twitchDialTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	tlsConn := tls.Client(conn, &tls.Config{ServerName: "irc.chat.twitch.tv"})
	if err := tlsConn.SetDeadline(time.Now().Add(twitchDialTimeout)); err != nil {
		tlsConn.Close()
		return err
	}
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return fmt.Errorf("tls handshake: %w", err)
	}
	tlsConn.SetDeadline(time.Time{})

	w := bufio.NewWriter(tlsConn)
	for _, line := range []string{
		fmt.Sprintf("PASS %s", t.oauth),
		fmt.Sprintf("NICK %s", strings.ToLower(t.username)),
		"CAP REQ :twitch.tv/commands twitch.tv/tags",
		fmt.Sprintf("JOIN #%s", t.channel),
	} {
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			tlsConn.Close()
			return fmt.Errorf("handshake write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tlsConn.Close()
		return fmt.Errorf("handshake flush: %w", err)
	}

	t.connMu.Lock()
	t.conn = tlsConn
	t.connMu.Unlock()
	return nil
}

func (t *TwitchAdapter) readLoop() {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "PING"):
			t.writeLine("PONG :tmi.twitch.tv")
		case strings.Contains(line, "PRIVMSG"):
			if ev, ok := parseTwitchPRIVMSG(line); ok {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := t.queue.SendChat(ctx, ev); err != nil {
					t.logger.Warn("dropping chat event: queue send failed", "error", err)
				}
				cancel()
			}
		}
	}
}

func (t *TwitchAdapter) writeLine(line string) {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(conn, "%s\r\n", line)
}

// SendMessage sends an outbound PRIVMSG, blocking on the token-bucket
// rate limiter the way ThrottledWriter blocks on WaitN — here throttling
// message count rather than bytes/sec.
func (t *TwitchAdapter) SendMessage(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	t.writeLine(fmt.Sprintf("PRIVMSG #%s :%s", t.channel, text))
	return nil
}

// parseTwitchPRIVMSG extracts the sender and message body from a raw
// IRC PRIVMSG line, including IRCv3 tags if the server sent them.
// Example: "@badges=broadcaster/1;mod=0 :user!user@user.tmi.twitch.tv PRIVMSG #chan :hello"
func parseTwitchPRIVMSG(line string) (ChatEvent, bool) {
	var tags string
	if strings.HasPrefix(line, "@") {
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return ChatEvent{}, false
		}
		tags = parts[0]
		line = parts[1]
	}

	if !strings.HasPrefix(line, ":") {
		return ChatEvent{}, false
	}
	rest := line[1:]
	bang := strings.Index(rest, "!")
	if bang < 0 {
		return ChatEvent{}, false
	}
	username := rest[:bang]

	idx := strings.Index(rest, " :")
	if idx < 0 {
		return ChatEvent{}, false
	}
	text := rest[idx+2:]

	isMod := strings.Contains(tags, "mod=1") || strings.Contains(tags, "broadcaster/1")
	isBroadcaster := strings.Contains(tags, "broadcaster/1")

	return ChatEvent{
		Platform:      "twitch",
		Username:      username,
		Text:          text,
		IsMod:         isMod,
		IsBroadcaster: isBroadcaster,
	}, true
}
