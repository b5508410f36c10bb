package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/pki"
	"github.com/noalbs/noalbs/internal/state"
)

// Reconnect backoff shape matches the teacher's stream-reconnect constants
// in internal/agent's dispatcher: base 1s, doubling, capped at 30s.
const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	requestTimeout     = 10 * time.Second
	handshakeTimeout   = 10 * time.Second
)

// Client is an obs-websocket v5 client implementing BroadcastingSoftware.
// Its connection lifecycle — dial/handshake, a dedicated read-loop
// goroutine, exponential-backoff reconnection, and a sync.Once-guarded
// Stop — follows control_channel.go's shape, swapping the raw TLS frame
// protocol for obs-websocket's JSON request/response/event frames.
type Client struct {
	cfg    config.OBSConfig
	state  *state.State
	logger *slog.Logger

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan requestResponseData

	currentScene atomic.Value // string
	sceneList    atomic.Value // []string
	nextReqID    atomic.Uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ BroadcastingSoftware = (*Client)(nil)

// New constructs a Client bound to st, which the event read-loop updates
// as CurrentProgramSceneChanged / StreamStateChanged / ExitStarted events
// arrive. Call Start to begin connecting.
func New(cfg config.OBSConfig, st *state.State, logger *slog.Logger) *Client {
	c := &Client{
		cfg:     cfg,
		state:   st,
		logger:  logger.With("component", "obsclient"),
		pending: make(map[string]chan requestResponseData),
		stopCh:  make(chan struct{}),
	}
	c.currentScene.Store("")
	c.sceneList.Store([]string{})
	return c
}

// Start begins the connect/reconnect loop in a background goroutine.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop cancels the connect/reconnect loop and closes any live connection.
// It is idempotent.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()

	delay := reconnectBaseDelay
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("obs connect failed", "error", err, "retry_in", delay)
			select {
			case <-c.stopCh:
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
		c.state.SetConnected(true)
		c.logger.Info("obs connected", "host", c.cfg.Host)

		c.readLoop()

		c.state.SetConnected(false)
		c.failPending()
		c.logger.Warn("obs connection lost")

		select {
		case <-c.stopCh:
			return
		default:
		}
	}
}

func (c *Client) connect() error {
	host := c.cfg.Host
	scheme := "ws"
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	if c.cfg.TLS != nil {
		tlsConfig, err := pki.NewClientTLSConfig(c.cfg.TLS.CACert, c.cfg.TLS.ClientCert, c.cfg.TLS.ClientKey)
		if err != nil {
			return fmt.Errorf("building obs-websocket tls config: %w", err)
		}
		dialer.TLSClientConfig = tlsConfig
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", host, c.cfg.Port)}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if err := c.identify(conn); err != nil {
		conn.Close()
		return fmt.Errorf("identify: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *Client) identify(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello (op %d), got op %d", opHello, hello.Op)
	}
	var helloD helloData
	if err := json.Unmarshal(hello.D, &helloD); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}

	id := identifyData{
		RPCVersion:         rpcVersion,
		EventSubscriptions: eventSubscriptionsAll,
	}
	if helloD.Authentication != nil {
		password := ""
		if c.cfg.Password != nil {
			password = *c.cfg.Password
		}
		id.Authentication = authString(password, helloD.Authentication.Salt, helloD.Authentication.Challenge)
	}
	idPayload, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(frame{Op: opIdentify, D: idPayload}); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	var identified frame
	if err := conn.ReadJSON(&identified); err != nil {
		return fmt.Errorf("reading identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("expected identified (op %d), got op %d", opIdentified, identified.Op)
	}

	conn.SetReadDeadline(time.Time{})
	return nil
}

// readLoop dispatches frames until the connection errors or closes. It
// owns the only reader of conn, matching control_channel.go's single
// reader goroutine per connection.
func (c *Client) readLoop() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Op {
		case opEvent:
			var ev eventData
			if err := json.Unmarshal(f.D, &ev); err != nil {
				c.logger.Warn("obs event: decode failed", "error", err)
				continue
			}
			c.handleEvent(ev)
		case opRequestResponse:
			var rr requestResponseData
			if err := json.Unmarshal(f.D, &rr); err != nil {
				c.logger.Warn("obs response: decode failed", "error", err)
				continue
			}
			c.dispatchResponse(rr)
		}
	}
}

func (c *Client) handleEvent(ev eventData) {
	switch ev.EventType {
	case "CurrentProgramSceneChanged":
		var d struct {
			SceneName string `json:"sceneName"`
		}
		if err := json.Unmarshal(ev.EventData, &d); err == nil {
			c.currentScene.Store(d.SceneName)
			c.state.SetScenes(d.SceneName)
		}
	case "StreamStateChanged":
		var d struct {
			OutputActive bool `json:"outputActive"`
		}
		if err := json.Unmarshal(ev.EventData, &d); err == nil {
			c.state.SetStreaming(d.OutputActive)
		}
	case "ExitStarted":
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	}
}

func (c *Client) dispatchResponse(rr requestResponseData) {
	c.pendingMu.Lock()
	ch, ok := c.pending[rr.RequestID]
	if ok {
		delete(c.pending, rr.RequestID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- rr
	}
}

// failPending unblocks every in-flight request with a synthetic failed
// response after the connection drops; it will never see its real reply.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan requestResponseData)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- requestResponseData{}
	}
}

// request sends an obs-websocket request and blocks for its response,
// correlated by a per-process monotonic request ID.
func (c *Client) request(ctx context.Context, requestType string, payload any) (json.RawMessage, error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("broadcaster: not connected")
	}

	reqID := strconv.FormatUint(c.nextReqID.Add(1), 10)
	respCh := make(chan requestResponseData, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()

	var reqData json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqData = b
	}
	d, err := json.Marshal(requestData{RequestType: requestType, RequestID: reqID, RequestData: reqData})
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(frame{Op: opRequest, D: d})
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("sending %s: %w", requestType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case rr := <-respCh:
		if !rr.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed: %s (code %d)", requestType, rr.RequestStatus.Comment, rr.RequestStatus.Code)
		}
		return rr.ResponseData, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, fmt.Errorf("broadcaster: stopped")
	}
}

func (c *Client) SceneList(ctx context.Context) ([]string, error) {
	resp, err := c.request(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, err
	}
	var d struct {
		Scenes []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(resp, &d); err != nil {
		return nil, fmt.Errorf("decoding scene list: %w", err)
	}
	names := make([]string, len(d.Scenes))
	for i, s := range d.Scenes {
		names[i] = s.SceneName
	}
	c.sceneList.Store(names)
	return names, nil
}

func (c *Client) CurrentScene() string {
	return c.currentScene.Load().(string)
}

func (c *Client) SetScene(ctx context.Context, name string) error {
	_, err := c.request(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": name})
	if err == nil {
		c.currentScene.Store(name)
		c.state.SetScenes(name)
	}
	return err
}

func (c *Client) IsStreaming() bool        { return c.state.Broadcaster().IsStreaming }
func (c *Client) IsConnected() bool        { return c.state.Broadcaster().IsConnected }
func (c *Client) InitialConnectDone() bool { return c.state.Broadcaster().InitialConnectDone }

func (c *Client) WaitConnected(ctx context.Context) error {
	return c.state.WaitConnected(ctx)
}

func (c *Client) StartStreaming(ctx context.Context) error {
	_, err := c.request(ctx, "StartStream", nil)
	return err
}

func (c *Client) StopStreaming(ctx context.Context) error {
	_, err := c.request(ctx, "StopStream", nil)
	return err
}

func (c *Client) StartRecording(ctx context.Context) error {
	_, err := c.request(ctx, "StartRecord", nil)
	return err
}

func (c *Client) StopRecording(ctx context.Context) error {
	_, err := c.request(ctx, "StopRecord", nil)
	return err
}
