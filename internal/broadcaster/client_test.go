package broadcaster

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/state"
)

// fakeOBS upgrades one connection at a time, performs the v5 handshake
// (optionally requiring a password) and answers requestType -> canned
// responseData pairs, echoing back unmatched requests as a success with
// an empty object.
type fakeOBS struct {
	upgrader websocket.Upgrader
	password string
	canned   map[string]json.RawMessage
	conn     chan *websocket.Conn
}

func newFakeOBS(password string, canned map[string]json.RawMessage) *fakeOBS {
	return &fakeOBS{canned: canned, password: password, conn: make(chan *websocket.Conn, 1)}
}

func (f *fakeOBS) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.conn <- conn

	hello := helloData{ObsWebSocketVersion: "5.0.0", RPCVersion: rpcVersion}
	if f.password != "" {
		hello.Authentication = &struct {
			Challenge string `json:"challenge"`
			Salt      string `json:"salt"`
		}{Challenge: "chal", Salt: "salt"}
	}
	helloPayload, _ := json.Marshal(hello)
	conn.WriteJSON(frame{Op: opHello, D: helloPayload})

	var id frame
	if err := conn.ReadJSON(&id); err != nil {
		return
	}
	var idD identifyData
	json.Unmarshal(id.D, &idD)
	if f.password != "" {
		want := authString(f.password, "salt", "chal")
		if idD.Authentication != want {
			conn.Close()
			return
		}
	}
	identifiedPayload, _ := json.Marshal(map[string]any{"negotiatedRpcVersion": rpcVersion})
	conn.WriteJSON(frame{Op: opIdentified, D: identifiedPayload})

	for {
		var f2 frame
		if err := conn.ReadJSON(&f2); err != nil {
			return
		}
		if f2.Op != opRequest {
			continue
		}
		var rd requestData
		json.Unmarshal(f2.D, &rd)

		resp := requestResponseData{RequestType: rd.RequestType, RequestID: rd.RequestID}
		resp.RequestStatus.Result = true
		resp.RequestStatus.Code = 100
		if data, ok := f.canned[rd.RequestType]; ok {
			resp.ResponseData = data
		}
		payload, _ := json.Marshal(resp)
		conn.WriteJSON(frame{Op: opRequestResponse, D: payload})
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, password *string) (*Client, *state.State) {
	t.Helper()
	host, portStr, _ := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	var port uint16
	for _, c := range portStr {
		port = port*10 + uint16(c-'0')
	}
	st := state.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.OBSConfig{Host: host, Port: port, Password: password}
	return New(cfg, st, logger), st
}

func TestClient_ConnectsAndWaitsConnected(t *testing.T) {
	fake := newFakeOBS("", nil)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	c, st := newTestClient(t, srv, nil)
	c.Start()
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("expected connection, got %v", err)
	}
}

func TestClient_AuthenticatesWithPassword(t *testing.T) {
	password := "hunter2"
	fake := newFakeOBS(password, nil)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	c, st := newTestClient(t, srv, &password)
	c.Start()
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("expected authenticated connection, got %v", err)
	}
}

func TestClient_SceneList(t *testing.T) {
	canned := map[string]json.RawMessage{
		"GetSceneList": json.RawMessage(`{"scenes":[{"sceneName":"normal"},{"sceneName":"low"}],"currentProgramSceneName":"normal"}`),
	}
	fake := newFakeOBS("", canned)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	c, st := newTestClient(t, srv, nil)
	c.Start()
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("expected connection, got %v", err)
	}

	scenes, err := c.SceneList(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scenes) != 2 || scenes[0] != "normal" || scenes[1] != "low" {
		t.Fatalf("unexpected scene list: %v", scenes)
	}
}

func TestClient_SetScene(t *testing.T) {
	fake := newFakeOBS("", nil)
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	c, st := newTestClient(t, srv, nil)
	c.Start()
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.WaitConnected(ctx); err != nil {
		t.Fatalf("expected connection, got %v", err)
	}

	if err := c.SetScene(ctx, "low"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CurrentScene() != "low" {
		t.Fatalf("expected cached current scene 'low', got %q", c.CurrentScene())
	}
	if st.Broadcaster().CurrentScene != "low" {
		t.Fatalf("expected state current scene 'low', got %q", st.Broadcaster().CurrentScene)
	}
}

func TestAuthString_Deterministic(t *testing.T) {
	a := authString("pw", "salt", "chal")
	b := authString("pw", "salt", "chal")
	if a != b {
		t.Fatal("expected deterministic auth string")
	}
	if authString("pw2", "salt", "chal") == a {
		t.Fatal("expected different password to produce different auth string")
	}
}
