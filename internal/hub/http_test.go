package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/eventlog"
	"github.com/noalbs/noalbs/internal/sessionhistory"
	"github.com/noalbs/noalbs/internal/state"
	"github.com/noalbs/noalbs/internal/supervisor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct{ scenes []string }

func (f *fakeConn) Start()                                         {}
func (f *fakeConn) Stop()                                          {}
func (f *fakeConn) SceneList(ctx context.Context) ([]string, error) { return f.scenes, nil }
func (f *fakeConn) CurrentScene() string                            { return "live" }
func (f *fakeConn) SetScene(ctx context.Context, name string) error { return nil }
func (f *fakeConn) IsStreaming() bool                               { return true }
func (f *fakeConn) IsConnected() bool                               { return true }
func (f *fakeConn) InitialConnectDone() bool                        { return true }
func (f *fakeConn) WaitConnected(ctx context.Context) error         { return nil }
func (f *fakeConn) StartStreaming(ctx context.Context) error        { return nil }
func (f *fakeConn) StopStreaming(ctx context.Context) error         { return nil }
func (f *fakeConn) StartRecording(ctx context.Context) error        { return nil }
func (f *fakeConn) StopRecording(ctx context.Context) error         { return nil }

type fakeStore struct{}

func (f *fakeStore) Load(ctx context.Context) (*config.Config, error)   { return nil, nil }
func (f *fakeStore) Save(ctx context.Context, cfg *config.Config) error { return nil }

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default("alice")
	st := state.New()
	conn := &fakeConn{scenes: []string{"live", "low", "offline"}}

	events, err := eventlog.Open(filepath.Join(dir, "alice-events.jsonl"), 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	hist, err := sessionhistory.Open(filepath.Join(dir, "alice-sessions.jsonl"), 100, 1000)
	if err != nil {
		t.Fatal(err)
	}

	sup := supervisor.New(cfg, &fakeStore{}, st, conn, nil, nil, events, testLogger())

	h := New(testLogger())
	h.Add("alice", sup, events, hist, nil)
	return h
}

func TestHandleUsers(t *testing.T) {
	h := newTestHub(t)
	acl := NewACL([]string{"127.0.0.1/32", "::1/128"})
	srv := httptest.NewServer(NewRouter(h, acl))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/users")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var users []UserStatus
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].User != "alice" {
		t.Fatalf("unexpected users payload: %+v", users)
	}
}

func TestHandleUserNotFound(t *testing.T) {
	h := newTestHub(t)
	acl := NewACL([]string{"127.0.0.1/32"})
	srv := httptest.NewServer(NewRouter(h, acl))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/users/bob")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestACLDeniesOutsideCIDR(t *testing.T) {
	h := newTestHub(t)
	acl := NewACL([]string{"10.0.0.0/8"})
	srv := httptest.NewServer(NewRouter(h, acl))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for address outside ACL, got %d", resp.StatusCode)
	}
}

func TestHandleMetricsContainsUserGauges(t *testing.T) {
	h := newTestHub(t)
	acl := NewACL([]string{"127.0.0.1/32", "::1/128"})
	srv := httptest.NewServer(NewRouter(h, acl))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{"noalbs_low_retry_count", "noalbs_is_streaming", "noalbs_is_connected"} {
		if !contains(text, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
