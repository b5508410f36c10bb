package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const validConfigYAML = `
user:
  name: "teststreamer"
switcher:
  bitrate_switcher_enabled: true
  only_switch_when_streaming: true
  instantly_switch_on_recover: true
  retry_attempts: 5
  triggers:
    low: 800
    rtt: 2500
  switching_scenes:
    normal: live
    low: low
    offline: offline
  stream_servers:
    - name: primary
      enabled: true
      priority: 1
      probe:
        kind: nginx
        stats_url: "http://localhost:8080/stats"
        application: live
        key: stream
software:
  kind: obs
  obs:
    host: localhost
    port: 4455
`

func TestFileStore_Load_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML)
	store := NewFileStore(path)

	cfg, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.User.Name != "teststreamer" {
		t.Errorf("expected user.name teststreamer, got %q", cfg.User.Name)
	}
	if cfg.Switcher.SwitchingScenes.Normal != "live" {
		t.Errorf("expected switching_scenes.normal live, got %q", cfg.Switcher.SwitchingScenes.Normal)
	}
	if len(cfg.Switcher.StreamServers) != 1 {
		t.Fatalf("expected 1 stream server, got %d", len(cfg.Switcher.StreamServers))
	}
	if cfg.Switcher.StreamServers[0].Probe.Kind != ProbeKindNginx {
		t.Errorf("expected probe kind nginx, got %q", cfg.Switcher.StreamServers[0].Probe.Kind)
	}
}

func TestFileStore_Load_MissingUserName(t *testing.T) {
	content := `
switcher:
  switching_scenes:
    normal: live
    low: low
    offline: offline
software:
  kind: obs
  obs:
    host: localhost
    port: 4455
`
	path := writeTempConfig(t, content)
	_, err := NewFileStore(path).Load(context.Background())
	if err == nil {
		t.Fatal("expected error for missing user.name")
	}
}

func TestFileStore_Load_DefaultsRetryAttempts(t *testing.T) {
	content := `
user:
  name: "x"
switcher:
  switching_scenes:
    normal: live
    low: low
    offline: offline
software:
  kind: obs
  obs:
    host: localhost
    port: 4455
`
	path := writeTempConfig(t, content)
	cfg, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Switcher.RetryAttempts != defaultRetryAttempts {
		t.Errorf("expected default retry_attempts %d, got %d", defaultRetryAttempts, cfg.Switcher.RetryAttempts)
	}
}

func TestFileStore_Load_SortsStreamServersByPriority(t *testing.T) {
	content := `
user:
  name: "x"
switcher:
  switching_scenes:
    normal: live
    low: low
    offline: offline
  stream_servers:
    - name: second
      priority: 2
      probe: { kind: nginx, stats_url: "http://a", application: a, key: a }
    - name: first
      priority: 1
      probe: { kind: nginx, stats_url: "http://b", application: b, key: b }
software:
  kind: obs
  obs: { host: localhost, port: 4455 }
`
	path := writeTempConfig(t, content)
	cfg, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Switcher.StreamServers[0].Name != "first" {
		t.Errorf("expected first entry to be 'first' after sort, got %q", cfg.Switcher.StreamServers[0].Name)
	}
}

func TestFileStore_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	store := NewFileStore(path)

	cfg := Default("teststreamer")
	if err := store.Save(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if loaded.User.Name != cfg.User.Name {
		t.Errorf("expected user.name %q, got %q", cfg.User.Name, loaded.User.Name)
	}
	if loaded.Switcher.SwitchingScenes != cfg.Switcher.SwitchingScenes {
		t.Errorf("switching scenes did not round-trip: got %+v", loaded.Switcher.SwitchingScenes)
	}
}

func TestFileStore_Load_LegacySchemaMigrates(t *testing.T) {
	content := `
obs:
  ip: "localhost:4444"
  password: "secret"
  normal_scene: live
  offline_scene: offline
  low_bitrate_scene: low
  refresh_scene: refresh
  low_bitrate_trigger: 800
  high_rtt_trigger: 2500
  refresh_scene_interval: 10
  only_switch_when_streaming: true
rtmp:
  server: nginx
  stats: "http://localhost:8080/stats"
  application: live
  key: stream
twitch_chat:
  channel: "someuser"
  bot_username: "somebot"
  oauth: "oauth:abc123"
  enable: true
  prefix: "!"
  enable_public_commands: true
  public_commands: ["bitrate"]
  enable_mod_commands: true
  mod_commands: ["refresh", "fix"]
  enable_auto_switch_notification: true
  enable_auto_stop_stream_on_host_or_raid: true
  admin_users: ["SomeUser"]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing legacy config: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := NewFileStore(filepath.Base(path)).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error migrating legacy config: %v", err)
	}

	if cfg.User.Name != "someuser" {
		t.Errorf("expected migrated user.name someuser, got %q", cfg.User.Name)
	}
	if cfg.Software.OBS == nil || cfg.Software.OBS.Host != "localhost" || cfg.Software.OBS.Port != 4444 {
		t.Errorf("expected migrated obs host:port localhost:4444, got %+v", cfg.Software.OBS)
	}
	if len(cfg.Switcher.StreamServers) != 1 {
		t.Fatalf("expected 1 migrated stream server, got %d", len(cfg.Switcher.StreamServers))
	}
	if cfg.Chat == nil || cfg.Chat.Admins[0] != "someuser" {
		t.Errorf("expected lowercased admin list, got %+v", cfg.Chat)
	}

	if _, err := os.Stat(filepath.Base(path) + ".v1.bak.gz"); err != nil {
		t.Errorf("expected legacy backup file to be created: %v", err)
	}
	if _, err := os.Stat(".env"); err != nil {
		t.Errorf("expected .env file to be created: %v", err)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
