package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/noalbs/noalbs/internal/broadcaster"
	"github.com/noalbs/noalbs/internal/chatsink"
	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/eventlog"
	"github.com/noalbs/noalbs/internal/hub"
	"github.com/noalbs/noalbs/internal/logging"
	"github.com/noalbs/noalbs/internal/pki"
	"github.com/noalbs/noalbs/internal/sessionhistory"
	"github.com/noalbs/noalbs/internal/state"
	"github.com/noalbs/noalbs/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/noalbs/noalbs.yaml", "path to the process config file")
	flag.Parse()

	pcfg, err := config.LoadProcessConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(pcfg.Logging.Level, pcfg.Logging.Format, pcfg.Logging.File)
	defer logCloser.Close()

	h := hub.New(logger)
	adapters := startUsers(h, pcfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.StartAll(ctx)
	for _, a := range adapters {
		a.Start()
	}

	acl := hub.NewACL(pcfg.Hub.ACLCIDRs)
	srv := &http.Server{Addr: pcfg.Hub.ListenAddr, Handler: hub.NewRouter(h, acl)}
	go func() {
		logger.Info("admin API listening", "addr", pcfg.Hub.ListenAddr)
		if pcfg.Hub.TLS != nil {
			tlsConfig, err := pki.NewServerTLSConfig(pcfg.Hub.TLS.CACert, pcfg.Hub.TLS.ServerCert, pcfg.Hub.TLS.ServerKey)
			if err != nil {
				logger.Error("admin API tls config invalid", "error", err)
				return
			}
			srv.TLSConfig = tlsConfig
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Error("admin API server error", "error", err)
			}
			return
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin API server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		sig := <-sigCh

		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading per-user configs", "path", *configPath)
			reloadUsers(h, pcfg, logger)
			continue
		}

		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		h.StopAll()
		for _, a := range adapters {
			a.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		srv.Shutdown(shutdownCtx)
		shutdownCancel()
		return
	}
}

// chatAdapter is the lifecycle every platform transport in
// internal/chatsink shares.
type chatAdapter interface {
	Start()
	Stop()
}

// startUsers wires every user named in pcfg.Users into h and returns
// the chat adapters that still need to be started by the caller (their
// lifecycle is independent of a Supervisor's Start/Stop).
func startUsers(h *hub.Hub, pcfg *config.ProcessConfig, logger *slog.Logger) []chatAdapter {
	var adapters []chatAdapter
	for _, path := range pcfg.Users {
		sup, events, history, active, userAdapters, err := wireUser(path, pcfg.Hub, logger)
		if err != nil {
			logger.Error("failed to wire user, skipping", "path", path, "error", err)
			continue
		}
		h.Add(sup.Name(), sup, events, history, active)
		adapters = append(adapters, userAdapters...)
	}
	return adapters
}

// reloadUsers re-reads every user's on-disk Config and swaps it into
// their running Supervisor without restarting the Switcher loop or the
// broadcaster connection.
func reloadUsers(h *hub.Hub, pcfg *config.ProcessConfig, logger *slog.Logger) {
	for _, path := range pcfg.Users {
		fs := config.NewFileStore(path)
		cfg, err := fs.Load(context.Background())
		if err != nil {
			logger.Error("reload failed for user config, keeping current", "path", path, "error", err)
			continue
		}
		sup, ok := h.Get(cfg.User.Name)
		if !ok {
			logger.Warn("reload found no running supervisor for user, skipping", "user", cfg.User.Name)
			continue
		}
		sup.ReplaceConfig(cfg)
		logger.Info("config reloaded", "user", cfg.User.Name)
	}
}

// wireUser builds one user's full runtime: Config, State, broadcaster
// Connection, chat queue and platform adapter, event/session stores,
// and the Supervisor that owns them all.
func wireUser(path string, hubCfg config.HubConfig, logger *slog.Logger) (*supervisor.Supervisor, *eventlog.Store, *sessionhistory.Store, *sessionhistory.ActiveStore, []chatAdapter, error) {
	store := config.NewFileStore(path)
	cfg, err := store.Load(context.Background())
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading %s: %w", path, err)
	}

	userLogger := logger.With("user", cfg.User.Name)
	st := state.New()

	conn, err := newConnection(cfg.Software, st, userLogger)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("building broadcaster connection for %s: %w", cfg.User.Name, err)
	}

	var chat *chatsink.Queue
	var adapters []chatAdapter
	if cfg.Chat != nil {
		chat = chatsink.NewQueue(64, userLogger)
		adapter, err := newChatAdapter(cfg.Chat.Platform, cfg.User.Name, chat, userLogger)
		if err != nil {
			userLogger.Warn("chat platform unavailable, continuing without chat", "error", err)
		} else if adapter != nil {
			adapters = append(adapters, adapter)
		}
	}

	if err := os.MkdirAll(hubCfg.EventLogDir, 0755); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("creating event log dir: %w", err)
	}
	if err := os.MkdirAll(hubCfg.SessionLogDir, 0755); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("creating session log dir: %w", err)
	}

	events, err := eventlog.Open(filepath.Join(hubCfg.EventLogDir, cfg.User.Name+".jsonl"), hubCfg.EventRingSize, hubCfg.EventMaxLines)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening event log for %s: %w", cfg.User.Name, err)
	}
	history, err := sessionhistory.Open(filepath.Join(hubCfg.SessionLogDir, cfg.User.Name+"-sessions.jsonl"), hubCfg.SessionRingSize, hubCfg.SessionMaxLines)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening session history for %s: %w", cfg.User.Name, err)
	}
	active, err := sessionhistory.OpenActive(filepath.Join(hubCfg.SessionLogDir, cfg.User.Name+"-active.jsonl"), hubCfg.SessionRingSize, hubCfg.SessionMaxLines)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening active session store for %s: %w", cfg.User.Name, err)
	}
	tracker := sessionhistory.NewTracker(cfg.User.Name, history, active).
		WithSessionLogging(userLogger, hubCfg.SessionLogDir)

	sup := supervisor.New(cfg, store, st, conn, chat, tracker, events, userLogger)
	return sup, events, history, active, adapters, nil
}

func newConnection(sw config.SoftwareConnection, st *state.State, logger *slog.Logger) (supervisor.Connection, error) {
	switch sw.Kind {
	case "obs":
		if sw.OBS == nil {
			return nil, fmt.Errorf("software.kind is obs but software.obs is unset")
		}
		return broadcaster.New(*sw.OBS, st, logger), nil
	default:
		return nil, fmt.Errorf("unsupported software.kind %q", sw.Kind)
	}
}

func newChatAdapter(platform config.ChatPlatform, username string, queue *chatsink.Queue, logger *slog.Logger) (chatAdapter, error) {
	switch platform.Kind {
	case config.ChatPlatformTwitch:
		return chatsink.NewTwitchAdapter(username, queue, logger), nil
	case config.ChatPlatformKick:
		if platform.ChatroomID == nil {
			return nil, fmt.Errorf("chat.platform.chatroom_id is required for kick")
		}
		return chatsink.NewKickAdapter(*platform.ChatroomID, queue, logger), nil
	case config.ChatPlatformYoutube:
		if platform.LiveChatID == nil {
			return nil, fmt.Errorf("chat.platform.live_chat_id is required for youtube")
		}
		return chatsink.NewYoutubeAdapter(*platform.LiveChatID, queue, logger), nil
	default:
		return nil, fmt.Errorf("unsupported chat.platform.kind %q", platform.Kind)
	}
}
