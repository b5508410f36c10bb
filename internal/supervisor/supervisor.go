// Package supervisor owns one user's full runtime: their State, their
// broadcaster Connection, their Switcher goroutine, and the mutation
// surface the chat command layer and admin API use to reconfigure a
// running instance without a restart. It is the Go counterpart of
// original_source/src/noalbs.rs's Noalbs type.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/noalbs/noalbs/internal/broadcaster"
	"github.com/noalbs/noalbs/internal/chatsink"
	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/noalbserr"
	"github.com/noalbs/noalbs/internal/state"
	"github.com/noalbs/noalbs/internal/switcher"
)

// Connection is what a Supervisor needs from a broadcaster client: the
// Switcher's own BroadcastingSoftware contract, plus a start/stop
// lifecycle the Supervisor owns independently of the switcher loop.
// *broadcaster.Client satisfies this without modification.
type Connection interface {
	broadcaster.BroadcastingSoftware
	Start()
	Stop()
}

// TriggerType selects which threshold TriggerByType/UpdateTrigger acts
// on.
type TriggerType int

const (
	TriggerLow TriggerType = iota
	TriggerRTT
	TriggerOffline
)

// Status is a read-only snapshot of a Supervisor's runtime state,
// shaped for the admin API.
type Status struct {
	User        string
	Switcher    state.SwitcherState
	Broadcaster state.BroadcastingSoftwareState
}

// Supervisor owns one user's config, state, broadcaster connection,
// chat queue, and Switcher goroutine, and exposes the mutation
// surface original_source/src/noalbs.rs defines on Noalbs.
type Supervisor struct {
	mu    sync.RWMutex
	cfg   *config.Config
	store config.ConfigStore

	state *state.State
	conn  Connection
	chat  *chatsink.Queue

	sw     *switcher.Switcher
	logger *slog.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Supervisor. cfg, store, st, conn, and logger are
// required; chat, sessions, and events may be nil.
func New(cfg *config.Config, store config.ConfigStore, st *state.State, conn Connection, chat *chatsink.Queue, sessions switcher.SessionRecorder, events switcher.EventRecorder, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		store:  store,
		state:  st,
		conn:   conn,
		chat:   chat,
		logger: logger.With("user", cfg.User.Name, "component", "supervisor"),
	}
	s.sw = switcher.New(cfg.User.Name, s.getConfig, st, conn, chat, sessions, events, logger)
	return s
}

// getConfig hands the Switcher a consistent snapshot every tick,
// decoupling its reads from concurrent mutation methods below.
func (s *Supervisor) getConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Name returns the user this Supervisor runs for.
func (s *Supervisor) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.User.Name
}

// Config returns a deep-copied snapshot of the current configuration.
func (s *Supervisor) Config() *config.Config {
	return s.getConfig()
}

// Status reports the current switcher and broadcaster runtime state.
func (s *Supervisor) Status() Status {
	return Status{
		User:        s.Name(),
		Switcher:    s.state.Switcher(),
		Broadcaster: s.state.Broadcaster(),
	}
}

// AddStreamServer appends a stream server to the running
// configuration; the next tick's getConfig picks it up automatically.
func (s *Supervisor) AddStreamServer(entry config.StreamServerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Switcher.AddStreamServer(entry)
}

// Start connects the broadcaster and launches the Switcher loop,
// bound to ctx. It is idempotent: a second Start call while already
// running is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.conn.Start()

	done := s.done
	go func() {
		defer close(done)
		if err := s.sw.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("switcher loop stopped", "error", err)
		}
	}()
}

// Stop cancels the Switcher loop, waits for it to exit, and
// disconnects the broadcaster. It is idempotent.
func (s *Supervisor) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Info("stopping switcher")
	cancel()
	<-done
	s.conn.Stop()
}

// ReplaceConfig swaps in cfg as the running configuration wholesale,
// used by a SIGHUP reload. The Switcher loop picks it up on its next
// tick through getConfig; it is not restarted.
func (s *Supervisor) ReplaceConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// SaveConfig persists the current configuration snapshot through the
// ConfigStore.
func (s *Supervisor) SaveConfig(ctx context.Context) error {
	return s.store.Save(ctx, s.getConfig())
}

// ContainsAlias reports whether alias is already bound to any chat
// command.
func (s *Supervisor) ContainsAlias(alias string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.Chat == nil {
		return false, noalbserr.ErrNoChat
	}
	return containsAlias(s.cfg.Chat, alias), nil
}

func containsAlias(chat *config.Chat, alias string) bool {
	for _, info := range chat.Commands {
		for _, a := range info.Alias {
			if a == alias {
				return true
			}
		}
	}
	return false
}

// AddAlias binds alias to command, failing if it is already bound to
// any command.
func (s *Supervisor) AddAlias(alias, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Chat == nil {
		return noalbserr.ErrNoChat
	}
	if containsAlias(s.cfg.Chat, alias) {
		return noalbserr.ErrAliasExists
	}
	if s.cfg.Chat.Commands == nil {
		s.cfg.Chat.Commands = make(map[string]config.CommandInfo)
	}
	info := s.cfg.Chat.Commands[command]
	info.Alias = append(info.Alias, alias)
	s.cfg.Chat.Commands[command] = info
	return nil
}

// RemoveAlias unbinds alias from whichever command currently holds it,
// reporting whether it was found.
func (s *Supervisor) RemoveAlias(alias string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Chat == nil {
		return false, noalbserr.ErrNoChat
	}
	for cmd, info := range s.cfg.Chat.Commands {
		for i, a := range info.Alias {
			if a != alias {
				continue
			}
			info.Alias = append(info.Alias[:i:i], info.Alias[i+1:]...)
			s.cfg.Chat.Commands[cmd] = info
			return true, nil
		}
	}
	return false, nil
}

// TriggerByType returns the configured threshold for kind, if set.
func (s *Supervisor) TriggerByType(kind TriggerType) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := triggerField(&s.cfg.Switcher.Triggers, kind)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// UpdateTrigger sets kind's threshold to value. A value of zero clears
// the threshold (disables that trigger) instead of setting it to 0.
func (s *Supervisor) UpdateTrigger(kind TriggerType, value int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	field := triggerFieldPtr(&s.cfg.Switcher.Triggers, kind)
	if value == 0 {
		*field = nil
		return 0, false
	}
	v := value
	*field = &v
	return v, true
}

func triggerField(t *config.Triggers, kind TriggerType) *int {
	switch kind {
	case TriggerLow:
		return t.Low
	case TriggerRTT:
		return t.RTT
	case TriggerOffline:
		return t.Offline
	default:
		return nil
	}
}

func triggerFieldPtr(t *config.Triggers, kind TriggerType) **int {
	switch kind {
	case TriggerRTT:
		return &t.RTT
	case TriggerOffline:
		return &t.Offline
	default:
		return &t.Low
	}
}

// Autostop reports whether auto-stopping on host/raid is enabled.
func (s *Supervisor) Autostop() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.Chat == nil {
		return false, noalbserr.ErrNoChat
	}
	return s.cfg.Chat.EnableAutoStopStreamOnHostOrRaid, nil
}

// SetAutostop toggles auto-stopping on host/raid.
func (s *Supervisor) SetAutostop(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Chat == nil {
		return noalbserr.ErrNoChat
	}
	s.cfg.Chat.EnableAutoStopStreamOnHostOrRaid = enabled
	return nil
}

// Notify reports whether auto-switch chat notifications are enabled.
// Unlike Autostop, this does not require a chat platform to be
// configured, matching get_notify in the original source.
func (s *Supervisor) Notify() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Switcher.AutoSwitchNotification
}

// SetNotify toggles auto-switch chat notifications.
func (s *Supervisor) SetNotify(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Switcher.AutoSwitchNotification = enabled
}

// SetPrefix changes the chat command prefix.
func (s *Supervisor) SetPrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Chat == nil {
		return noalbserr.ErrNoChat
	}
	s.cfg.Chat.Prefix = prefix
	return nil
}

// SetBitrateSwitcherEnabled toggles the switcher on or off. Enabling
// it wakes the Switcher goroutine immediately if it was parked waiting
// for this flag; the gate does not poll the flag, so this notify is what
// unblocks it.
func (s *Supervisor) SetBitrateSwitcherEnabled(enabled bool) {
	s.mu.Lock()
	s.cfg.Switcher.SetBitrateSwitcherEnabled(enabled)
	s.mu.Unlock()

	if enabled {
		s.state.NotifySwitcherEnabled()
	}
}
