// Package state holds the mutable runtime state a single user's switcher
// and broadcaster connection share: hysteresis counters, the current and
// previous scene, and connection status flags. All access goes through State's
// RWMutex-guarded methods so the switcher goroutine, the chat command
// handlers, and the admin HTTP API can read and mutate it concurrently.
package state

import (
	"context"
	"sync"
	"time"
)

// SwitchReason records why the switcher last commanded a scene change.
type SwitchReason string

const (
	SwitchReasonLow     SwitchReason = "low"
	SwitchReasonOffline SwitchReason = "offline"
	SwitchReasonNormal  SwitchReason = "normal"
	SwitchReasonRTT     SwitchReason = "rtt"
	SwitchReasonManual  SwitchReason = "manual"
)

// SwitcherState is the hysteresis bookkeeping mutated only by the switcher
// goroutine, but read by the admin API and chat commands.
type SwitcherState struct {
	LowRetryCount    int
	LastScene        string
	HasLastScene     bool
	LastSwitchReason SwitchReason
	HasSwitchReason  bool
	DependsOnTimer   map[string]time.Time
}

// BroadcastingSoftwareState mirrors the connected broadcaster's status,
// updated by the broadcaster's event-subscription goroutine.
type BroadcastingSoftwareState struct {
	CurrentScene       string
	PrevScene          string
	IsStreaming        bool
	IsConnected        bool
	InitialConnectDone bool
}

// State is the full per-user runtime snapshot.
type State struct {
	mu sync.RWMutex

	switcher    SwitcherState
	broadcaster BroadcastingSoftwareState

	switcherEnabledNotifier *notifier
	connectedNotifier       *notifier
}

// New returns an empty State: zeroed hysteresis bookkeeping, an empty
// broadcaster status, and fresh switcher-enabled and connected notifiers.
func New() *State {
	return &State{
		switcher: SwitcherState{
			DependsOnTimer: make(map[string]time.Time),
		},
		switcherEnabledNotifier: newNotifier(),
		connectedNotifier:       newNotifier(),
	}
}

// Switcher returns a copy of the current SwitcherState.
func (s *State) Switcher() SwitcherState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.switcher
	cp.DependsOnTimer = make(map[string]time.Time, len(s.switcher.DependsOnTimer))
	for k, v := range s.switcher.DependsOnTimer {
		cp.DependsOnTimer[k] = v
	}
	return cp
}

// Broadcaster returns a copy of the current BroadcastingSoftwareState.
func (s *State) Broadcaster() BroadcastingSoftwareState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcaster
}

// SetLowRetryCount sets the consecutive-degraded-sample counter.
func (s *State) SetLowRetryCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switcher.LowRetryCount = n
}

// SetLastScene records the last scene the switcher commanded and why.
func (s *State) SetLastScene(scene string, reason SwitchReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switcher.LastScene = scene
	s.switcher.HasLastScene = true
	s.switcher.LastSwitchReason = reason
	s.switcher.HasSwitchReason = true
}

// SetDependsOnDeadline records when a dependency probe last reported
// Online (the switcher calls it on every tick that probe is Online); the
// suppression window runs from this time.
func (s *State) SetDependsOnDeadline(name string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switcher.DependsOnTimer[name] = deadline
}

// DependsOnDeadline returns the suppression deadline for name, if any.
func (s *State) DependsOnDeadline(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.switcher.DependsOnTimer[name]
	return t, ok
}

// SetScenes updates the cached current/previous scene pair.
func (s *State) SetScenes(current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current == s.broadcaster.CurrentScene {
		return
	}
	s.broadcaster.PrevScene = s.broadcaster.CurrentScene
	s.broadcaster.CurrentScene = current
}

// SetStreaming updates the is_streaming flag.
func (s *State) SetStreaming(streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster.IsStreaming = streaming
}

// SetConnected updates the is_connected flag and, on the first successful
// connect, latches InitialConnectDone. Waiters blocked in WaitConnected are
// woken whenever the flag changes.
func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	s.broadcaster.IsConnected = connected
	if connected {
		s.broadcaster.InitialConnectDone = true
	}
	s.mu.Unlock()
	s.connectedNotifier.NotifyWaiters()
}

// WaitConnected blocks until is_connected becomes true or ctx is done.
func (s *State) WaitConnected(ctx context.Context) error {
	return s.connectedNotifier.Wait(ctx, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.broadcaster.IsConnected
	})
}

// NotifySwitcherEnabled wakes the switcher goroutine if it is blocked in
// its off-duty wait after bitrate_switcher_enabled flipped on.
func (s *State) NotifySwitcherEnabled() {
	s.switcherEnabledNotifier.NotifyWaiters()
}

// WaitSwitcherEnabled blocks until ready reports true or ctx is done.
// ready is re-checked under the notifier's own lock on every wakeup and
// before the first wait, so a caller that calls
// NotifySwitcherEnabled right after making ready become true can never
// race a waiter that just observed the stale value (see notifier.Wait).
func (s *State) WaitSwitcherEnabled(ctx context.Context, ready func() bool) error {
	return s.switcherEnabledNotifier.Wait(ctx, ready)
}
