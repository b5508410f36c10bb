// Package hub is the process-level owner of every configured user's
// Supervisor and event/session stores, the host system monitor, and the
// read-only admin HTTP API operators use to inspect and debug a
// running fleet. It is the Go counterpart of the teacher's
// internal/server.Handler + observability package split: Handler owns
// the domain state, observability exposes it over HTTP.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/noalbs/noalbs/internal/eventlog"
	"github.com/noalbs/noalbs/internal/sessionhistory"
	"github.com/noalbs/noalbs/internal/supervisor"
	"github.com/noalbs/noalbs/internal/sysmonitor"
)

// entry bundles one user's Supervisor with the stores their Switcher
// reports into, so the admin API can reach all three by user name.
type entry struct {
	sup     *supervisor.Supervisor
	events  *eventlog.Store
	history *sessionhistory.Store
	active  *sessionhistory.ActiveStore
}

// Hub owns every configured user's runtime.
type Hub struct {
	mu      sync.RWMutex
	users   map[string]*entry
	logger  *slog.Logger
	monitor *sysmonitor.Monitor
}

// New returns an empty Hub with its own host system monitor.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		users:   make(map[string]*entry),
		logger:  logger.With("component", "hub"),
		monitor: sysmonitor.New(logger),
	}
}

// Add registers a user's Supervisor and the stores its EventRecorder
// and SessionRecorder persist to. events, history, and active may be
// nil if that user has no persistence configured.
func (h *Hub) Add(name string, sup *supervisor.Supervisor, events *eventlog.Store, history *sessionhistory.Store, active *sessionhistory.ActiveStore) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[name] = &entry{sup: sup, events: events, history: history, active: active}
}

// Remove stops and forgets a user's Supervisor, closing its stores.
func (h *Hub) Remove(name string) {
	h.mu.Lock()
	e, ok := h.users[name]
	if ok {
		delete(h.users, name)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	e.sup.Stop()
	if e.events != nil {
		e.events.Close()
	}
	if e.history != nil {
		e.history.Close()
	}
	if e.active != nil {
		e.active.Close()
	}
}

// Get returns the named Supervisor, if registered.
func (h *Hub) Get(name string) (*supervisor.Supervisor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.users[name]
	if !ok {
		return nil, false
	}
	return e.sup, true
}

// UserNames returns every registered user, sorted for stable API
// responses.
func (h *Hub) UserNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.users))
	for name := range h.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every registered user's Supervisor, bound to ctx, and
// the Hub's own host system monitor.
func (h *Hub) StartAll(ctx context.Context) {
	h.monitor.Start()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.users {
		e.sup.Start(ctx)
	}
}

// StopAll stops every registered user's Supervisor, closes its stores,
// and stops the host system monitor.
func (h *Hub) StopAll() {
	h.monitor.Stop()

	h.mu.RLock()
	entries := make([]*entry, 0, len(h.users))
	for _, e := range h.users {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	for _, e := range entries {
		e.sup.Stop()
		if e.events != nil {
			e.events.Close()
		}
		if e.history != nil {
			e.history.Close()
		}
		if e.active != nil {
			e.active.Close()
		}
	}
}

// HostStats returns the most recently collected host system metrics.
func (h *Hub) HostStats() sysmonitor.Stats {
	return h.monitor.Stats()
}

// events returns the named user's event log, if any.
func (h *Hub) events(name string) (*eventlog.Store, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.users[name]
	if !ok || e.events == nil {
		return nil, false
	}
	return e.events, true
}

// history returns the named user's finished-session store, if any.
func (h *Hub) history(name string) (*sessionhistory.Store, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.users[name]
	if !ok || e.history == nil {
		return nil, false
	}
	return e.history, true
}
