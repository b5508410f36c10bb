package sessionhistory

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/noalbs/noalbs/internal/logging"
)

// activeSnapshotInterval matches the teacher's stats-reporter cadence
// in internal/agent/daemon.go, repurposed here for session snapshots.
const activeSnapshotInterval = 30 * time.Second

// Tracker implements switcher.SessionRecorder for one user: it
// accumulates per-scene dwell time across a broadcast session, pushes
// periodic ActiveSnapshot rows while streaming, and writes a finished
// Entry to Store when the session ends. It is defined without
// importing the switcher package so the two stay decoupled; switcher
// depends only on the SessionRecorder method set.
type Tracker struct {
	user   string
	store  *Store
	active *ActiveStore

	baseLogger    *slog.Logger
	sessionLogDir string

	mu            sync.Mutex
	running       bool
	startedAt     time.Time
	lastScene     string
	lastSceneAt   time.Time
	sceneSeconds  map[string]float64
	switchCount   int
	sessionID     string
	sessionLogger *slog.Logger
	sessionCloser io.Closer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker builds a Tracker for user, persisting finished sessions
// to store and live snapshots to active. Either may be nil, in which
// case that half of the bookkeeping is skipped.
func NewTracker(user string, store *Store, active *ActiveStore) *Tracker {
	return &Tracker{user: user, store: store, active: active}
}

// WithSessionLogging enables a dedicated per-session debug log file
// under sessionLogDir for the lifetime of each broadcast session,
// fanned out alongside baseLogger the way the teacher's per-backup
// session logs work.
func (t *Tracker) WithSessionLogging(baseLogger *slog.Logger, sessionLogDir string) *Tracker {
	t.baseLogger = baseLogger
	t.sessionLogDir = sessionLogDir
	return t
}

// SessionStarted resets dwell-time accounting and, if an ActiveStore
// was supplied, starts the periodic snapshot goroutine.
func (t *Tracker) SessionStarted(at time.Time) {
	t.mu.Lock()
	t.running = true
	t.startedAt = at
	t.lastScene = ""
	t.lastSceneAt = at
	t.sceneSeconds = make(map[string]float64)
	t.switchCount = 0

	if t.baseLogger != nil && t.sessionLogDir != "" {
		t.sessionID = strings.ReplaceAll(at.Format(time.RFC3339), ":", "-")
		sessionLogger, closer, _, err := logging.NewSessionLogger(t.baseLogger, t.sessionLogDir, t.user, t.sessionID)
		if err != nil {
			t.baseLogger.Warn("session log unavailable, continuing without it", "user", t.user, "error", err)
		} else {
			t.sessionLogger = sessionLogger
			t.sessionCloser = closer
			t.sessionLogger.Info("session started", "user", t.user)
		}
	}
	t.mu.Unlock()

	if t.active == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go t.snapshotLoop(ctx)
}

// SceneChanged closes out the dwell time accumulated on the previous
// scene and starts the clock on the new one.
func (t *Tracker) SceneChanged(scene string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.accrue(at)
	t.lastScene = scene
	t.lastSceneAt = at
	t.switchCount++
	if t.sessionLogger != nil {
		t.sessionLogger.Info("scene changed", "scene", scene, "switch_count", t.switchCount)
	}
}

// SessionEnded closes out dwell time on the final scene, stops the
// snapshot goroutine, and persists the finished session. A session
// that never switched scenes has its per-session log file removed,
// the way the teacher discards the log of a backup that did nothing;
// every other session's log is kept.
func (t *Tracker) SessionEnded(at time.Time) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.accrue(at)
	t.running = false
	entry := Entry{
		User:            t.user,
		StartedAt:       t.startedAt.Format(time.RFC3339),
		EndedAt:         at.Format(time.RFC3339),
		DurationSeconds: at.Sub(t.startedAt).Seconds(),
		FinalScene:      t.lastScene,
		SceneSeconds:    t.sceneSeconds,
		SwitchCount:     t.switchCount,
	}
	sessionID := t.sessionID
	sessionLogger := t.sessionLogger
	sessionCloser := t.sessionCloser
	t.sessionID = ""
	t.sessionLogger = nil
	t.sessionCloser = nil
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
		t.cancel = nil
	}

	if sessionLogger != nil {
		sessionLogger.Info("session ended", "duration_seconds", entry.DurationSeconds, "switch_count", entry.SwitchCount)
	}
	if sessionCloser != nil {
		sessionCloser.Close()
	}
	if sessionID != "" && entry.SwitchCount == 0 {
		logging.RemoveSessionLog(t.sessionLogDir, t.user, sessionID)
	}

	if t.store != nil {
		t.store.Push(entry)
	}
}

// accrue must be called with t.mu held; it adds the time since
// lastSceneAt to lastScene's running total.
func (t *Tracker) accrue(at time.Time) {
	if t.lastScene == "" {
		return
	}
	t.sceneSeconds[t.lastScene] += at.Sub(t.lastSceneAt).Seconds()
}

func (t *Tracker) snapshotLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(activeSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pushSnapshot()
		}
	}
}

func (t *Tracker) pushSnapshot() {
	t.mu.Lock()
	snap := ActiveSnapshot{
		User:           t.user,
		CurrentScene:   t.lastScene,
		ElapsedSeconds: time.Since(t.startedAt).Seconds(),
		SwitchCount:    t.switchCount,
	}
	t.mu.Unlock()
	t.active.PushSnapshot(snap)
}
