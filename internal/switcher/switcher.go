// Package switcher implements the Switcher decision engine: the
// Gate/Sample/Classify/Hysteresis/Act/Sleep loop that fuses stream
// server telemetry and broadcaster status into scene-change commands.
package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noalbs/noalbs/internal/broadcaster"
	"github.com/noalbs/noalbs/internal/chatsink"
	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/noalbserr"
	"github.com/noalbs/noalbs/internal/state"
	"github.com/noalbs/noalbs/internal/streamserver"
)

// TickInterval is the Switcher's sleep between samples.
const TickInterval = 1 * time.Second

// onlyWhenStreamingPoll bounds how long the gate waits before rechecking
// is_streaming; there is no dedicated streaming-resumed notifier, so the
// gate polls at this interval instead, always cancellable by ctx.
const onlyWhenStreamingPoll = 500 * time.Millisecond

// SessionRecorder is the hook the Switcher reports is_streaming
// transitions and committed scene changes to, so a session's per-scene
// dwell time can be reconstructed afterward. internal/sessionhistory
// implements it; tests can supply a fake or leave it nil.
type SessionRecorder interface {
	SessionStarted(at time.Time)
	SessionEnded(at time.Time)
	SceneChanged(scene string, at time.Time)
}

// EventRecorder is the hook the Switcher reports notable decisions to,
// for later inspection through the admin API. internal/eventlog
// implements it; tests can supply a fake or leave it nil.
type EventRecorder interface {
	PushEvent(level, eventType, message string)
}

// Switcher runs the decision loop for a single user. GetConfig is
// called fresh every tick so that supervisor mutations (threshold
// edits, enable/disable, stream server changes) take effect without
// restarting the loop.
type Switcher struct {
	name        string
	getConfig   func() *config.Config
	state       *state.State
	broadcaster broadcaster.BroadcastingSoftware
	chat        *chatsink.Queue
	sessions    SessionRecorder
	events      EventRecorder
	logger      *slog.Logger
	probeClient streamserverClientFactory

	mu           sync.Mutex
	currentClass SwitchType
	wasStreaming bool
	offlineTimer *time.Timer
}

// streamserverClientFactory lets tests substitute fake probes without
// touching the network; production code passes streamserver.New.
type streamserverClientFactory func(entry config.StreamServerEntry) (streamserver.StreamServer, error)

// New constructs a Switcher. chat, sessions, and events may be nil.
func New(name string, getConfig func() *config.Config, st *state.State, bsw broadcaster.BroadcastingSoftware, chat *chatsink.Queue, sessions SessionRecorder, events EventRecorder, logger *slog.Logger) *Switcher {
	return &Switcher{
		name:        name,
		getConfig:   getConfig,
		state:       st,
		broadcaster: bsw,
		chat:        chat,
		sessions:    sessions,
		events:      events,
		logger:      logger.With("user", name, "component", "switcher"),
		probeClient: func(entry config.StreamServerEntry) (streamserver.StreamServer, error) { return streamserver.New(entry, nil) },
		currentClass: SwitchNormal,
	}
}

// pushEvent is a nil-safe helper so call sites don't each need to check
// s.events for nil.
func (s *Switcher) pushEvent(level, eventType, message string) {
	if s.events != nil {
		s.events.PushEvent(level, eventType, message)
	}
}

// Run executes the Gate/Sample/Classify/Hysteresis/Act/Sleep loop until
// ctx is cancelled.
func (s *Switcher) Run(ctx context.Context) error {
	for {
		if err := s.gate(ctx); err != nil {
			return err
		}

		s.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(TickInterval):
		}
	}
}

// gate blocks until bitrate_switcher_enabled, only_switch_when_streaming,
// and is_connected all permit a tick to proceed. Every wait is
// cancellable via ctx.
func (s *Switcher) gate(ctx context.Context) error {
	for {
		cfg := s.getConfig()

		if !cfg.Switcher.BitrateSwitcherEnabled {
			ready := func() bool { return s.getConfig().Switcher.BitrateSwitcherEnabled }
			if err := s.state.WaitSwitcherEnabled(ctx, ready); err != nil {
				return err
			}
			continue
		}
		if cfg.Switcher.OnlySwitchWhenStreaming && !s.broadcaster.IsStreaming() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(onlyWhenStreamingPoll):
			}
			continue
		}
		if !s.broadcaster.IsConnected() {
			if err := s.broadcaster.WaitConnected(ctx); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (s *Switcher) tick(ctx context.Context) {
	cfg := s.getConfig()

	if s.trackStreamingTransition(ctx, cfg) {
		return
	}

	entries := enabledStreamServers(cfg.Switcher.StreamServers)
	if len(entries) == 0 {
		return
	}

	samples := s.sampleAll(ctx, entries)
	now := time.Now()
	for _, smp := range samples {
		if smp.health.Kind == streamserver.Online {
			s.state.SetDependsOnDeadline(smp.entry.Name, now)
		}
	}

	class, winner, ok := classify(samples, cfg.Switcher.Triggers, s.state, now)
	if !ok {
		s.logger.Debug("no usable probe samples this tick")
		return
	}

	s.mu.Lock()
	current := s.currentClass
	s.mu.Unlock()

	attempt, instant := s.shouldAttempt(cfg, current, class)
	if !attempt {
		return
	}

	reason := reasonFor(class)
	ok2 := s.act(ctx, cfg, class, winner, reason)

	s.mu.Lock()
	if ok2 {
		s.currentClass = class
		s.state.SetLowRetryCount(0)
	} else if !instant {
		// Retry immediately next tick rather than waiting out another
		// full hysteresis cycle.
		s.state.SetLowRetryCount(cfg.Switcher.RetryAttempts)
	}
	s.mu.Unlock()

	if ok2 {
		if class == SwitchOffline {
			s.armOfflineAutoStop(cfg)
		} else {
			s.cancelOfflineTimer()
		}
	}
}

// shouldAttempt applies the hysteresis rule described in spec.md §4.3:
// a class at the same severity as the current scene's class resets the
// counter (Low and Rtt share a severity, so a Low<->Rtt flap never counts
// as a transition); improving classes under instantly_switch_on_recover
// bypass it; everything else requires the counter to reach retry_attempts
// before committing (checked before incrementing, so retry_attempts+1
// consecutive differing samples are needed to actually commit — matching
// the steady-low worked example).
func (s *Switcher) shouldAttempt(cfg *config.Config, current, class SwitchType) (attempt, instant bool) {
	if class.severity() == current.severity() {
		s.state.SetLowRetryCount(0)
		return false, false
	}

	improving := class.severity() < current.severity()
	if improving && cfg.Switcher.InstantlySwitchOnRecover {
		return true, true
	}

	count := s.state.Switcher().LowRetryCount
	if count >= cfg.Switcher.RetryAttempts {
		return true, false
	}
	s.state.SetLowRetryCount(count + 1)
	return false, false
}

func reasonFor(class SwitchType) state.SwitchReason {
	switch class {
	case SwitchNormal:
		return state.SwitchReasonNormal
	case SwitchLow:
		return state.SwitchReasonLow
	case SwitchRtt:
		return state.SwitchReasonRTT
	case SwitchOffline:
		return state.SwitchReasonOffline
	default:
		return state.SwitchReasonNormal
	}
}

// act resolves the target scene (honoring the winning server's
// override_scenes), checks it exists, and commits the scene change. It
// returns true only when the switch committed or was already a no-op
// because the broadcaster is already on the target scene.
func (s *Switcher) act(ctx context.Context, cfg *config.Config, class SwitchType, winner *config.StreamServerEntry, reason state.SwitchReason) bool {
	target := resolveScene(cfg.Switcher.SwitchingScenes, winner, class)

	scenes, err := s.broadcaster.SceneList(ctx)
	if err != nil {
		s.logger.Warn("broadcaster unavailable: scene list query failed", "error", err)
		s.pushEvent("warn", "broadcaster_unavailable", fmt.Sprintf("scene list query failed: %v", err))
		return false
	}
	if !containsScene(scenes, target) {
		s.logger.Warn("scene missing: configured target scene not found", "scene", target, "error", noalbserr.ErrSceneMissing)
		s.pushEvent("warn", "scene_missing", fmt.Sprintf("configured target scene %q not found", target))
		return false
	}

	if s.broadcaster.CurrentScene() == target {
		return true
	}

	if err := s.broadcaster.SetScene(ctx, target); err != nil {
		s.logger.Warn("broadcaster unavailable: set_scene failed", "scene", target, "error", err)
		s.pushEvent("warn", "broadcaster_unavailable", fmt.Sprintf("set_scene %q failed: %v", target, err))
		return false
	}

	s.state.SetLastScene(target, reason)
	s.logger.Info("scene committed", "scene", target, "reason", reason)
	s.pushEvent("info", "scene_committed", fmt.Sprintf("switched to %s (%s)", target, reason))
	if s.sessions != nil {
		s.sessions.SceneChanged(target, time.Now())
	}

	if cfg.Switcher.AutoSwitchNotification && s.chat != nil {
		s.chat.Notify(fmt.Sprintf("Switched to %s (%s)", target, reason))
	}
	return true
}

func resolveScene(scenes config.SwitchingScenes, winner *config.StreamServerEntry, class SwitchType) string {
	if winner != nil && winner.OverrideScenes != nil {
		if override := sceneFor(*winner.OverrideScenes, class); override != "" {
			return override
		}
	}
	return sceneFor(scenes, class)
}

func sceneFor(scenes config.SwitchingScenes, class SwitchType) string {
	switch class {
	case SwitchNormal:
		return scenes.Normal
	case SwitchLow, SwitchRtt:
		return scenes.Low
	default:
		return scenes.Offline
	}
}

func containsScene(scenes []string, target string) bool {
	for _, s := range scenes {
		if s == target {
			return true
		}
	}
	return false
}

func enabledStreamServers(entries []config.StreamServerEntry) []config.StreamServerEntry {
	out := make([]config.StreamServerEntry, 0, len(entries))
	for _, e := range entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// sampleAll invokes every enabled stream server concurrently, each
// bounded by streamserver.ProbeTimeout, preserving priority order in
// the returned slice.
func (s *Switcher) sampleAll(ctx context.Context, entries []config.StreamServerEntry) []sample {
	out := make([]sample, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry config.StreamServerEntry) {
			defer wg.Done()
			probe, err := s.probeClient(entry)
			if err != nil {
				out[i] = sample{entry: entry, health: streamserver.StreamHealth{Kind: streamserver.Error, ErrKind: err.Error()}}
				return
			}
			pctx, cancel := context.WithTimeout(ctx, streamserver.ProbeTimeout)
			defer cancel()
			out[i] = sample{entry: entry, health: probe.Bitrate(pctx)}
		}(i, entry)
	}
	wg.Wait()
	return out
}

// trackStreamingTransition reports session start/end, cancels the offline
// auto-stop timer on a stream stop, and runs the starting-scene handshake
// on a stream start (no scene is commanded on a stop), all inline
// in the Switcher's single task so no set_scene call ever races a
// tick's own Act step. It returns true when the rest of this tick
// should be skipped because the starting-scene handshake just ran and
// switch_from_starting_scene_to_live_scene is not set (so the starting
// scene is meant to hold until a future tick, not be immediately
// overridden by this one).
func (s *Switcher) trackStreamingTransition(ctx context.Context, cfg *config.Config) bool {
	streaming := s.broadcaster.IsStreaming()

	s.mu.Lock()
	was := s.wasStreaming
	s.wasStreaming = streaming
	s.mu.Unlock()

	if streaming == was {
		return false
	}

	if !streaming {
		if s.sessions != nil {
			s.sessions.SessionEnded(time.Now())
		}
		s.cancelOfflineTimer()
		return false
	}

	if s.sessions != nil {
		s.sessions.SessionStarted(time.Now())
	}

	if !cfg.OptionalOptions.SwitchToStartingSceneOnStreamStart || cfg.OptionalScenes.Starting == nil {
		return false
	}

	if err := s.broadcaster.SetScene(ctx, *cfg.OptionalScenes.Starting); err != nil {
		s.logger.Warn("starting scene handshake failed", "scene", *cfg.OptionalScenes.Starting, "error", err)
		return false
	}
	return !cfg.OptionalOptions.SwitchFromStartingSceneToLiveScene
}

// armOfflineAutoStop is invoked by Act on committing an Offline
// transition; if optional_options.offline_timeout is set, it starts (or
// restarts) a timer that stops streaming if still offline when it fires.
func (s *Switcher) armOfflineAutoStop(cfg *config.Config) {
	if cfg.OptionalOptions.OfflineTimeout == nil {
		return
	}
	s.cancelOfflineTimer()

	d := time.Duration(*cfg.OptionalOptions.OfflineTimeout) * time.Minute
	s.mu.Lock()
	s.offlineTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		cls := s.currentClass
		s.mu.Unlock()
		if cls != SwitchOffline {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.broadcaster.StopStreaming(ctx); err != nil {
			s.logger.Warn("offline auto-stop: stop_streaming failed", "error", err)
		} else {
			s.logger.Info("offline auto-stop: streaming stopped after prolonged offline")
		}
	})
	s.mu.Unlock()
}

func (s *Switcher) cancelOfflineTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offlineTimer != nil {
		s.offlineTimer.Stop()
		s.offlineTimer = nil
	}
}
