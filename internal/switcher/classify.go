package switcher

import (
	"time"

	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/state"
	"github.com/noalbs/noalbs/internal/streamserver"
)

// sample pairs one tick's probe result with the entry that produced it.
type sample struct {
	entry  config.StreamServerEntry
	health streamserver.StreamHealth
}

// classifySample maps a single probe reading to a SwitchType using the
// configured triggers. Offline bitrate/RTT thresholds can upgrade an
// otherwise-Low reading all the way to Offline.
func classifySample(h streamserver.StreamHealth, tr config.Triggers) SwitchType {
	switch h.Kind {
	case streamserver.Offline:
		return SwitchOffline
	case streamserver.Error:
		return SwitchNormal // unreachable: callers filter Error samples first
	}

	cls := SwitchNormal
	if tr.Low != nil && h.BitrateKbps <= *tr.Low {
		cls = SwitchLow
	}
	if tr.RTT != nil && h.HasRTT && h.RTTMs >= float64(*tr.RTT) && cls == SwitchNormal {
		cls = SwitchRtt
	}
	if tr.Offline != nil && h.BitrateKbps <= *tr.Offline {
		cls = SwitchOffline
	}
	if tr.RTTOffline != nil && h.HasRTT && h.RTTMs >= float64(*tr.RTTOffline) {
		cls = SwitchOffline
	}
	return cls
}

// suppressed reports whether entry's Normal contribution is currently
// suppressed by its depends_on grace period: it never contributes
// Normal within back_to_normal_seconds of the named probe last
// reporting Online.
func suppressed(entry config.StreamServerEntry, st *state.State, now time.Time) bool {
	if entry.DependsOn == nil {
		return false
	}
	lastOnline, ok := st.DependsOnDeadline(entry.DependsOn.Name)
	if !ok {
		return false
	}
	return now.Before(lastOnline.Add(time.Duration(entry.DependsOn.BackToNormalSeconds) * time.Second))
}

// classify implements the aggregation rule: the first priority-ordered
// server that is Online, unsuppressed, and classifies Normal wins
// outright. Otherwise the worst class among all non-Error samples
// decides, with the highest-priority contributor at that severity
// supplying override_scenes.
//
// ok is false when every sample was Error (no usable data this tick);
// callers must not advance hysteresis in that case.
func classify(samples []sample, tr config.Triggers, st *state.State, now time.Time) (class SwitchType, winner *config.StreamServerEntry, ok bool) {
	for i := range samples {
		smp := samples[i]
		if smp.health.Kind != streamserver.Online {
			continue
		}
		if classifySample(smp.health, tr) != SwitchNormal {
			continue
		}
		if suppressed(smp.entry, st, now) {
			continue
		}
		return SwitchNormal, &samples[i].entry, true
	}

	worst := SwitchNormal
	var worstEntry *config.StreamServerEntry
	usable := false

	for i := range samples {
		smp := samples[i]
		if smp.health.Kind == streamserver.Error {
			continue
		}
		usable = true

		cls := classifySample(smp.health, tr)
		if cls == SwitchNormal && suppressed(smp.entry, st, now) {
			// Never credit a suppressed probe's Normal reading; treat it
			// as merely degraded rather than fully recovered.
			cls = SwitchLow
		}
		if worstEntry == nil || cls.severity() > worst.severity() {
			worst = cls
			worstEntry = &samples[i].entry
		}
	}

	if !usable {
		return SwitchNormal, nil, false
	}
	return worst, worstEntry, true
}
