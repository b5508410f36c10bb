// Package streamserver implements the stream-health probe contract the
// switcher polls every tick: one non-blocking bitrate/RTT sample per
// configured stream server, bounded by a fixed per-tick deadline.
package streamserver

import (
	"context"
	"net/http"
	"time"

	"github.com/noalbs/noalbs/internal/config"
)

// ProbeTimeout bounds every outbound probe request so a single slow or
// hanging stream server never stalls the switcher's tick.
const ProbeTimeout = 1 * time.Second

// HealthKind tags the variant carried by a StreamHealth value.
type HealthKind int

const (
	// Online indicates the probe observed a healthy, in-spec stream.
	Online HealthKind = iota
	// Low indicates the probe-side logic judged the stream degraded.
	Low
	// Offline indicates the stream server reports no active publisher.
	Offline
	// Error indicates the probe failed to produce a reading this tick;
	// it carries no signal and must not advance hysteresis state.
	Error
)

func (k HealthKind) String() string {
	switch k {
	case Online:
		return "online"
	case Low:
		return "low"
	case Offline:
		return "offline"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StreamHealth is the result of a single probe.
type StreamHealth struct {
	Kind        HealthKind
	BitrateKbps int
	RTTMs       float64
	HasRTT      bool
	ErrKind     string
}

// StreamServer is the probe interface the switcher consumes. Implementations
// must return within ProbeTimeout and must never block indefinitely.
type StreamServer interface {
	// Bitrate takes a single non-blocking sample. Any transport error is
	// mapped to a StreamHealth with Kind == Error rather than returned,
	// since a probe failure must not interrupt the switcher's loop.
	Bitrate(ctx context.Context) StreamHealth

	// SourceInfo returns a human-readable description for chat
	// notifications and the admin API.
	SourceInfo() string
}

// New constructs the concrete StreamServer implementation for entry.Probe.Kind.
func New(entry config.StreamServerEntry, client *http.Client) (StreamServer, error) {
	if client == nil {
		client = defaultClient()
	}
	p := entry.Probe
	switch p.Kind {
	case config.ProbeKindNginx:
		return &nginxProbe{statsURL: p.StatsURL, application: p.Application, key: p.Key, client: client}, nil
	case config.ProbeKindNodeMediaServer:
		return &nmsProbe{statsURL: p.StatsURL, application: p.Application, key: p.Key, auth: p.Auth, client: client}, nil
	case config.ProbeKindNimble:
		return &nimbleProbe{id: p.ID, statsURL: p.StatsURL, application: p.Application, key: p.Key, client: client}, nil
	case config.ProbeKindSRTLiveServer:
		return &slsProbe{statsURL: p.StatsURL, publisher: p.Publisher, client: client}, nil
	case config.ProbeKindBelabox:
		return &belaboxProbe{statsURL: p.StatsURL, publisher: p.Publisher, client: client}, nil
	default:
		return nil, &unsupportedProbeError{kind: p.Kind}
	}
}

type unsupportedProbeError struct{ kind string }

func (e *unsupportedProbeError) Error() string {
	return "streamserver: unsupported probe kind " + e.kind
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: ProbeTimeout}
}

func errHealth(kind string) StreamHealth {
	return StreamHealth{Kind: Error, ErrKind: kind}
}
