package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// belaboxProbe scrapes belabox.net's SRT relay stats for a publisher path.
// It shares srt-live-server's JSON shape but reports throughput in
// bytes/sec rather than kbps, and resets its uptime counter on every
// reconnect — a fresh reconnect (uptime == 0) is treated as Offline rather
// than Online, since the bitrate sample for that instant is meaningless.
type belaboxProbe struct {
	statsURL  string
	publisher string
	client    *http.Client
}

type belaboxStats struct {
	Publishers map[string]belaboxPublisher `json:"publishers"`
}

type belaboxPublisher struct {
	BytesPerSec float64 `json:"bytes_sec"`
	UptimeSec   int     `json:"uptime"`
	RTTMs       float64 `json:"rtt_ms"`
}

func (p *belaboxProbe) Bitrate(ctx context.Context) StreamHealth {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.statsURL, nil)
	if err != nil {
		return errHealth(err.Error())
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return errHealth(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errHealth(fmt.Sprintf("belabox stats: unexpected status %d", resp.StatusCode))
	}

	var stats belaboxStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return errHealth(fmt.Sprintf("belabox stats: decoding json: %v", err))
	}

	pub, ok := stats.Publishers[p.publisher]
	if !ok || pub.UptimeSec == 0 {
		return StreamHealth{Kind: Offline}
	}

	kbps := int(pub.BytesPerSec * 8 / 1000)
	return StreamHealth{Kind: Online, BitrateKbps: kbps, RTTMs: pub.RTTMs, HasRTT: true}
}

func (p *belaboxProbe) SourceInfo() string {
	return fmt.Sprintf("belabox %s", p.publisher)
}
