package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// nimbleProbe scrapes a Nimble Streamer JSON stats endpoint, matching the
// stream on application/key. The server id only labels SourceInfo.
type nimbleProbe struct {
	id          string
	statsURL    string
	application string
	key         string
	client      *http.Client
}

type nimbleStats struct {
	Streams []nimbleStream `json:"streams"`
}

type nimbleStream struct {
	App     string  `json:"app"`
	Name    string  `json:"name"`
	Bitrate int     `json:"bitrate_kbps"`
	RTTMs   float64 `json:"rtt_ms"`
}

func (p *nimbleProbe) Bitrate(ctx context.Context) StreamHealth {
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
		return errHealth(fmt.Sprintf("nimble stats: unexpected status %d", resp.StatusCode))
	}

	var stats nimbleStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return errHealth(fmt.Sprintf("nimble stats: decoding json: %v", err))
	}

	for _, s := range stats.Streams {
		if s.App == p.application && s.Name == p.key {
			return StreamHealth{Kind: Online, BitrateKbps: s.Bitrate, RTTMs: s.RTTMs, HasRTT: true}
		}
	}

	return StreamHealth{Kind: Offline}
}

func (p *nimbleProbe) SourceInfo() string {
	return fmt.Sprintf("nimble[%s] %s/%s", p.id, p.application, p.key)
}
