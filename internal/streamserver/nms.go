package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// nmsProbe scrapes a node-media-server JSON stats endpoint. RTMP carries
// no socket-level RTT the way SRT does, so this probe never sets HasRTT;
// triggers.rtt/rtt_offline simply never fire against an nms-backed server.
type nmsProbe struct {
	statsURL    string
	application string
	key         string
	auth        *string
	client      *http.Client
}

type nmsStats struct {
	Publishers map[string]nmsPublisherGroup `json:"publishers"`
}

type nmsPublisherGroup map[string]nmsStream

type nmsStream struct {
	VideoBitrate int `json:"videoBitrate"`
	AudioBitrate int `json:"audioBitrate"`
}

func (p *nmsProbe) Bitrate(ctx context.Context) StreamHealth {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.statsURL, nil)
	if err != nil {
		return errHealth(err.Error())
	}
	if p.auth != nil {
		req.Header.Set("Authorization", *p.auth)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errHealth(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errHealth(fmt.Sprintf("nms stats: unexpected status %d", resp.StatusCode))
	}

	var stats nmsStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return errHealth(fmt.Sprintf("nms stats: decoding json: %v", err))
	}

	group, ok := stats.Publishers[p.application]
	if !ok {
		return StreamHealth{Kind: Offline}
	}
	stream, ok := group[p.key]
	if !ok {
		return StreamHealth{Kind: Offline}
	}

	return StreamHealth{Kind: Online, BitrateKbps: stream.VideoBitrate + stream.AudioBitrate}
}

func (p *nmsProbe) SourceInfo() string {
	return fmt.Sprintf("node-media-server %s/%s", p.application, p.key)
}
