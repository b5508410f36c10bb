package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// slsProbe scrapes an srt-live-server JSON stats endpoint for a publisher
// stream path.
type slsProbe struct {
	statsURL  string
	publisher string
	client    *http.Client
}

type slsStats struct {
	Publishers map[string]slsPublisher `json:"publishers"`
}

type slsPublisher struct {
	KbpsStats slsKbpsStats `json:"kbps"`
	SRT       slsSRTStats  `json:"srt"`
}

type slsKbpsStats struct {
	Mix float64 `json:"mix"`
}

// slsSRTStats mirrors the subset of libsrt's SRT_TRACEBSTATS that
// srt-live-server forwards in its publisher stats: msRTT is the socket's
// smoothed round-trip time in milliseconds.
type slsSRTStats struct {
	MsRTT float64 `json:"msRTT"`
}

func (p *slsProbe) Bitrate(ctx context.Context) StreamHealth {
	stats, err := fetchSLSStats(ctx, p.client, p.statsURL)
	if err != nil {
		return errHealth(err.Error())
	}

	pub, ok := stats.Publishers[p.publisher]
	if !ok {
		return StreamHealth{Kind: Offline}
	}

	return StreamHealth{Kind: Online, BitrateKbps: int(pub.KbpsStats.Mix), RTTMs: pub.SRT.MsRTT, HasRTT: true}
}

func (p *slsProbe) SourceInfo() string {
	return fmt.Sprintf("srt-live-server %s", p.publisher)
}

func fetchSLSStats(ctx context.Context, client *http.Client, url string) (*slsStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("srt-live-server stats: unexpected status %d", resp.StatusCode)
	}

	var stats slsStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("srt-live-server stats: decoding json: %w", err)
	}
	return &stats, nil
}
