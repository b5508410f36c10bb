package streamserver

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
)

// nginxProbe scrapes an nginx-rtmp-module `stat` XML endpoint for the
// matching stream client under the configured application.
type nginxProbe struct {
	statsURL    string
	application string
	key         string
	client      *http.Client
}

type nginxStat struct {
	XMLName xml.Name         `xml:"rtmp"`
	Servers []nginxServer    `xml:"server"`
}

type nginxServer struct {
	Applications []nginxApplication `xml:"application"`
}

type nginxApplication struct {
	Name    string       `xml:"name"`
	Streams []nginxStream `xml:"live>stream"`
}

type nginxStream struct {
	Name      string `xml:"name"`
	BWVideo   int    `xml:"bw_video"`
	BWAudio   int    `xml:"bw_audio"`
	Publishing *struct{} `xml:"publishing"`
}

func (p *nginxProbe) Bitrate(ctx context.Context) StreamHealth {
	stat, err := fetchNginxStat(ctx, p.client, p.statsURL)
	if err != nil {
		return errHealth(err.Error())
	}

	for _, srv := range stat.Servers {
		for _, app := range srv.Applications {
			if app.Name != p.application {
				continue
			}
			for _, s := range app.Streams {
				if s.Name != p.key {
					continue
				}
				if s.Publishing == nil {
					return StreamHealth{Kind: Offline}
				}
				return StreamHealth{Kind: Online, BitrateKbps: (s.BWVideo + s.BWAudio) / 1000}
			}
		}
	}

	return StreamHealth{Kind: Offline}
}

func (p *nginxProbe) SourceInfo() string {
	return fmt.Sprintf("nginx-rtmp %s/%s", p.application, p.key)
}

func fetchNginxStat(ctx context.Context, client *http.Client, url string) (*nginxStat, error) {
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
		return nil, fmt.Errorf("nginx stats: unexpected status %d", resp.StatusCode)
	}

	var stat nginxStat
	if err := xml.NewDecoder(resp.Body).Decode(&stat); err != nil {
		return nil, fmt.Errorf("nginx stats: decoding xml: %w", err)
	}
	return &stat, nil
}
