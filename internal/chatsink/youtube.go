package chatsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

// youtubeStartupGrace matches original_source/src/chat/youtube.rs's
// process_messages gate: live-chat APIs return a backlog burst on the
// first poll, which must be ignored rather than replayed as new chat.
const youtubeStartupGrace = 5 * time.Second

const youtubeDefaultPollInterval = 5 * time.Second

// YoutubeAdapter polls the YouTube Data API's liveChat messages
// endpoint, waiting the server-provided pollingIntervalMillis between
// polls (5s when the server gives none). It requires YOUTUBE_API_KEY in the
// environment; liveChatID is resolved by the operator ahead of time
// (YouTube's liveChatId is tied to the current broadcast, not the
// channel, so Noalbs does not attempt to discover it automatically).
type YoutubeAdapter struct {
	liveChatID string
	apiKey     string
	queue      *Queue
	logger     *slog.Logger
	client     *http.Client

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewYoutubeAdapter(liveChatID string, queue *Queue, logger *slog.Logger) *YoutubeAdapter {
	return &YoutubeAdapter{
		liveChatID: liveChatID,
		apiKey:     os.Getenv("YOUTUBE_API_KEY"),
		queue:      queue,
		logger:     logger.With("component", "youtube"),
		client:     &http.Client{Timeout: 10 * time.Second},
		stopCh:     make(chan struct{}),
	}
}

func (y *YoutubeAdapter) Start() {
	y.wg.Add(1)
	go y.run()
}

func (y *YoutubeAdapter) Stop() {
	y.stopOnce.Do(func() { close(y.stopCh) })
	y.wg.Wait()
}

type youtubeListResponse struct {
	NextPageToken         string `json:"nextPageToken"`
	PollingIntervalMillis int    `json:"pollingIntervalMillis"`
	Items                 []struct {
		Snippet struct {
			DisplayMessage string `json:"displayMessage"`
		} `json:"snippet"`
		AuthorDetails struct {
			DisplayName string `json:"displayName"`
			IsChatOwner bool   `json:"isChatOwner"`
			IsChatMod   bool   `json:"isChatModerator"`
		} `json:"authorDetails"`
	} `json:"items"`
}

func (y *YoutubeAdapter) run() {
	defer y.wg.Done()

	processMessages := false
	graceTimer := time.NewTimer(youtubeStartupGrace)
	defer graceTimer.Stop()

	pageToken := ""
	nextPoll := time.NewTimer(0)
	defer nextPoll.Stop()

	for {
		select {
		case <-y.stopCh:
			return
		case <-graceTimer.C:
			processMessages = true
			y.logger.Info("started processing new messages")
		case <-nextPoll.C:
			resp, err := y.poll(pageToken)
			if err != nil {
				y.logger.Warn("youtube poll failed", "error", err)
				nextPoll.Reset(youtubeDefaultPollInterval)
				continue
			}
			pageToken = resp.NextPageToken

			if processMessages {
				for _, item := range resp.Items {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second)
					ev := ChatEvent{
						Platform:      "youtube",
						Username:      item.AuthorDetails.DisplayName,
						Text:          item.Snippet.DisplayMessage,
						IsMod:         item.AuthorDetails.IsChatMod || item.AuthorDetails.IsChatOwner,
						IsBroadcaster: item.AuthorDetails.IsChatOwner,
					}
					if err := y.queue.SendChat(ctx, ev); err != nil {
						y.logger.Warn("dropping chat event: queue send failed", "error", err)
					}
					cancel()
				}
			} else if len(resp.Items) > 0 {
				y.logger.Debug("ignoring backlog messages during startup grace period", "count", len(resp.Items))
			}

			interval := youtubeDefaultPollInterval
			if resp.PollingIntervalMillis > 0 {
				interval = time.Duration(resp.PollingIntervalMillis) * time.Millisecond
			}
			nextPoll.Reset(interval)
		}
	}
}

func (y *YoutubeAdapter) poll(pageToken string) (*youtubeListResponse, error) {
	q := url.Values{}
	q.Set("liveChatId", y.liveChatID)
	q.Set("part", "snippet,authorDetails")
	q.Set("key", y.apiKey)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	reqURL := "https://www.googleapis.com/youtube/v3/liveChat/messages?" + q.Encode()

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("youtube liveChat.list: unexpected status %d", resp.StatusCode)
	}

	var out youtubeListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding youtube response: %w", err)
	}
	return &out, nil
}
