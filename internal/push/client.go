// Package push subscribes to the server's notification channel: a
// server-sent-events stream keyed by the client-chosen channel id, carrying
// out-of-band resume offers and status overrides during an upload.
package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"uplift/internal/logging"
	"uplift/pkg/types"
)

// Event is one decoded push message. Exactly one of Resumable and Status is
// populated, depending on Name.
type Event struct {
	Name      string
	Resumable map[string]types.ResumeOffer
	Status    map[string]int
}

// Client consumes the /events stream.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     logging.Logger

	// retryDelay spaces reconnect attempts when the stream drops
	retryDelay time.Duration
}

// NewClient creates a push client for the server at baseURL.
func NewClient(baseURL string, httpc *http.Client, log logging.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpc: httpc, log: log, retryDelay: 2 * time.Second}
}

// Subscribe opens the event stream for channelID and delivers decoded events
// until ctx is cancelled. The stream reconnects on failure; the returned
// channel is closed when ctx ends.
func (c *Client) Subscribe(ctx context.Context, channelID string) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		for {
			if err := c.stream(ctx, channelID, out); err != nil && ctx.Err() == nil {
				c.log.Warn(ctx, "event stream dropped, reconnecting", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
		}
	}()
	return out
}

func (c *Client) stream(ctx context.Context, channelID string, out chan<- Event) error {
	u := c.baseURL + "/events?" + url.Values{"channel": {channelID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	var name string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" && data.Len() > 0 {
				if ev, ok := decode(name, data.String()); ok {
					select {
					case out <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				} else {
					c.log.Warn(ctx, "dropping undecodable push event", "event", name)
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

func decode(name, data string) (Event, bool) {
	switch name {
	case types.EventResumable:
		var payload map[string]types.ResumeOffer
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Event{}, false
		}
		return Event{Name: name, Resumable: payload}, true
	case types.EventStatus:
		var payload map[string]int
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Event{}, false
		}
		return Event{Name: name, Status: payload}, true
	default:
		return Event{}, false
	}
}
