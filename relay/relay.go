// Package relay forwards reconciled mentions to the local dashboard relay
// service. Relay failures are reported to the caller but never fail a
// pipeline run; the report already exists by the time this is called.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/teams"
)

const defaultTimeout = 10 * time.Second

// Client posts mention and stats payloads to the relay's JSON API.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

func NewClient(baseURL, clientID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type mentionPayload struct {
	Timestamp  string `json:"timestamp"`
	Channel    string `json:"channel"`
	User       string `json:"user"`
	Text       string `json:"text"`
	IsQuestion bool   `json:"is_question"`
	Responded  bool   `json:"responded"`
	ClientID   string `json:"client_id"`
}

type statsPayload struct {
	ClientID         string   `json:"client_id"`
	UnreadCount      int      `json:"unread_count"`
	MessagesLastHour int      `json:"messages_last_hour"`
	ActiveChannels   []string `json:"active_channels"`
	Timestamp        string   `json:"timestamp"`
}

// Report posts every mention in the report, then a stats summary. It
// returns the number of mentions delivered and the first error seen;
// delivery continues past individual failures.
func (c *Client) Report(ctx context.Context, report *teams.Report) (int, error) {
	delivered := 0
	var firstErr error

	for _, m := range report.Mentions {
		payload := mentionPayload{
			Timestamp:  m.Timestamp.Format(time.RFC3339),
			Channel:    m.ThreadID,
			User:       m.Sender,
			Text:       m.PlainText,
			IsQuestion: strings.Contains(m.PlainText, "?"),
			Responded:  false,
			ClientID:   c.clientID,
		}
		if err := c.post(ctx, "/api/mention", payload); err != nil {
			zlog.Warn().Err(err).Str("thread", m.ThreadID).Msg("failed to report mention")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}

	unread := 0
	channelSet := make(map[string]struct{})
	for _, m := range report.Mentions {
		if !m.IsRead {
			unread++
		}
		channelSet[m.ThreadID] = struct{}{}
	}
	channels := make([]string, 0, len(channelSet))
	for ch := range channelSet {
		channels = append(channels, ch)
	}

	stats := statsPayload{
		ClientID:         c.clientID,
		UnreadCount:      unread,
		MessagesLastHour: len(report.Mentions),
		ActiveChannels:   channels,
		Timestamp:        report.GeneratedAt.Format(time.RFC3339),
	}
	if err := c.post(ctx, "/api/stats", stats); err != nil {
		zlog.Warn().Err(err).Msg("failed to report stats")
		if firstErr == nil {
			firstErr = err
		}
	}

	return delivered, firstErr
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned %s for %s", resp.Status, path)
	}
	return nil
}
