package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsaults/comms-assistant/teams"
)

func sampleReport() *teams.Report {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return &teams.Report{
		Mentions: []teams.Mention{
			{
				Timestamp: base,
				ThreadID:  "19:abc@thread.tacv2",
				Sender:    "Starr Frampton",
				PlainText: "can you take a look?",
				IsRead:    false,
			},
			{
				Timestamp: base.Add(-time.Hour),
				ThreadID:  "19:def@thread.tacv2",
				Sender:    "Someone Else",
				PlainText: "thanks",
				IsRead:    true,
			},
		},
		GeneratedAt: base,
	}
}

func TestReportDeliversMentionsAndStats(t *testing.T) {
	var mentions []map[string]any
	var stats map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		switch r.URL.Path {
		case "/api/mention":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			mentions = append(mentions, payload)
		case "/api/stats":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&stats))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "test-host")
	delivered, err := client.Report(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	require.Len(t, mentions, 2)
	assert.Equal(t, "2025-01-15T10:00:00Z", mentions[0]["timestamp"])
	assert.Equal(t, "19:abc@thread.tacv2", mentions[0]["channel"])
	assert.Equal(t, "Starr Frampton", mentions[0]["user"])
	assert.Equal(t, "can you take a look?", mentions[0]["text"])
	assert.Equal(t, true, mentions[0]["is_question"])
	assert.Equal(t, false, mentions[0]["responded"])
	assert.Equal(t, "test-host", mentions[0]["client_id"])
	assert.Equal(t, false, mentions[1]["is_question"])

	require.NotNil(t, stats)
	assert.Equal(t, "test-host", stats["client_id"])
	assert.Equal(t, float64(1), stats["unread_count"])
	assert.Equal(t, float64(2), stats["messages_last_hour"])
	assert.Len(t, stats["active_channels"], 2)
	assert.Equal(t, "2025-01-15T10:00:00Z", stats["timestamp"])
}

func TestReportContinuesPastFailures(t *testing.T) {
	var statsPosted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/mention" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		statsPosted = true
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-host")
	delivered, err := client.Report(context.Background(), sampleReport())
	assert.Error(t, err)
	assert.Equal(t, 0, delivered)
	// Stats still go out after mention failures.
	assert.True(t, statsPosted)
}

func TestReportUnreachableRelay(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "test-host")
	delivered, err := client.Report(context.Background(), sampleReport())
	assert.Error(t, err)
	assert.Equal(t, 0, delivered)
}
