package teams

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return &Report{
		Mentions: []Mention{
			{
				Timestamp:   base,
				ThreadID:    "19:abc@thread.tacv2",
				ThreadTopic: "General",
				Sender:      "Starr Frampton",
				Category:    "channel",
				PlainText:   "Hi @General",
				IsRead:      true,
			},
			{
				Timestamp: base.Add(-time.Hour),
				ThreadID:  "19:def@thread.tacv2",
				Sender:    "Unknown",
				Category:  "chat",
			},
		},
		Summary:       Summary{Mentions: 2, ThreadsScanned: 3},
		LookbackHours: 1,
		GeneratedAt:   base,
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteJSON(&buf))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "2025-01-15T10:00:00Z", decoded[0]["timestamp"])
	assert.Equal(t, "19:abc@thread.tacv2", decoded[0]["channel"])
	assert.Equal(t, "Starr Frampton", decoded[0]["user"])
	assert.Equal(t, "Hi @General", decoded[0]["text"])
	assert.Equal(t, true, decoded[0]["is_read"])
	assert.Equal(t, "channel", decoded[0]["mention_type"])

	assert.Equal(t, "", decoded[1]["text"])
	assert.Equal(t, false, decoded[1]["is_read"])
}

func TestWriteHuman(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteHuman(&buf))
	out := buf.String()

	assert.Contains(t, out, "Found 2 mention(s) in last 1 hour(s)")
	assert.Contains(t, out, "Scanned 3 message thread(s)")
	assert.Contains(t, out, "1. [read] 2025-01-15 10:00:00")
	assert.Contains(t, out, "From: Starr Frampton")
	assert.Contains(t, out, "Thread: General (19:abc@thread.tacv2)")
	assert.Contains(t, out, "Message: Hi @General")
	assert.Contains(t, out, "2. [unread]")
	assert.Contains(t, out, "Message: (message content not recovered)")
	assert.NotContains(t, out, "Skipped")
}

func TestWriteHumanAllTimeAndSkips(t *testing.T) {
	report := sampleReport()
	report.AllMentions = true
	report.Summary.SkippedRecords = 2
	report.Summary.SkippedSegments = 1

	var buf bytes.Buffer
	require.NoError(t, report.WriteHuman(&buf))
	out := buf.String()

	assert.Contains(t, out, "Found 2 mention(s) in all time")
	assert.Contains(t, out, "Skipped 2 record(s) and 1 segment(s); results may be incomplete")
}

func TestExcerptTruncation(t *testing.T) {
	assert.Equal(t, "(message content not recovered)", excerpt(""))
	assert.Equal(t, "short", excerpt("short"))

	long := strings.Repeat("é", excerptLen+10)
	got := excerpt(long)
	assert.Equal(t, excerptLen+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
