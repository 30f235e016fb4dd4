package teams

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsaults/comms-assistant/leveldb/log"
)

// The fixtures below write a real write-ahead log so a run exercises the
// whole stack: log framing, IndexedDB key layout, structured-clone values.

func appendClone(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, '0')
	case bool:
		if t {
			return append(buf, 'T')
		}
		return append(buf, 'F')
	case float64:
		buf = append(buf, 'N')
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(t))
	case string:
		buf = append(buf, '"')
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		return append(buf, t...)
	case map[string]any:
		buf = append(buf, 'o')
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendClone(buf, k)
			buf = appendClone(buf, t[k])
		}
		buf = append(buf, '{')
		return binary.AppendUvarint(buf, uint64(len(t)))
	default:
		panic("unsupported fixture value")
	}
}

func cloneValue(fields map[string]any) []byte {
	buf := binary.AppendUvarint(nil, 3) // backing-store version
	buf = append(buf, 0xff, 0x09)       // blink envelope
	buf = append(buf, 0xff, 0x0f)       // v8 header
	return appendClone(buf, fields)
}

func objectStoreKey(databaseID byte, userKey string) []byte {
	buf := []byte{0x00, databaseID, 0x01, 0x01, 0x01} // prefix + string key type
	buf = binary.AppendUvarint(buf, uint64(len(userKey)))
	for _, c := range userKey {
		buf = append(buf, byte(c>>8), byte(c))
	}
	return buf
}

type fixtureEntry struct {
	recordType byte
	key        []byte
	value      []byte
}

func appendLogBatch(data []byte, sequenceNumber uint64, entries []fixtureEntry) []byte {
	batch := binary.LittleEndian.AppendUint64(nil, sequenceNumber)
	batch = binary.LittleEndian.AppendUint32(batch, uint32(len(entries)))
	for _, e := range entries {
		batch = append(batch, e.recordType)
		batch = binary.AppendUvarint(batch, uint64(len(e.key)))
		batch = append(batch, e.key...)
		if e.recordType == log.TypeValue {
			batch = binary.AppendUvarint(batch, uint64(len(e.value)))
			batch = append(batch, e.value...)
		}
	}
	data = binary.LittleEndian.AppendUint32(data, log.MaskedChecksum(log.TypeFull, batch))
	data = binary.LittleEndian.AppendUint16(data, uint16(len(batch)))
	data = append(data, log.TypeFull)
	return append(data, batch...)
}

func writeTeamsFixture(t *testing.T, base time.Time) string {
	t.Helper()
	stores := DefaultStoreIDs()

	activity := func(isRead bool) []byte {
		return cloneValue(map[string]any{
			"activityId":      "A1",
			"activityType":    "mention",
			"activitySubtype": "channel",
			"sourceThreadId":  "T1",
			"sourceMessageId": "161234",
			"timestamp":       float64(base.UnixMilli()),
			"isRead":          isRead,
		})
	}
	replyChain := cloneValue(map[string]any{
		"conversationId": "T1",
		"replyChainId":   "161234",
		"messageMap": map[string]any{
			"161234": map[string]any{
				"id":                  "161234",
				"creator":             "8:orgid:u1",
				"imDisplayName":       "Starr Frampton",
				"content":             "<p>Hi @General</p>",
				"originalArrivalTime": float64(base.Add(-time.Minute).UnixMilli()),
			},
		},
	})
	conversation := cloneValue(map[string]any{
		"id":               "T1",
		"threadProperties": map[string]any{"topic": "General"},
	})
	staleKey := objectStoreKey(byte(stores.Activities), "stale")

	var data []byte
	data = appendLogBatch(data, 1, []fixtureEntry{
		// Superseded by the rewrite in the next batch.
		{log.TypeValue, objectStoreKey(byte(stores.Activities), "A1"), activity(false)},
		{log.TypeValue, objectStoreKey(byte(stores.ReplyChains), "T1-161234"), replyChain},
		{log.TypeValue, objectStoreKey(byte(stores.Conversations), "T1"), conversation},
		{log.TypeValue, staleKey, activity(false)},
	})
	data = appendLogBatch(data, 5, []fixtureEntry{
		{log.TypeValue, objectStoreKey(byte(stores.Activities), "A1"), activity(true)},
		// Tombstoned keys never reach extraction.
		{log.TypeDeletion, staleKey, nil},
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000003.log"), data, 0o644))
	return dir
}

func TestRunEndToEnd(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	dir := writeTeamsFixture(t, base)

	report, err := Run(Options{
		DBPath:      dir,
		AllMentions: true,
		Now:         func() time.Time { return base.Add(time.Hour) },
	})
	require.NoError(t, err)

	require.Len(t, report.Mentions, 1)
	m := report.Mentions[0]
	assert.Equal(t, base, m.Timestamp)
	assert.Equal(t, "T1", m.ThreadID)
	assert.Equal(t, "General", m.ThreadTopic)
	assert.Equal(t, "Starr Frampton", m.Sender)
	assert.Equal(t, "8:orgid:u1", m.SenderID)
	assert.Equal(t, "channel", m.Category)
	assert.Equal(t, "Hi @General", m.PlainText)
	// The superseding write flipped the read flag; the older version must
	// not win, and the tombstoned activity must not resurface.
	assert.True(t, m.IsRead)

	assert.Equal(t, 1, report.Summary.Mentions)
	assert.Equal(t, 1, report.Summary.ThreadsScanned)
	assert.Equal(t, 0, report.Summary.SkippedRecords)
	assert.Equal(t, 0, report.Summary.SkippedSegments)
}

func TestRunLookbackWindow(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	dir := writeTeamsFixture(t, base)

	// Mention is 30 minutes old against a 1 hour window.
	report, err := Run(Options{
		DBPath:        dir,
		LookbackHours: 1,
		Now:           func() time.Time { return base.Add(30 * time.Minute) },
	})
	require.NoError(t, err)
	assert.Len(t, report.Mentions, 1)

	// Same database, window long since passed.
	report, err = Run(Options{
		DBPath:        dir,
		LookbackHours: 1,
		Now:           func() time.Time { return base.Add(48 * time.Hour) },
	})
	require.NoError(t, err)
	assert.Empty(t, report.Mentions)
}

func TestRunIsIdempotent(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	dir := writeTeamsFixture(t, base)
	now := func() time.Time { return base.Add(time.Hour) }

	var outputs [2]bytes.Buffer
	for i := range outputs {
		report, err := Run(Options{DBPath: dir, AllMentions: true, Now: now})
		require.NoError(t, err)
		require.NoError(t, report.WriteJSON(&outputs[i]))
	}
	assert.Equal(t, outputs[0].String(), outputs[1].String())
}

func TestRunMissingDatabase(t *testing.T) {
	_, err := Run(Options{DBPath: filepath.Join(t.TempDir(), "nope")})
	assert.True(t, errors.Is(err, ErrDatabaseUnavailable))
}

func TestRunUnrecognizedDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	_, err := Run(Options{DBPath: dir})
	assert.True(t, errors.Is(err, ErrDatabaseUnavailable))
}
