// Package indexeddb exposes a Chromium IndexedDB directory as a stream of
// parsed records tagged with their logical database and object store.
package indexeddb

import (
	"fmt"

	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/indexeddb/chromium"
	"github.com/wsaults/comms-assistant/leveldb/db"
)

// Record is one fully parsed IndexedDB record.
type Record struct {
	Path           string               `json:"path"`
	Offset         int64                `json:"offset"`
	Key            chromium.IndexedDBKey `json:"key"`
	Value          any                  `json:"value,omitempty"`
	SequenceNumber uint64               `json:"sequence_number"`
	RecordType     byte                 `json:"type"`
	Superseded     bool                 `json:"superseded"`
	DatabaseID     int                  `json:"database_id"`
	ObjectStoreID  int                  `json:"object_store_id"`
}

// FolderReader parses every record of an IndexedDB (LevelDB) directory.
// A reader is good for one pass; records are not restartable mid-stream.
type FolderReader struct {
	levelDBReader  *db.FolderReader
	skippedRecords int
}

// NewFolderReader opens path read-only. The underlying files stay owned by
// the live application; nothing here ever writes.
func NewFolderReader(path string) (*FolderReader, error) {
	levelDBReader, err := db.NewFolderReader(path)
	if err != nil {
		return nil, err
	}
	return &FolderReader{levelDBReader: levelDBReader}, nil
}

// SkippedRecords reports how many records failed key or value parsing
// during the last read.
func (fr *FolderReader) SkippedRecords() int { return fr.skippedRecords }

// SkippedSegments reports structurally unreadable files or blocks from the
// last read.
func (fr *FolderReader) SkippedSegments() int { return fr.levelDBReader.SkippedSegments() }

// GetLiveRecords parses only the current version of each key.
func (fr *FolderReader) GetLiveRecords() ([]*Record, error) {
	levelDBRecords, err := fr.levelDBReader.GetLiveRecords()
	if err != nil {
		return nil, fmt.Errorf("read leveldb records: %w", err)
	}
	return fr.parse(levelDBRecords), nil
}

// GetRecords parses every version of every key, superseded writes included.
// Useful for forensic dumps; the mention pipeline wants GetLiveRecords.
func (fr *FolderReader) GetRecords() ([]*Record, error) {
	levelDBRecords, err := fr.levelDBReader.GetRecords()
	if err != nil {
		return nil, fmt.Errorf("read leveldb records: %w", err)
	}
	return fr.parse(levelDBRecords), nil
}

func (fr *FolderReader) parse(levelDBRecords []*db.LevelDBRecord) []*Record {
	fr.skippedRecords = 0
	records := make([]*Record, 0, len(levelDBRecords))
	for _, rec := range levelDBRecords {
		parsedKey, err := chromium.ParseKey(rec.Record.GetKey())
		if err != nil {
			fr.skippedRecords++
			zlog.Debug().Str("file", rec.Path).Int64("offset", rec.Record.GetOffset()).
				Err(err).Msg("skipping record with unparseable key")
			continue
		}
		parsedValue, err := parsedKey.ParseValue(rec.Record.GetValue())
		if err != nil {
			fr.skippedRecords++
			zlog.Debug().Str("file", rec.Path).Int64("offset", rec.Record.GetOffset()).
				Err(err).Msg("skipping record with unparseable value")
			continue
		}

		prefix := parsedKey.GetKeyPrefix()
		records = append(records, &Record{
			Path:           rec.Path,
			Offset:         rec.Record.GetOffset(),
			Key:            parsedKey,
			Value:          parsedValue,
			SequenceNumber: rec.Record.GetSequenceNumber(),
			RecordType:     rec.Record.GetType(),
			Superseded:     rec.Superseded,
			DatabaseID:     prefix.DatabaseID,
			ObjectStoreID:  prefix.ObjectStoreID,
		})
	}
	return records
}
