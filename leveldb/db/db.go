// Package db reads a whole LevelDB directory, merging write-ahead log and
// sorted-table contents into a single view.
package db

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/leveldb/common"
	"github.com/wsaults/comms-assistant/leveldb/log"
	"github.com/wsaults/comms-assistant/leveldb/table"
)

// ErrUnrecognized means the path exists but does not look like a LevelDB
// directory at all.
var ErrUnrecognized = errors.New("not a recognizable LevelDB directory")

// LevelDBRecord wraps a record with its source file and whether a newer
// write supersedes it.
type LevelDBRecord struct {
	Path       string
	Record     common.Record
	Superseded bool
}

// FolderReader reads every .log/.ldb/.sst file under one directory.
// The directory is opened read-only and never locked, so reads succeed
// while the owning application holds the database open.
type FolderReader struct {
	folderPath      string
	skippedSegments int
}

// NewFolderReader validates that path is a directory containing LevelDB
// artifacts (a CURRENT pointer or at least one log/table file).
func NewFolderReader(path string) (*FolderReader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, ErrUnrecognized)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	recognized := false
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if name == "CURRENT" || strings.HasPrefix(name, "MANIFEST-") ||
			ext == ".log" || ext == ".ldb" || ext == ".sst" {
			recognized = true
			break
		}
	}
	if !recognized {
		return nil, fmt.Errorf("%s: %w", path, ErrUnrecognized)
	}
	return &FolderReader{folderPath: path}, nil
}

// SkippedSegments reports how many files or blocks were structurally
// unreadable during the last read. A non-zero count means results may be
// incomplete.
func (fr *FolderReader) SkippedSegments() int { return fr.skippedSegments }

// GetRecords reads every version of every key, marking versions shadowed by
// a newer sequence number as superseded. Unreadable files are skipped and
// counted rather than failing the read.
func (fr *FolderReader) GetRecords() ([]*LevelDBRecord, error) {
	fr.skippedSegments = 0
	byKey := make(map[string][]*LevelDBRecord)

	err := filepath.WalkDir(fr.folderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var records []common.Record
		switch strings.ToLower(filepath.Ext(path)) {
		case ".log":
			reader := log.NewFileReader(path)
			keys, parseErr := reader.GetParsedInternalKeys()
			fr.skippedSegments += reader.CorruptSegments()
			if parseErr != nil {
				fr.skippedSegments++
				zlog.Warn().Str("file", path).Err(parseErr).Msg("skipping unreadable log file")
				return nil
			}
			for i := range keys {
				records = append(records, &keys[i])
			}
		case ".ldb", ".sst":
			reader, parseErr := table.NewFileReader(path)
			if parseErr != nil {
				fr.skippedSegments++
				zlog.Warn().Str("file", path).Err(parseErr).Msg("skipping unreadable table file")
				return nil
			}
			keyValues, parseErr := reader.GetKeyValueRecords()
			if parseErr != nil {
				fr.skippedSegments++
				zlog.Warn().Str("file", path).Err(parseErr).Msg("partial read of table file")
			}
			for i := range keyValues {
				records = append(records, &keyValues[i])
			}
		default:
			return nil
		}

		for _, rec := range records {
			keyStr := string(rec.GetKey())
			byKey[keyStr] = append(byKey[keyStr], &LevelDBRecord{Path: path, Record: rec})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", fr.folderPath, err)
	}

	var allRecords []*LevelDBRecord
	for _, versions := range byKey {
		sort.Slice(versions, func(i, j int) bool {
			if versions[i].Record.GetSequenceNumber() != versions[j].Record.GetSequenceNumber() {
				return versions[i].Record.GetSequenceNumber() < versions[j].Record.GetSequenceNumber()
			}
			return versions[i].Record.GetOffset() < versions[j].Record.GetOffset()
		})
		for i, rec := range versions {
			rec.Superseded = i != len(versions)-1
			allRecords = append(allRecords, rec)
		}
	}

	sort.Slice(allRecords, func(i, j int) bool {
		if allRecords[i].Record.GetSequenceNumber() != allRecords[j].Record.GetSequenceNumber() {
			return allRecords[i].Record.GetSequenceNumber() < allRecords[j].Record.GetSequenceNumber()
		}
		if allRecords[i].Record.GetOffset() != allRecords[j].Record.GetOffset() {
			return allRecords[i].Record.GetOffset() < allRecords[j].Record.GetOffset()
		}
		return allRecords[i].Path < allRecords[j].Path
	})
	return allRecords, nil
}

// GetLiveRecords resolves each key to its newest version and drops
// tombstones, yielding the current state of the database.
func (fr *FolderReader) GetLiveRecords() ([]*LevelDBRecord, error) {
	all, err := fr.GetRecords()
	if err != nil {
		return nil, err
	}
	var live []*LevelDBRecord
	for _, rec := range all {
		if rec.Superseded {
			continue
		}
		if rec.Record.GetType() == log.TypeDeletion {
			continue
		}
		live = append(live, rec)
	}
	return live, nil
}
