package teams

import (
	"errors"
	"fmt"
	"os"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/indexeddb"
	"github.com/wsaults/comms-assistant/leveldb/db"
)

// ErrDatabaseUnavailable is the only fatal pipeline condition: the database
// directory does not exist or is not a LevelDB layout at all. Everything
// else degrades to a partial result with counters.
var ErrDatabaseUnavailable = errors.New("teams database unavailable")

// Options configures one pipeline run.
type Options struct {
	DBPath        string
	Stores        StoreIDs
	LookbackHours float64
	AllMentions   bool
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Run executes the whole read-only batch pipeline: read, decode, extract,
// reconcile, filter, sort. It never mutates the source database.
func Run(opts Options) (*Report, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if opts.Stores == (StoreIDs{}) {
		opts.Stores = DefaultStoreIDs()
	}

	reader, err := indexeddb.NewFolderReader(opts.DBPath)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, db.ErrUnrecognized) {
			return nil, fmt.Errorf("%w: %s (is Teams installed and has it been used on this machine?)",
				ErrDatabaseUnavailable, opts.DBPath)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseUnavailable, opts.DBPath, err)
	}

	records, err := reader.GetLiveRecords()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseUnavailable, opts.DBPath, err)
	}

	extraction := Extract(records, opts.Stores)
	zlog.Info().
		Int("mentions", len(extraction.Mentions)).
		Int("threads", len(extraction.Chains)).
		Int("skipped_records", reader.SkippedRecords()).
		Int("skipped_segments", reader.SkippedSegments()).
		Msg("extraction complete")

	mentions := Reconcile(extraction)
	if !opts.AllMentions {
		cutoff := now().Add(-time.Duration(opts.LookbackHours * float64(time.Hour)))
		mentions = FilterSince(mentions, cutoff)
	}

	return &Report{
		Mentions: mentions,
		Summary: Summary{
			Mentions:        len(mentions),
			ThreadsScanned:  len(extraction.Chains),
			SkippedRecords:  reader.SkippedRecords(),
			SkippedSegments: reader.SkippedSegments(),
		},
		LookbackHours: opts.LookbackHours,
		AllMentions:   opts.AllMentions,
		GeneratedAt:   now().UTC(),
	}, nil
}
