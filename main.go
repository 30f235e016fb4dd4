package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/alecthomas/kingpin/v2"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/config"
	"github.com/wsaults/comms-assistant/indexeddb"
	"github.com/wsaults/comms-assistant/relay"
	"github.com/wsaults/comms-assistant/teams"
)

var (
	app        = kingpin.New("comms-assistant", "Reads the local Microsoft Teams cache and reports @mentions.")
	configPath = app.Flag("config", "Path to a TOML config file.").String()
	verbose    = app.Flag("verbose", "Enable debug logging.").Short('v').Bool()

	// mentions command
	mentionsCmd    = app.Command("mentions", "Extract mentions from the local Teams database.").Default()
	mentionsDB     = mentionsCmd.Flag("db", "Path to the Teams IndexedDB (LevelDB) directory.").String()
	mentionsHours  = mentionsCmd.Flag("hours", "Only show mentions from the last N hours.").Float64()
	mentionsAll    = mentionsCmd.Flag("all", "Show all mentions, ignoring the time window.").Bool()
	mentionsJSON   = mentionsCmd.Flag("json", "Emit a JSON array instead of the human-readable view.").Bool()
	mentionsOutput = mentionsCmd.Flag("output-file", "Save output to a file.").Short('o').String()

	// report command
	reportCmd      = app.Command("report", "Extract mentions and forward them to the dashboard relay.")
	reportDB       = reportCmd.Flag("db", "Path to the Teams IndexedDB (LevelDB) directory.").String()
	reportHours    = reportCmd.Flag("hours", "Only report mentions from the last N hours.").Float64()
	reportAll      = reportCmd.Flag("all", "Report all mentions, ignoring the time window.").Bool()
	reportRelay    = reportCmd.Flag("relay", "Relay base URL.").String()
	reportClientID = reportCmd.Flag("client-id", "Client id attached to relay payloads.").String()

	// dump command
	dumpCmd    = app.Command("dump", "Dump raw parsed IndexedDB records for schema debugging.")
	dumpDB     = dumpCmd.Flag("db", "Path to the IndexedDB (LevelDB) directory.").Required().String()
	dumpFormat = dumpCmd.Flag("format", "Output format ('json' or 'jsonl').").Default("json").Enum("json", "jsonl")
	dumpOutput = dumpCmd.Flag("output-file", "Save output to a file.").Short('o').String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zlog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Error().Err(err).Msg("could not load configuration")
		os.Exit(1)
	}

	switch command {
	case mentionsCmd.FullCommand():
		os.Exit(runMentions(cfg))
	case reportCmd.FullCommand():
		os.Exit(runReport(cfg))
	case dumpCmd.FullCommand():
		os.Exit(runDump(*dumpDB, *dumpFormat, *dumpOutput))
	}
}

func pipelineOptions(cfg *config.Config, dbFlag string, hoursFlag float64, allFlag bool) teams.Options {
	opts := teams.Options{
		DBPath:        cfg.Teams.DBPath,
		LookbackHours: cfg.Teams.LookbackHours,
		AllMentions:   allFlag,
		Stores: teams.StoreIDs{
			Activities:    cfg.Stores.Activities,
			ReplyChains:   cfg.Stores.ReplyChains,
			Conversations: cfg.Stores.Conversations,
		},
	}
	if dbFlag != "" {
		opts.DBPath = dbFlag
	}
	if hoursFlag > 0 {
		opts.LookbackHours = hoursFlag
	}
	return opts
}

func runMentions(cfg *config.Config) int {
	opts := pipelineOptions(cfg, *mentionsDB, *mentionsHours, *mentionsAll)
	report, err := teams.Run(opts)
	if err != nil {
		return fatalPipelineError(err, opts.DBPath)
	}

	writer, err := outputWriter(*mentionsOutput)
	if err != nil {
		zlog.Error().Err(err).Msg("could not create output file")
		return 1
	}
	defer writer.Close()

	if *mentionsJSON {
		err = report.WriteJSON(writer)
	} else {
		err = report.WriteHuman(writer)
	}
	if err != nil {
		zlog.Error().Err(err).Msg("could not write report")
		return 1
	}
	return 0
}

func runReport(cfg *config.Config) int {
	opts := pipelineOptions(cfg, *reportDB, *reportHours, *reportAll)
	report, err := teams.Run(opts)
	if err != nil {
		return fatalPipelineError(err, opts.DBPath)
	}

	relayURL := cfg.Relay.URL
	if *reportRelay != "" {
		relayURL = *reportRelay
	}
	clientID := cfg.Relay.ClientID
	if *reportClientID != "" {
		clientID = *reportClientID
	}

	client := relay.NewClient(relayURL, clientID)
	delivered, err := client.Report(context.Background(), report)
	if err != nil {
		zlog.Warn().Err(err).Int("delivered", delivered).Int("total", len(report.Mentions)).
			Msg("relay delivery incomplete")
	} else {
		zlog.Info().Int("delivered", delivered).Str("relay", relayURL).Msg("mentions reported")
	}
	return 0
}

func runDump(path, format, outputFile string) int {
	reader, err := indexeddb.NewFolderReader(path)
	if err != nil {
		zlog.Error().Err(err).Str("path", path).Msg("could not open IndexedDB directory")
		return 1
	}
	records, err := reader.GetRecords()
	if err != nil {
		zlog.Error().Err(err).Msg("could not read IndexedDB records")
		return 1
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].SequenceNumber != records[j].SequenceNumber {
			return records[i].SequenceNumber < records[j].SequenceNumber
		}
		return records[i].Offset < records[j].Offset
	})

	writer, err := outputWriter(outputFile)
	if err != nil {
		zlog.Error().Err(err).Msg("could not create output file")
		return 1
	}
	defer writer.Close()

	if format == "jsonl" {
		for _, rec := range records {
			line, err := json.Marshal(rec)
			if err != nil {
				zlog.Warn().Err(err).Int64("offset", rec.Offset).Msg("could not marshal record")
				continue
			}
			fmt.Fprintln(writer, string(line))
		}
	} else {
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(records); err != nil {
			zlog.Error().Err(err).Msg("could not encode records")
			return 1
		}
	}

	zlog.Info().Int("records", len(records)).
		Int("skipped_records", reader.SkippedRecords()).
		Int("skipped_segments", reader.SkippedSegments()).
		Msg("dump complete")
	return 0
}

func fatalPipelineError(err error, dbPath string) int {
	if errors.Is(err, teams.ErrDatabaseUnavailable) {
		fmt.Fprintf(os.Stderr, "Teams database not found or unreadable at: %s\n", dbPath)
		fmt.Fprintln(os.Stderr, "Likely causes: Teams is not installed, or it has never been run on this machine.")
	}
	zlog.Error().Err(err).Msg("pipeline failed")
	return 1
}

// outputWriter returns the output file, or stdout wrapped so Close is a
// no-op.
func outputWriter(outputFile string) (io.WriteCloser, error) {
	if outputFile != "" {
		return os.Create(outputFile)
	}
	return nopCloser{os.Stdout}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
