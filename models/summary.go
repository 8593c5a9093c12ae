// models/summary.go
package models

import (
	"log/slog"
	"time"
)

// LoadSummary is produced once per run. On failure it holds whatever counts
// were reached before the failing stage.
type LoadSummary struct {
	RunID      string
	Strategy   string
	ArchiveURL string
	SourceFile string
	Encoding   string
	Cutoff     time.Time

	RowsSeen           int
	RowsKept           int
	SkippedOld         int
	SkippedUnparseable int // includes SkippedEmpty
	SkippedEmpty       int
	MalformedRows      int
	RowsWritten        int
	Batches            int

	StartedAt time.Time
	Elapsed   time.Duration
}

// LogValue implements slog.LogValuer.
func (s LoadSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.String("strategy", s.Strategy),
		slog.Int("rows_seen", s.RowsSeen),
		slog.Int("rows_kept", s.RowsKept),
		slog.Int("skipped_old", s.SkippedOld),
		slog.Int("skipped_unparseable", s.SkippedUnparseable),
		slog.Int("malformed_rows", s.MalformedRows),
		slog.Int("rows_written", s.RowsWritten),
		slog.Int("batches", s.Batches),
		slog.Duration("elapsed", s.Elapsed),
	)
}
