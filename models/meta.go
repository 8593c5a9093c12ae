// models/meta.go
package models

import "time"

// Load run statuses stored in etl_load_runs.status.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// LoadRun is one row of the etl_load_runs table, written at the end of every
// run on a SQL strategy.
type LoadRun struct {
	RunID        string    `db:"run_id"`
	SourceURL    string    `db:"source_url"`
	SourceFile   string    `db:"source_file"`
	Strategy     string    `db:"strategy"`
	CutoffDate   time.Time `db:"cutoff_date"`
	RowsSeen     int       `db:"rows_seen"`
	RowsKept     int       `db:"rows_kept"`
	RowsWritten  int       `db:"rows_written"`
	Status       string    `db:"status"`
	ErrorMessage string    `db:"error_message"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

// NewLoadRun builds the run record from a summary.
func NewLoadRun(s *LoadSummary, runErr error) LoadRun {
	run := LoadRun{
		RunID:       s.RunID,
		SourceURL:   s.ArchiveURL,
		SourceFile:  s.SourceFile,
		Strategy:    s.Strategy,
		CutoffDate:  s.Cutoff,
		RowsSeen:    s.RowsSeen,
		RowsKept:    s.RowsKept,
		RowsWritten: s.RowsWritten,
		Status:      RunStatusSucceeded,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.StartedAt.Add(s.Elapsed),
	}
	if runErr != nil {
		run.Status = RunStatusFailed
		run.ErrorMessage = runErr.Error()
	}
	return run
}
