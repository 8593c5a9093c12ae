// database/run_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gewnthar/lobbying/models"
)

// RunTable keeps one row per load run.
const RunTable = "etl_load_runs"

func (d Dialect) runTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id %s PRIMARY KEY,
    source_url TEXT,
    source_file TEXT,
    strategy TEXT,
    cutoff_date DATE,
    rows_seen INTEGER,
    rows_kept INTEGER,
    rows_written INTEGER,
    status TEXT,
    error_message TEXT,
    started_at %s,
    finished_at %s
)`, d.QuoteIdent(RunTable), d.KeyType, d.TimestampType, d.TimestampType)
}

// RecordRun stores the outcome of a run in etl_load_runs, creating the table
// when needed.
func (s *Store) RecordRun(ctx context.Context, run models.LoadRun) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.runTableSQL()); err != nil {
		return fmt.Errorf("failed to create %s: %w", RunTable, err)
	}

	cols := []string{"run_id", "source_url", "source_file", "strategy", "cutoff_date",
		"rows_seen", "rows_kept", "rows_written", "status", "error_message", "started_at", "finished_at"}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = s.Dialect.Placeholder(i + 1)
	}

	var errMsg sql.NullString
	if run.ErrorMessage != "" {
		errMsg = sql.NullString{String: run.ErrorMessage, Valid: true}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.Dialect.QuoteIdent(RunTable), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := s.DB.ExecContext(ctx, query,
		run.RunID, run.SourceURL, run.SourceFile, run.Strategy, run.CutoffDate,
		run.RowsSeen, run.RowsKept, run.RowsWritten, run.Status, errMsg,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}

	s.Logger.Info("recorded load run", slog.String("run_id", run.RunID), slog.String("status", run.Status))
	return nil
}
