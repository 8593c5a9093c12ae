// services/report.go
package services

import (
	"io"
	"time"

	"github.com/gewnthar/lobbying/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// PrintSummary renders the run summary as a two-column table.
func PrintSummary(w io.Writer, s *models.LoadSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Lobbying registrations load")
	t.AppendHeader(table.Row{"Metric", "Value"})

	t.AppendRows([]table.Row{
		{"Run ID", s.RunID},
		{"Strategy", orDash(s.Strategy)},
		{"Source file", orDash(s.SourceFile)},
		{"Encoding", orDash(s.Encoding)},
		{"Cutoff date", s.Cutoff.Format(time.DateOnly)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Rows seen", s.RowsSeen},
		{"Rows kept", s.RowsKept},
		{"Skipped (older than cutoff)", s.SkippedOld},
		{"Skipped (missing/unparseable date)", s.SkippedUnparseable},
		{"Malformed rows", s.MalformedRows},
		{"Rows written", s.RowsWritten},
		{"Batches", s.Batches},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Elapsed", s.Elapsed.Round(time.Millisecond)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
