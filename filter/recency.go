// filter/recency.go
package filter

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/gewnthar/lobbying/models"
	"github.com/gewnthar/lobbying/utils"
)

// ErrNoDateColumn is returned by Apply when the header has no usable date column.
var ErrNoDateColumn = errors.New("no date column found in header")

// DefaultFormats are the accepted date layouts, tried in order.
var DefaultFormats = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006"}

// DefaultDateTerms identify the date column when none is configured.
var DefaultDateTerms = []string{"date", "created", "registered", "filed"}

// Cutoff returns the calendar date of now minus days, at midnight UTC.
func Cutoff(now time.Time, days int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}

// ParseDate tries each layout in order and returns the calendar date of the
// first match, at midnight UTC. A trailing time of day after a space or "T" is
// ignored.
func ParseDate(value string, formats []string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if i := strings.IndexAny(value, " T"); i > 0 {
		value = value[:i]
	}
	for _, layout := range formats {
		if t, err := time.Parse(layout, value); err == nil {
			return calendarDate(t), true
		}
	}
	// Retry with unpadded month and day so "3/5/2025" matches "01/02/2006".
	for _, layout := range formats {
		relaxed := unpadLayout.Replace(layout)
		if relaxed == layout {
			continue
		}
		if t, err := time.Parse(relaxed, value); err == nil {
			return calendarDate(t), true
		}
	}
	return time.Time{}, false
}

var unpadLayout = strings.NewReplacer("01", "1", "02", "2")

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type Options struct {
	// DateColumn is the normalized name of the column to filter on. When empty
	// the first column whose name contains one of DateTerms is used.
	DateColumn string
	DateTerms  []string
	Formats    []string
	Cutoff     time.Time
	Logger     *slog.Logger
}

// Stats counts what the filter did with each row it saw.
type Stats struct {
	Seen               int
	Kept               int
	SkippedOld         int
	SkippedUnparseable int
	// SkippedEmpty is the subset of SkippedUnparseable with no date value.
	SkippedEmpty int
}

// Filter keeps rows whose date is on or after the cutoff. A Filter is used
// for a single pass.
type Filter struct {
	opts    Options
	column  string
	index   int
	columns []string
	stats   Stats
}

func New(opts Options) *Filter {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if len(opts.Formats) == 0 {
		opts.Formats = DefaultFormats
	}
	if len(opts.DateTerms) == 0 {
		opts.DateTerms = DefaultDateTerms
	}
	return &Filter{opts: opts, index: -1}
}

// DateColumn returns the normalized date column chosen by Apply.
func (f *Filter) DateColumn() string { return f.column }

// Columns returns the normalized header chosen by Apply.
func (f *Filter) Columns() []string { return f.columns }

// Stats returns the running tallies. They are final once the sequence
// returned by Apply has been fully consumed.
func (f *Filter) Stats() Stats { return f.stats }

// Apply resolves the date column from the raw header and returns a lazy
// sequence of the kept rows, with columns renamed to their normalized form.
// Order is preserved and nothing is buffered. Rows with an empty, missing or
// unparseable date are dropped and counted.
func (f *Filter) Apply(header []string, rows iter.Seq2[models.Record, error]) (iter.Seq2[models.Record, error], error) {
	f.columns = utils.NormalizeHeaders(header)
	idx, err := f.findDateColumn()
	if err != nil {
		return nil, err
	}
	f.index = idx
	f.column = f.columns[idx]
	f.opts.Logger.Info("filtering by date",
		slog.String("column", f.column),
		slog.String("cutoff", f.opts.Cutoff.Format(time.DateOnly)))

	return func(yield func(models.Record, error) bool) {
		for rec, err := range rows {
			if err != nil {
				yield(models.Record{}, err)
				return
			}
			if !f.keep(rec) {
				continue
			}
			if !yield(models.Record{Columns: f.columns, Values: rec.Values}, nil) {
				return
			}
		}
	}, nil
}

func (f *Filter) keep(rec models.Record) bool {
	f.stats.Seen++

	var raw string
	if f.index < len(rec.Values) {
		raw = rec.Values[f.index]
	}
	if strings.TrimSpace(raw) == "" {
		f.stats.SkippedEmpty++
		f.stats.SkippedUnparseable++
		return false
	}

	d, ok := ParseDate(raw, f.opts.Formats)
	if !ok {
		f.stats.SkippedUnparseable++
		f.opts.Logger.Debug("skipping row with unparseable date", slog.String("value", raw))
		return false
	}
	if d.Before(f.opts.Cutoff) {
		f.stats.SkippedOld++
		return false
	}
	f.stats.Kept++
	return true
}

func (f *Filter) findDateColumn() (int, error) {
	if f.opts.DateColumn != "" {
		want := utils.NormalizeHeader(f.opts.DateColumn)
		for i, c := range f.columns {
			if c == want {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%w: configured column %q not present", ErrNoDateColumn, f.opts.DateColumn)
	}
	for i, c := range f.columns {
		for _, term := range f.opts.DateTerms {
			if strings.Contains(c, strings.ToLower(term)) {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: no column name contains any of %v", ErrNoDateColumn, f.opts.DateTerms)
}
