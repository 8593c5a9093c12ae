// loader/batch_writer.go
package loader

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/gewnthar/lobbying/models"
	"github.com/schollz/progressbar/v3"
)

// Inserter writes one batch atomically.
type Inserter interface {
	InsertBatch(ctx context.Context, table string, batch models.Batch) error
}

// WriteFailure reports the first batch that could not be written. Batches
// before it are committed; batches after it were never attempted.
type WriteFailure struct {
	// Batch is the 1-based number of the failing batch.
	Batch         int
	RowsCommitted int
	Err           error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("failed to write batch %d (%d rows committed before it): %v", e.Batch, e.RowsCommitted, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// Result counts what was committed.
type Result struct {
	RowsWritten int
	Batches     int
}

// Batches groups seq into consecutive batches of at most size records,
// preserving order. A source error is yielded once and ends the sequence.
func Batches(seq iter.Seq2[models.Record, error], size int) iter.Seq2[models.Batch, error] {
	if size <= 0 {
		size = 1
	}
	return func(yield func(models.Batch, error) bool) {
		batch := make(models.Batch, 0, size)
		for rec, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, rec)
			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = make(models.Batch, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// Writer drains a record sequence into an Inserter, one batch at a time.
type Writer struct {
	Table     string
	BatchSize int
	// ProgressEvery logs progress every N batches; zero disables it.
	ProgressEvery int
	// Bar, if set, advances by the rows of every committed batch. The caller
	// finishes it.
	Bar    *progressbar.ProgressBar
	Logger *slog.Logger
}

// Write sends batches in order and stops at the first failure, which is
// returned as a *WriteFailure. Source errors are returned unchanged. The
// Result always holds what was committed.
func (w *Writer) Write(ctx context.Context, dst Inserter, seq iter.Seq2[models.Record, error]) (Result, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var res Result
	start := time.Now()
	for batch, err := range Batches(seq, w.BatchSize) {
		if err != nil {
			return res, err
		}
		n := res.Batches + 1
		if err := ctx.Err(); err != nil {
			return res, &WriteFailure{Batch: n, RowsCommitted: res.RowsWritten, Err: err}
		}
		if err := dst.InsertBatch(ctx, w.Table, batch); err != nil {
			logger.Error("batch write failed", slog.Int("batch", n), slog.Int("rows", len(batch)), slog.Any("error", err))
			return res, &WriteFailure{Batch: n, RowsCommitted: res.RowsWritten, Err: err}
		}
		res.Batches = n
		res.RowsWritten += len(batch)

		if w.Bar != nil {
			_ = w.Bar.Add(len(batch))
		}
		if w.ProgressEvery > 0 && n%w.ProgressEvery == 0 {
			logger.Info("load progress",
				slog.Int("batches", n),
				slog.Int("rows_written", res.RowsWritten),
				slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
		}
	}

	logger.Info("load complete", slog.Int("batches", res.Batches), slog.Int("rows_written", res.RowsWritten))
	return res, nil
}
