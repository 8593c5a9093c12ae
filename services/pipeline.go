// services/pipeline.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gewnthar/lobbying/config"
	"github.com/gewnthar/lobbying/connection"
	"github.com/gewnthar/lobbying/filter"
	"github.com/gewnthar/lobbying/loader"
	"github.com/gewnthar/lobbying/models"
	"github.com/gewnthar/lobbying/scraper"
	"github.com/google/uuid"
)

// RunRecorder is implemented by handles that can persist the run outcome.
type RunRecorder interface {
	RecordRun(ctx context.Context, run models.LoadRun) error
}

// Pipeline runs one end-to-end load: fetch, extract, decode, filter, connect
// and write. Stages run in order and the first failure ends the run.
type Pipeline struct {
	Cfg        *config.Config
	Fetcher    *scraper.Fetcher
	Strategies []connection.Strategy
	Logger     *slog.Logger
	// Now is the clock used for the cutoff and timings.
	Now func() time.Time
	// ProgressOut receives the progress bar when load.progress_bar is set.
	ProgressOut io.Writer
	// OnTransition is passed to the connection manager.
	OnTransition func(from, to connection.State)
}

// NewPipeline wires the default collaborators for cfg.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	strategies, err := connection.StrategiesFor(cfg.Method, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Cfg:         cfg,
		Fetcher:     scraper.NewFetcher(cfg.Source.DownloadTimeout, logger),
		Strategies:  strategies,
		Logger:      logger,
		Now:         time.Now,
		ProgressOut: os.Stderr,
	}, nil
}

// Run executes the pipeline. The summary is always returned and holds the
// counts reached so far when err is non-nil.
func (p *Pipeline) Run(ctx context.Context) (summary *models.LoadSummary, err error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	cfg := p.Cfg
	started := now()

	summary = &models.LoadSummary{
		RunID:     uuid.NewString(),
		Cutoff:    filter.Cutoff(started, cfg.Filter.RetentionDays),
		StartedAt: started,
	}
	logger := p.Logger.With(slog.String("run_id", summary.RunID))
	defer func() { summary.Elapsed = now().Sub(started) }()

	logger.Info("starting load", slog.String("method", cfg.Method), slog.String("cutoff", summary.Cutoff.Format(time.DateOnly)))

	workDir, err := os.MkdirTemp(cfg.Source.TempDir, "lobbyload-*")
	if err != nil {
		return summary, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.Warn("failed to remove temp dir", slog.String("path", workDir), slog.Any("error", rmErr))
		}
	}()

	archiveURL, err := p.archiveURL(ctx)
	if err != nil {
		return summary, err
	}
	summary.ArchiveURL = archiveURL

	zipPath := filepath.Join(workDir, "registrations.zip")
	if _, err := p.Fetcher.DownloadFile(ctx, archiveURL, zipPath); err != nil {
		return summary, err
	}

	entry, csvPath, err := scraper.ExtractPrimaryCSV(zipPath, workDir)
	if err != nil {
		return summary, err
	}
	summary.SourceFile = entry
	logger.Info("extracted primary CSV", slog.String("entry", entry))

	file, err := os.Open(csvPath)
	if err != nil {
		return summary, &scraper.ExtractError{Archive: zipPath, Err: fmt.Errorf("failed to open %s: %w", csvPath, err)}
	}
	defer file.Close()

	det, err := detectEncoding(file, cfg.Source.EncodingSampleBytes, cfg.Source.EncodingMinConfidence)
	if err != nil {
		return summary, &scraper.ExtractError{Archive: zipPath, Err: err}
	}
	summary.Encoding = det.Charset
	if det.Fallback {
		logger.Warn("encoding detection inconclusive, using default",
			slog.String("detected", det.Detected), slog.Int("confidence", det.Confidence), slog.String("encoding", det.Charset))
	} else {
		logger.Info("detected encoding", slog.String("encoding", det.Charset), slog.Int("confidence", det.Confidence))
	}

	src, err := scraper.NewRecordSource(det.NewReader(file), logger)
	if err != nil {
		return summary, err
	}

	f := filter.New(filter.Options{
		DateColumn: cfg.Filter.DateColumn,
		DateTerms:  cfg.Filter.DateTerms,
		Formats:    cfg.Filter.DateFormats,
		Cutoff:     summary.Cutoff,
		Logger:     logger,
	})
	rows, err := f.Apply(src.Header(), src.Records())
	if err != nil {
		return summary, fmt.Errorf("failed to configure recency filter: %w", err)
	}

	mgr := connection.NewManager(p.Strategies, cfg.Connection.Timeout, logger)
	mgr.OnTransition = p.OnTransition
	handle, err := mgr.Acquire(ctx)
	if err != nil {
		return summary, err
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			logger.Warn("failed to close connection", slog.Any("error", cerr))
		}
	}()
	summary.Strategy = handle.Strategy()

	defer func() {
		if cfg.Load.RecordRuns {
			p.recordRun(ctx, handle, summary, err, now, logger)
		}
	}()

	indexes := append([]string(nil), cfg.Load.IndexColumns...)
	indexes = append(indexes, f.DateColumn())
	if err := handle.EnsureTable(ctx, cfg.Load.Table, f.Columns(), indexes, cfg.Load.RecreateTable); err != nil {
		return summary, fmt.Errorf("failed to prepare table %s: %w", cfg.Load.Table, err)
	}

	w := &loader.Writer{
		Table:         cfg.Load.Table,
		BatchSize:     cfg.BatchSizeFor(handle.Strategy()),
		ProgressEvery: cfg.Load.ProgressEvery,
		Logger:        logger,
	}
	if cfg.Load.ProgressBar && p.ProgressOut != nil {
		w.Bar = loader.NewProgressBar(p.ProgressOut, "loading "+cfg.Load.Table)
	}

	res, err := w.Write(ctx, handle, rows)
	if w.Bar != nil {
		_ = w.Bar.Finish()
	}
	collect(summary, f.Stats(), src, res)
	if n := src.MissingRegistrationID(); n > 0 {
		logger.Warn("rows without a registration id", slog.Int("count", n))
	}
	if err != nil {
		return summary, err
	}

	logger.Info("load finished", slog.Any("summary", *summary))
	return summary, nil
}

// archiveURL returns the configured archive URL, discovering it from the
// landing page when source.index_url is set. A failed discovery falls back to
// source.archive_url when one is configured.
func (p *Pipeline) archiveURL(ctx context.Context) (string, error) {
	src := p.Cfg.Source
	if src.IndexURL == "" {
		return src.ArchiveURL, nil
	}
	found, err := p.Fetcher.FindArchiveURL(ctx, src.IndexURL, src.LinkPattern)
	if err == nil {
		return found, nil
	}
	if src.ArchiveURL == "" || ctx.Err() != nil {
		return "", err
	}
	p.Logger.Warn("archive link discovery failed, using configured URL",
		slog.String("url", src.ArchiveURL), slog.Any("error", err))
	return src.ArchiveURL, nil
}

// detectEncoding samples the head of file and rewinds it.
func detectEncoding(file io.ReadSeeker, sampleBytes, minConfidence int) (scraper.Detection, error) {
	if sampleBytes <= 0 {
		sampleBytes = 64 * 1024
	}
	sample := make([]byte, sampleBytes)
	n, err := io.ReadFull(file, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return scraper.Detection{}, fmt.Errorf("failed to read encoding sample: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return scraper.Detection{}, fmt.Errorf("failed to rewind CSV: %w", err)
	}
	return scraper.DetectEncoding(sample[:n], minConfidence), nil
}

func collect(s *models.LoadSummary, st filter.Stats, src *scraper.RecordSource, res loader.Result) {
	s.RowsSeen = st.Seen
	s.RowsKept = st.Kept
	s.SkippedOld = st.SkippedOld
	s.SkippedUnparseable = st.SkippedUnparseable
	s.SkippedEmpty = st.SkippedEmpty
	s.MalformedRows = src.Malformed()
	s.RowsWritten = res.RowsWritten
	s.Batches = res.Batches
}

// recordRun writes the run log on handles that support it. It runs after the
// write even when ctx was cancelled, bounded by the connection timeout.
func (p *Pipeline) recordRun(ctx context.Context, h connection.Handle, s *models.LoadSummary, runErr error, now func() time.Time, logger *slog.Logger) {
	rec, ok := h.(RunRecorder)
	if !ok {
		return
	}
	s.Elapsed = now().Sub(s.StartedAt)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Cfg.Connection.Timeout)
	defer cancel()
	if err := rec.RecordRun(ctx, models.NewLoadRun(s, runErr)); err != nil {
		logger.Warn("failed to record load run", slog.Any("error", err))
	}
}
