// scraper/csv_downloader.go
package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Fetcher performs the HTTP side of the pipeline: finding and downloading the
// registrations archive.
type Fetcher struct {
	Client *http.Client
	Logger *slog.Logger
}

// NewFetcher returns a Fetcher whose client gives up after timeout.
// If logger is nil, a discard logger is used.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

// DownloadFile downloads url to localSavePath, creating the parent directory.
// Every failure is returned as a *FetchError.
func (f *Fetcher) DownloadFile(ctx context.Context, url string, localSavePath string) (int64, error) {
	f.Logger.Info("downloading archive", slog.String("url", url), slog.String("path", localSavePath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &FetchError{URL: url, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, &FetchError{URL: url, Err: fmt.Errorf("failed to make GET request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	dir := filepath.Dir(localSavePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &FetchError{URL: url, Err: fmt.Errorf("failed to create directory %s: %w", dir, err)}
	}

	outFile, err := os.Create(localSavePath)
	if err != nil {
		return 0, &FetchError{URL: url, Err: fmt.Errorf("failed to create local file %s: %w", localSavePath, err)}
	}
	defer outFile.Close()

	n, err := io.Copy(outFile, resp.Body)
	if err != nil {
		return n, &FetchError{URL: url, Err: fmt.Errorf("failed to copy downloaded content to %s: %w", localSavePath, err)}
	}
	if err := outFile.Close(); err != nil {
		return n, &FetchError{URL: url, Err: fmt.Errorf("failed to close %s: %w", localSavePath, err)}
	}

	f.Logger.Info("downloaded archive", slog.String("path", localSavePath), slog.Int64("bytes", n))
	return n, nil
}
