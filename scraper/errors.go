// scraper/errors.go
package scraper

import "fmt"

// FetchError reports that the archive could not be retrieved: the landing
// page or archive URL was unreachable, answered with a non-200 status, or the
// body could not be saved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch %s: status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError reports that no usable data file could be read from the
// archive: it is corrupt, holds no CSV, or the CSV has no header row.
type ExtractError struct {
	Archive string
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("failed to extract data file from %s: %v", e.Archive, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }
