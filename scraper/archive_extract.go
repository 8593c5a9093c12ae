// scraper/archive_extract.go
package scraper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrNoCSV is wrapped in an *ExtractError when the archive holds no CSV file.
var ErrNoCSV = errors.New("no CSV files found in archive")

// ExtractPrimaryCSV copies the primary CSV out of the archive at zipPath into
// destDir and returns the entry name and the extracted path. The primary CSV is
// the largest .csv entry; the first one listed wins a tie.
func ExtractPrimaryCSV(zipPath, destDir string) (entryName, csvPath string, err error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", "", &ExtractError{Archive: zipPath, Err: fmt.Errorf("failed to open archive: %w", err)}
	}
	defer r.Close()

	var primary *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		if primary == nil || f.UncompressedSize64 > primary.UncompressedSize64 {
			primary = f
		}
	}
	if primary == nil {
		return "", "", &ExtractError{Archive: zipPath, Err: ErrNoCSV}
	}

	// Only the base name is used so entries cannot escape destDir.
	csvPath = filepath.Join(destDir, path.Base(primary.Name))

	src, err := primary.Open()
	if err != nil {
		return "", "", &ExtractError{Archive: zipPath, Err: fmt.Errorf("failed to open %s: %w", primary.Name, err)}
	}
	defer src.Close()

	out, err := os.Create(csvPath)
	if err != nil {
		return "", "", &ExtractError{Archive: zipPath, Err: fmt.Errorf("failed to create %s: %w", csvPath, err)}
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", "", &ExtractError{Archive: zipPath, Err: fmt.Errorf("failed to extract %s: %w", primary.Name, err)}
	}
	if err := out.Close(); err != nil {
		return "", "", &ExtractError{Archive: zipPath, Err: fmt.Errorf("failed to close %s: %w", csvPath, err)}
	}
	return primary.Name, csvPath, nil
}
