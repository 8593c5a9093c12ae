// scraper/csv_parser.go
package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/gewnthar/lobbying/models"
	"github.com/gewnthar/lobbying/utils"
	"github.com/jszwec/csvutil"
)

// registrationKey holds the columns every registration row is expected to carry.
// Tags use normalized header names.
type registrationKey struct {
	RegID string `csv:"reg_id_enr"`
}

// RecordSource streams raw records from a CSV file one row at a time.
type RecordSource struct {
	header  []string
	rows    *rowReader
	dec     *csvutil.Decoder
	logger  *slog.Logger
	hasKey  bool
	missing int
}

// NewRecordSource reads the header row from r and prepares the row stream.
// A file without a header row is reported as an *ExtractError.
func NewRecordSource(r io.Reader, logger *slog.Logger) (*RecordSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("CSV file is empty")
		}
		return nil, &ExtractError{Archive: "csv", Err: fmt.Errorf("failed to read header row: %w", err)}
	}
	header = append([]string(nil), header...)

	rows := &rowReader{r: cr, width: len(header), logger: logger}
	normalized := utils.NormalizeHeaders(header)

	// The normalized header is passed explicitly, so csvutil treats every row
	// it reads as data.
	dec, err := csvutil.NewDecoder(rows, normalized...)
	if err != nil {
		return nil, &ExtractError{Archive: "csv", Err: fmt.Errorf("failed to create CSV decoder: %w", err)}
	}

	hasKey := false
	for _, h := range normalized {
		if h == "reg_id_enr" {
			hasKey = true
			break
		}
	}

	return &RecordSource{header: header, rows: rows, dec: dec, logger: logger, hasKey: hasKey}, nil
}

// Header returns the raw header row.
func (s *RecordSource) Header() []string { return s.header }

// Malformed returns how many rows were skipped because they could not be parsed.
func (s *RecordSource) Malformed() int { return s.rows.malformed }

// MissingRegistrationID returns how many rows had an empty reg_id_enr value.
func (s *RecordSource) MissingRegistrationID() int { return s.missing }

// Records returns a single-use lazy sequence of raw records. Rows that fail to
// parse are skipped and counted; an I/O error ends the sequence.
func (s *RecordSource) Records() iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		for {
			var key registrationKey
			err := s.dec.Decode(&key)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(models.Record{}, fmt.Errorf("failed to read CSV row: %w", err))
				return
			}
			if s.hasKey && key.RegID == "" {
				s.missing++
			}
			rec := models.Record{Columns: s.header, Values: s.rows.last}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// rowReader sits between encoding/csv and csvutil. It pads or truncates rows
// to the header width and skips rows with quoting errors.
type rowReader struct {
	r         *csv.Reader
	width     int
	last      []string
	malformed int
	logger    *slog.Logger
}

func (rr *rowReader) Read() ([]string, error) {
	for {
		rec, err := rr.r.Read()
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rr.malformed++
				rr.logger.Warn("skipping malformed CSV row", slog.Int("line", perr.Line), slog.Any("error", perr.Err))
				continue
			}
			return nil, err
		}
		row := make([]string, rr.width)
		copy(row, rec)
		rr.last = row
		return row, nil
	}
}
