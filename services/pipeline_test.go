package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gewnthar/lobbying/config"
	"github.com/gewnthar/lobbying/connection"
	"github.com/gewnthar/lobbying/loader"
	"github.com/gewnthar/lobbying/models"
	"github.com/gewnthar/lobbying/restapi"
	"github.com/gewnthar/lobbying/scraper"
	"github.com/gewnthar/lobbying/testutil"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

var fixedNow = time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC)

const registrationsCSV = "REG_ID_ENR,Client Org / Organisation client,Effective Date / Date d'entrée en vigueur,Country / Pays\n" +
	"1,Société A,2026-10-01,CA\n" +
	"2,Org B,2019-01-01,CA\n" +
	"3,Org C,2025/06/30,US\n" +
	"4,Org D,n/a,CA\n" +
	"5,Org E,10/17/2024,CA\n" +
	"6,Org F,2024-10-16,CA\n" +
	"7,Org G,,CA\n" +
	"8,Org H,2026-01-15,FR\n" +
	"9,Org I,12/31/2020,CA\n" +
	"10,Org J,2025-02-28,CA\n"

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func serveArchive(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-data/":
			_, _ = w.Write([]byte(`<a href="/media/x/registrations_enregistrements_ocl_cal.zip">Registrations</a>`))
		case "/media/x/registrations_enregistrements_ocl_cal.zip":
			_, _ = w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeHandle struct {
	name      string
	columns   []string
	indexes   []string
	batches   []models.Batch
	failBatch int
	ensureErr error
	runs      []models.LoadRun
	closed    bool
}

func (h *fakeHandle) Strategy() string { return h.name }

func (h *fakeHandle) EnsureTable(_ context.Context, _ string, columns, indexes []string, _ bool) error {
	h.columns = columns
	h.indexes = indexes
	return h.ensureErr
}

func (h *fakeHandle) InsertBatch(_ context.Context, _ string, b models.Batch) error {
	if h.failBatch == len(h.batches)+1 {
		return errors.New("disk full")
	}
	h.batches = append(h.batches, b)
	return nil
}

func (h *fakeHandle) Close() error {
	h.closed = true
	return nil
}

func (h *fakeHandle) RecordRun(_ context.Context, run models.LoadRun) error {
	h.runs = append(h.runs, run)
	return nil
}

type fakeStrategy struct {
	name   string
	handle connection.Handle
	err    error
	tried  bool
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Connect(context.Context) (connection.Handle, error) {
	s.tried = true
	if s.err != nil {
		return nil, s.err
	}
	return s.handle, nil
}

func testConfig(t *testing.T, archiveURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Method: config.MethodAuto,
		Source: config.SourceConfig{
			ArchiveURL:            archiveURL,
			LinkPattern:           "registrations_enregistrements",
			DownloadTimeout:       5 * time.Second,
			TempDir:               t.TempDir(),
			EncodingSampleBytes:   64 * 1024,
			EncodingMinConfidence: 40,
		},
		Filter: config.FilterConfig{
			RetentionDays: 730,
			DateTerms:     []string{"date", "created", "registered", "filed"},
			DateFormats:   []string{"2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006"},
		},
		Load: config.LoadConfig{
			Table:         "lobby_staging",
			BatchSize:     2,
			RestBatchSize: 1,
			ProgressEvery: 1,
			IndexColumns:  []string{"reg_id_enr", "country_pays"},
			RecreateTable: true,
			RecordRuns:    true,
		},
		Connection: config.ConnectionConfig{Timeout: time.Second},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, strategies ...connection.Strategy) *Pipeline {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	return &Pipeline{
		Cfg:        cfg,
		Fetcher:    scraper.NewFetcher(cfg.Source.DownloadTimeout, logger),
		Strategies: strategies,
		Logger:     logger,
		Now:        func() time.Time { return fixedNow },
	}
}

func TestPipeline_Run(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{
		"Registration_PrimaryExport.csv": registrationsCSV,
		"codes.csv":                      "a\n",
	}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")

	handle := &fakeHandle{name: "remote"}
	local := &fakeStrategy{name: "local", err: errors.New("connection refused")}
	remote := &fakeStrategy{name: "remote", handle: handle}
	rest := &fakeStrategy{name: "rest"}

	var states []string
	p := newTestPipeline(t, cfg, local, remote, rest)
	p.OnTransition = func(_, to connection.State) { states = append(states, to.String()) }

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "remote", summary.Strategy)
	assert.Equal(t, "Registration_PrimaryExport.csv", summary.SourceFile)
	assert.Equal(t, "UTF-8", summary.Encoding)
	assert.Equal(t, time.Date(2024, 10, 17, 0, 0, 0, 0, time.UTC), summary.Cutoff)
	assert.Equal(t, 10, summary.RowsSeen)
	assert.Equal(t, 5, summary.RowsKept)
	assert.Equal(t, 3, summary.SkippedOld)
	assert.Equal(t, 2, summary.SkippedUnparseable)
	assert.Equal(t, 1, summary.SkippedEmpty)
	assert.Equal(t, 5, summary.RowsWritten)
	assert.Equal(t, 3, summary.Batches)
	assert.NotEmpty(t, summary.RunID)

	assert.False(t, rest.tried)
	assert.Equal(t, []string{"Trying(local)", "Trying(remote)", "Connected(remote)"}, states)

	assert.Equal(t, []string{"reg_id_enr", "client_org_organisation_client", "effective_date_date_d_entrée_en_vigueur", "country_pays"}, handle.columns)
	assert.Equal(t, []string{"reg_id_enr", "country_pays", "effective_date_date_d_entrée_en_vigueur"}, handle.indexes)

	var ids []string
	for _, b := range handle.batches {
		for _, r := range b {
			ids = append(ids, r.Values[0])
		}
	}
	assert.Equal(t, []string{"1", "3", "5", "8", "10"}, ids)
	assert.Equal(t, "Société A", handle.batches[0][0].Values[1])

	require.Len(t, handle.runs, 1)
	assert.Equal(t, models.RunStatusSucceeded, handle.runs[0].Status)
	assert.Equal(t, 5, handle.runs[0].RowsWritten)
	assert.True(t, handle.closed)

	left, err := os.ReadDir(cfg.Source.TempDir)
	require.NoError(t, err)
	assert.Empty(t, left, "temp files are removed")
}

func TestPipeline_FallbackEncoding(t *testing.T) {
	latin1, err := charmap.ISO8859_1.NewEncoder().String(registrationsCSV)
	require.NoError(t, err)

	srv := serveArchive(t, zipBytes(t, map[string]string{"data.csv": latin1}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")
	cfg.Source.EncodingMinConfidence = 101

	handle := &fakeHandle{name: "local"}
	p := newTestPipeline(t, cfg, &fakeStrategy{name: "local", handle: handle})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scraper.DefaultEncoding, summary.Encoding)
	assert.Equal(t, 5, summary.RowsWritten)
	assert.Equal(t, "Société A", handle.batches[0][0].Values[1])
	assert.Contains(t, handle.columns, "effective_date_date_d_entrée_en_vigueur")
}

func TestPipeline_DiscoversArchiveLink(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{"r.csv": registrationsCSV}))
	cfg := testConfig(t, "")
	cfg.Source.IndexURL = srv.URL + "/open-data/"

	handle := &fakeHandle{name: "local"}
	p := newTestPipeline(t, cfg, &fakeStrategy{name: "local", handle: handle})

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip", summary.ArchiveURL)
	assert.Equal(t, 5, summary.RowsWritten)
}

func TestPipeline_FetchFailure(t *testing.T) {
	srv := serveArchive(t, nil)
	cfg := testConfig(t, srv.URL+"/missing.zip")

	local := &fakeStrategy{name: "local", handle: &fakeHandle{name: "local"}}
	summary, err := newTestPipeline(t, cfg, local).Run(context.Background())

	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.False(t, local.tried, "no connection is attempted after a fetch failure")
	require.NotNil(t, summary)
	assert.Zero(t, summary.RowsWritten)
}

func TestPipeline_NoCSVInArchive(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{"readme.txt": "hi"}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")

	_, err := newTestPipeline(t, cfg).Run(context.Background())

	var extractErr *scraper.ExtractError
	require.ErrorAs(t, err, &extractErr)
	assert.ErrorIs(t, err, scraper.ErrNoCSV)
}

func TestPipeline_AllConnectionsFailed(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{"r.csv": registrationsCSV}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")

	summary, err := newTestPipeline(t, cfg,
		&fakeStrategy{name: "local", err: errors.New("refused")},
		&fakeStrategy{name: "remote", err: errors.New("timeout")},
		&fakeStrategy{name: "rest", err: errors.New("401")},
	).Run(context.Background())

	var all *connection.AllFailedError
	require.ErrorAs(t, err, &all)
	assert.Len(t, all.Attempts, 3)
	assert.Empty(t, summary.Strategy)
	assert.Equal(t, "r.csv", summary.SourceFile)
}

func TestPipeline_WriteFailure(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{"r.csv": registrationsCSV}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")

	handle := &fakeHandle{name: "local", failBatch: 2}
	summary, err := newTestPipeline(t, cfg, &fakeStrategy{name: "local", handle: handle}).Run(context.Background())

	var wf *loader.WriteFailure
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, 2, wf.Batch)
	assert.Equal(t, 2, wf.RowsCommitted)
	assert.Equal(t, 2, summary.RowsWritten)

	require.Len(t, handle.runs, 1)
	assert.Equal(t, models.RunStatusFailed, handle.runs[0].Status)
	assert.Contains(t, handle.runs[0].ErrorMessage, "disk full")
	assert.True(t, handle.closed)
}

func TestPipeline_MissingRestTable(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{"r.csv": registrationsCSV}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")

	handle := &fakeHandle{name: "rest", ensureErr: &restapi.MissingTableError{Table: "lobby_staging", DDL: "CREATE TABLE lobby_staging (...)"}}
	_, err := newTestPipeline(t, cfg, &fakeStrategy{name: "rest", handle: handle}).Run(context.Background())

	var missing *restapi.MissingTableError
	require.ErrorAs(t, err, &missing)
	assert.Empty(t, handle.batches)
}

func TestPipeline_NoDateColumn(t *testing.T) {
	srv := serveArchive(t, zipBytes(t, map[string]string{"r.csv": "id,name\n1,a\n"}))
	cfg := testConfig(t, srv.URL+"/media/x/registrations_enregistrements_ocl_cal.zip")

	local := &fakeStrategy{name: "local", handle: &fakeHandle{name: "local"}}
	_, err := newTestPipeline(t, cfg, local).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no date column")
	assert.False(t, local.tried)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	PrintSummary(&out, &models.LoadSummary{
		RunID:              "run-1",
		Strategy:           "local",
		SourceFile:         "r.csv",
		Encoding:           "UTF-8",
		Cutoff:             time.Date(2024, 10, 17, 0, 0, 0, 0, time.UTC),
		RowsSeen:           10,
		RowsKept:           5,
		SkippedOld:         3,
		SkippedUnparseable: 2,
		RowsWritten:        5,
		Batches:            3,
		Elapsed:            1500 * time.Millisecond,
	})

	s := out.String()
	assert.Contains(t, s, "Rows kept")
	assert.Contains(t, s, "2024-10-17")
	assert.Contains(t, s, "local")
	assert.Contains(t, s, "1.5s")
}
