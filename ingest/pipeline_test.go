package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"cpi_pulse/jobs"
	"cpi_pulse/models"
	"cpi_pulse/period"
	"cpi_pulse/storage"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func sampleWorkbook(t *testing.T) []byte {
	return buildWorkbook(t, [][]any{
		{"code", "Klassifikator", "KLASSIFIKATOR_RU", "Klassifikator_en", "2024-M01", "2024-М02", "2024-03", "Note"},
		{"1.02", "Oziq-ovqat", "Продукты", "Food", 101.2, "100,5", "n/a", "x"},
		{"1", "Jami", "Итого", "", 100.8, 100.4, 100.9},
		{"", "orphan", "", "", 99},
		{"1.02.01", "Non", "", "", "101.1"},
		{"3.05", "Xizmatlar", "", "", 102},
	})
}

type fixture struct {
	store    *storage.SQLiteStore
	tracker  *jobs.Tracker
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tracker := jobs.NewTracker(store, jobs.NewLocalLock(), time.Hour)
	return &fixture{store: store, tracker: tracker, pipeline: NewPipeline(store, tracker)}
}

func (f *fixture) run(t *testing.T, src Source) (*models.RefreshJob, *Result, error) {
	t.Helper()
	ctx := context.Background()
	job, err := f.tracker.Create(ctx, src.Name())
	require.NoError(t, err)
	res, runErr := f.pipeline.Run(ctx, job.ID, src)
	job, err = f.tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	return job, res, runErr
}

func mustPeriod(t *testing.T, token string) time.Time {
	t.Helper()
	p, err := period.Parse(token)
	require.NoError(t, err)
	return p
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	job, res, err := f.run(t, &BytesSource{Filename: "cpi.xlsx", Data: sampleWorkbook(t)})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 2, res.Periods)

	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 4, job.TotalRows)
	assert.Equal(t, 4, job.ProcessedRows)
	assert.Equal(t, 0, *job.ETASeconds)
	assert.NotNil(t, job.CompletedAt)

	food, err := f.store.GetClassifier(ctx, "1.02")
	require.NoError(t, err)
	require.NotNil(t, food)
	assert.Equal(t, "Oziq-ovqat", *food.NameUz)
	assert.Equal(t, "Продукты", *food.NameRu)
	assert.Equal(t, "1", *food.ParentCode)
	assert.Nil(t, food.NameUzc)

	top, err := f.store.GetClassifier(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, top.ParentCode)
	assert.Nil(t, top.NameEn)

	// 3 is not in the batch.
	services, err := f.store.GetClassifier(ctx, "3.05")
	require.NoError(t, err)
	assert.Nil(t, services.ParentCode)

	// 2024-03 is not a month column token.
	rows, err := f.store.GetIndices(ctx, "1.02", mustPeriod(t, "2024-01"), mustPeriod(t, "2024-12"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 101.2, rows[0].IndexValue)
	assert.Equal(t, mustPeriod(t, "2024-02"), rows[1].Period)
	assert.Equal(t, 100.5, rows[1].IndexValue)

	run, err := f.store.LatestSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "upload:cpi.xlsx", run.SourceURL)
	assert.Equal(t, 4, run.RowsLoaded)
}

func TestPipeline_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := sampleWorkbook(t)

	_, first, err := f.run(t, &BytesSource{Filename: "a.xlsx", Data: data})
	require.NoError(t, err)
	_, second, err := f.run(t, &BytesSource{Filename: "a.xlsx", Data: data})
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)

	stats, err := f.store.IndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Count)

	n, err := f.store.CountClassifiers(ctx, models.ClassifierFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPipeline_EmptyWorkbook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	job, res, err := f.run(t, &BytesSource{Filename: "empty.xlsx", Data: buildWorkbook(t, [][]any{{"Code", "2024-M01"}})})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptySource)

	var failure *FailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, job.ID, failure.JobID)

	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, ErrEmptySource.Error(), *job.ErrorMessage)

	n, err := f.store.CountClassifiers(ctx, models.ClassifierFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	errRuns, err := f.store.CountIngestionRuns(ctx, models.RunStatusError)
	require.NoError(t, err)
	assert.Equal(t, 1, errRuns)
}

func TestPipeline_CorruptWorkbook(t *testing.T) {
	f := newFixture(t)
	job, _, err := f.run(t, &BytesSource{Filename: "bad.xlsx", Data: []byte("not a workbook")})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
}

func TestPipeline_ProgressEveryTenRows(t *testing.T) {
	f := newFixture(t)

	rows := [][]any{{"Code", "2024-M01"}}
	for i := 1; i <= 25; i++ {
		rows = append(rows, []any{i, 100 + float64(i)/10})
	}

	var seen []int
	rec := &recordingTracker{Tracker: f.tracker, progress: &seen}
	f.pipeline = NewPipeline(f.store, rec)

	job, res, err := f.run(t, &BytesSource{Filename: "many.xlsx", Data: buildWorkbook(t, rows)})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Rows)
	assert.Equal(t, []int{40, 80, 100}, seen)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
}

type recordingTracker struct {
	*jobs.Tracker
	progress *[]int
}

func (r *recordingTracker) Progress(ctx context.Context, id string, progress, processed, eta int) error {
	*r.progress = append(*r.progress, progress)
	return r.Tracker.Progress(ctx, id, progress, processed, eta)
}

type completeFailingTracker struct {
	*jobs.Tracker
}

func (c *completeFailingTracker) Complete(context.Context, string) error {
	return errors.New("db down")
}

func TestPipeline_CompleteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pipeline = NewPipeline(f.store, &completeFailingTracker{Tracker: f.tracker})

	job, res, err := f.run(t, &BytesSource{Filename: "cpi.xlsx", Data: sampleWorkbook(t)})
	assert.Nil(t, res)
	require.Error(t, err)

	var failure *FailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, job.ID, failure.JobID)
	assert.Contains(t, err.Error(), "db down")

	assert.Equal(t, models.JobStatusError, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "complete job: db down", *job.ErrorMessage)

	errRuns, err := f.store.CountIngestionRuns(ctx, models.RunStatusError)
	require.NoError(t, err)
	assert.Equal(t, 1, errRuns)
	okRuns, err := f.store.CountIngestionRuns(ctx, models.RunStatusSuccess)
	require.NoError(t, err)
	assert.Zero(t, okRuns)

	// The lock was released with the failure.
	next, err := f.tracker.Create(ctx, "next")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, next.Status)
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (a *fakeArchiver) Archive(_ context.Context, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	key := storage.ArchiveKey(data)
	a.keys = append(a.keys, key)
	return key, nil
}

func TestPipeline_Archive(t *testing.T) {
	f := newFixture(t)
	archiver := &fakeArchiver{}
	f.pipeline.SetArchiver(archiver)

	_, res, err := f.run(t, &BytesSource{Filename: "a.xlsx", Data: sampleWorkbook(t)})
	require.NoError(t, err)
	require.Len(t, archiver.keys, 1)
	assert.Equal(t, archiver.keys[0], res.ArchiveKey)

	// Archive failures do not fail the run.
	archiver.err = errors.New("bucket gone")
	job, res, err := f.run(t, &BytesSource{Filename: "a.xlsx", Data: sampleWorkbook(t)})
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveKey)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
}

func TestURLSource_FollowsLandingPage(t *testing.T) {
	data := sampleWorkbook(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/cpi", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><a href="/docs/readme.pdf">Readme</a><a href="/files/CPI.XLSX?v=2">CPI</a></body></html>`))
	})
	mux.HandleFunc("/files/CPI.XLSX", func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewURLSource(srv.URL+"/cpi", srv.Client())
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, srv.URL+"/cpi", src.Name())
}

func TestURLSource_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/nolink", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><a href="/a.csv">csv</a></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewURLSource(srv.URL+"/missing", srv.Client()).Fetch(context.Background())
	assert.ErrorContains(t, err, "status 404")

	_, err = NewURLSource(srv.URL+"/nolink", srv.Client()).Fetch(context.Background())
	assert.ErrorContains(t, err, "no .xlsx link")
}

func TestEstimate(t *testing.T) {
	progress, eta := estimate(10, 40, 5*time.Second)
	assert.Equal(t, 25, progress)
	assert.Equal(t, 15, eta)

	progress, eta = estimate(3, 7, time.Second)
	assert.Equal(t, 42, progress)
	assert.Equal(t, 2, eta)

	progress, eta = estimate(40, 40, time.Minute)
	assert.Equal(t, 100, progress)
	assert.Equal(t, 0, eta)
}
