package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpi_pulse/config"
	"cpi_pulse/ingest"
	"cpi_pulse/jobs"
	"cpi_pulse/models"
	"cpi_pulse/services"
	"cpi_pulse/storage"
	"cpi_pulse/workers"
)

type testEnv struct {
	store   *storage.SQLiteStore
	tracker *jobs.Tracker
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, source ingest.Source) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tracker := jobs.NewTracker(store, jobs.NewLocalLock(), time.Hour)
	worker := workers.NewRefreshWorker(ingest.NewPipeline(store, tracker), tracker, 2, time.Hour)
	srv := NewServer(
		config.AuthConfig{AdminKey: "admin-secret", UploadKey: "upload-secret"},
		services.NewAnalyticsService(store, config.DefaultHeadlineCodes),
		services.NewCatalogService(store),
		tracker, worker, source, "uz",
	)
	return &testEnv{store: store, tracker: tracker, server: srv, handler: srv.Routes()}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRefresh_RequiresAdminKey(t *testing.T) {
	env := newTestEnv(t, &ingest.BytesSource{Filename: "cpi.xlsx"})

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/admin/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/refresh", nil)
	req.Header.Set("X-ADMIN-KEY", "wrong")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "invalid X-ADMIN-KEY", body.Error)
}

func TestRefresh_CreatesJobAndRejectsSecond(t *testing.T) {
	env := newTestEnv(t, &ingest.BytesSource{Filename: "cpi.xlsx"})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/refresh", nil)
	req.Header.Set("X-ADMIN-KEY", "admin-secret")
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp refreshResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, models.JobStatusPending, resp.Status)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/refresh", nil)
	req.Header.Set("X-ADMIN-KEY", "admin-secret")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/refresh/"+resp.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.RefreshJob
	decode(t, rec, &job)
	assert.Equal(t, resp.JobID, job.ID)
	assert.Equal(t, "upload:cpi.xlsx", job.Source)
}

func TestRefresh_NoSourceConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/refresh", nil)
	req.Header.Set("X-ADMIN-KEY", "admin-secret")
	rec := env.do(t, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJobStatus_Unknown(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/refresh/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "march.xlsx")
	require.NoError(t, err)
	part.Write([]byte("PK fake workbook"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload", bytes.NewReader(buf.Bytes()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/upload", bytes.NewReader(buf.Bytes()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-UPLOAD-KEY", "upload-secret")
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp refreshResponse
	decode(t, rec, &resp)
	job, err := env.tracker.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "upload:march.xlsx", job.Source)
}

func TestUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload", nil)
	req.Header.Set("X-UPLOAD-KEY", "upload-secret")
	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.maxUpload = 1024

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "huge.xlsx")
	require.NoError(t, err)
	part.Write(bytes.Repeat([]byte("x"), 4096))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/upload", bytes.NewReader(buf.Bytes()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-UPLOAD-KEY", "upload-secret")
	rec := env.do(t, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "upload exceeds 1024 bytes", body.Error)

	active, err := env.tracker.Active(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func seed(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	name := "Jami"
	require.NoError(t, store.UpsertClassifier(ctx, &models.Classifier{Code: "1", NameUz: &name}))
	for token, v := range map[string]float64{"2024-01": 101, "2024-02": 99} {
		p, err := time.Parse("2006-01", token)
		require.NoError(t, err)
		require.NoError(t, store.UpsertIndex(ctx, &models.MonthlyIndex{ClassifierCode: "1", Period: p, IndexValue: v}))
	}
}

func TestSeries(t *testing.T) {
	env := newTestEnv(t, nil)
	seed(t, env.store)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/series?codes=1&start=2024-M01&end=2024-M02&metric=cumulative", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res services.SeriesResult
	decode(t, rec, &res)
	assert.Equal(t, []string{"2024-01", "2024-02"}, res.Periods)
	require.Len(t, res.Series, 1)
	assert.Equal(t, "Jami", res.Series[0].Label)
	require.NotNil(t, res.Series[0].Values[1])
	assert.Equal(t, -0.01, *res.Series[0].Values[1])
}

func TestSeries_BadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []string{
		"/api/series?start=2024-01&end=2024-02",
		"/api/series?codes=1&start=2024-13&end=2024-02",
		"/api/series?codes=1&start=2024-01&end=2024-02&metric=avg",
		"/api/series?codes=1&start=2024-03&end=2024-02",
		"/api/kpi?start=bad&end=2024-02",
	}
	for _, url := range cases {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestKPITableMetaClassifiers(t *testing.T) {
	env := newTestEnv(t, nil)
	seed(t, env.store)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/kpi?start=2024-01&end=2024-02&lang=ru", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var kpi services.KPIResult
	decode(t, rec, &kpi)
	require.Len(t, kpi.KPIs, 4)
	assert.Equal(t, -1.0, kpi.KPIs[0].LastMonthMoMPercent)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/table?start=2024-01&end=2024-02&page_size=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var table services.TableResult
	decode(t, rec, &table)
	assert.Equal(t, services.DefaultPageSize, table.Pagination.PageSize)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, 1.0, *table.Rows[0].Values["2024-01"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/meta", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var meta services.Meta
	decode(t, rec, &meta)
	assert.Equal(t, 1, meta.ClassifiersCount)
	assert.Equal(t, 2, meta.TotalIndices)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/classifiers?q=jami", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page services.ClassifierPage
	decode(t, rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Jami", page.Items[0].Label)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cpi_http_requests_total")
}
