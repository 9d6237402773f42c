package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cpi_pulse/models"
	"cpi_pulse/period"
)

// SQLiteStore backs the full datastore on a single file. Periods are stored
// as "YYYY-MM" text so range filters and MIN/MAX stay lexicographic.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS classifiers (
		code TEXT PRIMARY KEY,
		name_uz TEXT,
		name_ru TEXT,
		name_en TEXT,
		name_uzc TEXT,
		parent_code TEXT REFERENCES classifiers(code),
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS monthly_indices (
		classifier_code TEXT NOT NULL REFERENCES classifiers(code),
		period TEXT NOT NULL,
		index_value REAL NOT NULL,
		PRIMARY KEY (classifier_code, period)
	);

	CREATE TABLE IF NOT EXISTS refresh_jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		total_rows INTEGER NOT NULL DEFAULT 0,
		processed_rows INTEGER NOT NULL DEFAULT 0,
		eta_seconds INTEGER,
		error_message TEXT,
		source TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id INTEGER PRIMARY KEY,
		source_url TEXT,
		status TEXT NOT NULL,
		rows_loaded INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		fetched_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_classifiers_parent ON classifiers(parent_code);
	CREATE INDEX IF NOT EXISTS idx_indices_period ON monthly_indices(period);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON refresh_jobs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON ingestion_runs(status, fetched_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Classifiers
// =============================================================================

func (s *SQLiteStore) GetClassifier(ctx context.Context, code string) (*models.Classifier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, name_uz, name_ru, name_en, name_uzc, parent_code
		FROM classifiers WHERE code = ?`, code)

	c, err := scanClassifier(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpsertClassifier inserts or fully overwrites names and parent.
func (s *SQLiteStore) UpsertClassifier(ctx context.Context, c *models.Classifier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classifiers (code, name_uz, name_ru, name_en, name_uzc, parent_code, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name_uz = excluded.name_uz,
			name_ru = excluded.name_ru,
			name_en = excluded.name_en,
			name_uzc = excluded.name_uzc,
			parent_code = excluded.parent_code,
			updated_at = excluded.updated_at`,
		c.Code, c.NameUz, c.NameRu, c.NameEn, c.NameUzc, c.ParentCode, time.Now().UTC())
	return err
}

func (s *SQLiteStore) CountClassifiers(ctx context.Context, filter models.ClassifierFilter) (int, error) {
	where, args := sqliteClassifierWhere(filter)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classifiers`+where, args...).Scan(&count)
	return count, err
}

func (s *SQLiteStore) ListClassifiers(ctx context.Context, filter models.ClassifierFilter) ([]models.Classifier, error) {
	where, args := sqliteClassifierWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name_uz, name_ru, name_en, name_uzc, parent_code
		FROM classifiers`+where+`
		ORDER BY code ASC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Classifier
	for rows.Next() {
		c, err := scanClassifier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func sqliteClassifierWhere(filter models.ClassifierFilter) (string, []interface{}) {
	q := strings.TrimSpace(filter.Search)
	if q == "" {
		return "", nil
	}
	pattern := likePattern(strings.ToLower(q))
	return ` WHERE lower(code) LIKE ? ESCAPE '\' OR lower(name_uz) LIKE ? ESCAPE '\'
		OR lower(name_ru) LIKE ? ESCAPE '\' OR lower(name_en) LIKE ? ESCAPE '\'
		OR lower(name_uzc) LIKE ? ESCAPE '\'`,
		[]interface{}{pattern, pattern, pattern, pattern, pattern}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClassifier(row rowScanner) (*models.Classifier, error) {
	var c models.Classifier
	var uz, ru, en, uzc, parent sql.NullString
	if err := row.Scan(&c.Code, &uz, &ru, &en, &uzc, &parent); err != nil {
		return nil, err
	}
	c.NameUz = nullString(uz)
	c.NameRu = nullString(ru)
	c.NameEn = nullString(en)
	c.NameUzc = nullString(uzc)
	c.ParentCode = nullString(parent)
	return &c, nil
}

// =============================================================================
// Monthly indices
// =============================================================================

func (s *SQLiteStore) UpsertIndex(ctx context.Context, idx *models.MonthlyIndex) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monthly_indices (classifier_code, period, index_value)
		VALUES (?, ?, ?)
		ON CONFLICT(classifier_code, period) DO UPDATE SET index_value = excluded.index_value`,
		idx.ClassifierCode, period.Format(idx.Period), idx.IndexValue)
	return err
}

// GetIndices returns a classifier's values in [from, to], ordered by period.
func (s *SQLiteStore) GetIndices(ctx context.Context, code string, from, to time.Time) ([]models.MonthlyIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT classifier_code, period, index_value
		FROM monthly_indices
		WHERE classifier_code = ? AND period >= ? AND period <= ?
		ORDER BY period ASC`,
		code, period.Format(from), period.Format(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MonthlyIndex
	for rows.Next() {
		var idx models.MonthlyIndex
		var token string
		if err := rows.Scan(&idx.ClassifierCode, &token, &idx.IndexValue); err != nil {
			return nil, err
		}
		if idx.Period, err = period.Parse(token); err != nil {
			return nil, fmt.Errorf("stored period %q: %w", token, err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IndexStats(ctx context.Context) (*models.IndexStats, error) {
	var minP, maxP sql.NullString
	var stats models.IndexStats
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(period), MAX(period), COUNT(*) FROM monthly_indices`).Scan(&minP, &maxP, &stats.Count)
	if err != nil {
		return nil, err
	}
	if minP.Valid {
		if t, err := period.Parse(minP.String); err == nil {
			stats.MinPeriod = &t
		}
	}
	if maxP.Valid {
		if t, err := period.Parse(maxP.String); err == nil {
			stats.MaxPeriod = &t
		}
	}
	return &stats, nil
}

// =============================================================================
// Refresh jobs
// =============================================================================

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.RefreshJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_jobs (id, status, progress, total_rows, processed_rows, eta_seconds,
			error_message, source, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.Progress, job.TotalRows, job.ProcessedRows, job.ETASeconds,
		job.ErrorMessage, job.Source, job.StartedAt.UTC(), job.CompletedAt)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.RefreshJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, progress, total_rows, processed_rows, eta_seconds, error_message,
			source, started_at, completed_at
		FROM refresh_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob writes only the fields set in u.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	if u.Empty() {
		return nil
	}

	var sets []string
	var args []interface{}
	add := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.TotalRows != nil {
		add("total_rows", *u.TotalRows)
	}
	if u.ProcessedRows != nil {
		add("processed_rows", *u.ProcessedRows)
	}
	if u.ETASeconds != nil {
		add("eta_seconds", *u.ETASeconds)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.CompletedAt != nil {
		add("completed_at", u.CompletedAt.UTC())
	}
	args = append(args, id)

	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

// ActiveJob returns the oldest PENDING or RUNNING job, or nil.
func (s *SQLiteStore) ActiveJob(ctx context.Context) (*models.RefreshJob, error) {
	jobs, err := s.activeJobs(ctx)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

// ListStaleJobs returns non-terminal jobs started before the cutoff.
func (s *SQLiteStore) ListStaleJobs(ctx context.Context, before time.Time) ([]models.RefreshJob, error) {
	jobs, err := s.activeJobs(ctx)
	if err != nil {
		return nil, err
	}
	var stale []models.RefreshJob
	for _, j := range jobs {
		if j.StartedAt.Before(before) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

func (s *SQLiteStore) activeJobs(ctx context.Context) ([]models.RefreshJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, progress, total_rows, processed_rows, eta_seconds, error_message,
			source, started_at, completed_at
		FROM refresh_jobs WHERE status IN (?, ?)
		ORDER BY started_at ASC`,
		models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.RefreshJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*models.RefreshJob, error) {
	var job models.RefreshJob
	var eta sql.NullInt64
	var errMsg, source sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&job.ID, &job.Status, &job.Progress, &job.TotalRows, &job.ProcessedRows,
		&eta, &errMsg, &source, &job.StartedAt, &completed); err != nil {
		return nil, err
	}
	if eta.Valid {
		v := int(eta.Int64)
		job.ETASeconds = &v
	}
	job.ErrorMessage = nullString(errMsg)
	job.Source = source.String
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// =============================================================================
// Ingestion runs
// =============================================================================

func (s *SQLiteStore) CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	if run.FetchedAt.IsZero() {
		run.FetchedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (source_url, status, rows_loaded, error_message, fetched_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.SourceURL, run.Status, run.RowsLoaded, run.ErrorMessage, run.FetchedAt.UTC())
	if err != nil {
		return err
	}
	run.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) LatestSuccessfulRun(ctx context.Context) (*models.IngestionRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_url, status, rows_loaded, error_message, fetched_at
		FROM ingestion_runs WHERE status = ?
		ORDER BY fetched_at DESC, id DESC LIMIT 1`, models.RunStatusSuccess)

	var run models.IngestionRun
	var source, errMsg sql.NullString
	err := row.Scan(&run.ID, &source, &run.Status, &run.RowsLoaded, &errMsg, &run.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.SourceURL = source.String
	run.ErrorMessage = nullString(errMsg)
	return &run, nil
}

func (s *SQLiteStore) CountIngestionRuns(ctx context.Context, status models.RunStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ingestion_runs WHERE status = ?`, status).Scan(&count)
	return count, err
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
