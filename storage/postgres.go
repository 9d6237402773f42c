package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cpi_pulse/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS classifiers (
		code TEXT PRIMARY KEY,
		name_uz TEXT,
		name_ru TEXT,
		name_en TEXT,
		name_uzc TEXT,
		parent_code TEXT REFERENCES classifiers(code),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS monthly_indices (
		classifier_code TEXT NOT NULL REFERENCES classifiers(code),
		period DATE NOT NULL,
		index_value DOUBLE PRECISION NOT NULL,
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
		source TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id BIGSERIAL PRIMARY KEY,
		source_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		rows_loaded INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_classifiers_parent ON classifiers(parent_code);
	CREATE INDEX IF NOT EXISTS idx_indices_period ON monthly_indices(period);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON refresh_jobs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON ingestion_runs(status, fetched_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Classifiers
// =============================================================================

func (s *PostgresStore) GetClassifier(ctx context.Context, code string) (*models.Classifier, error) {
	query := `
		SELECT code, name_uz, name_ru, name_en, name_uzc, parent_code
		FROM classifiers WHERE code = $1`

	var c models.Classifier
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&c.Code, &c.NameUz, &c.NameRu, &c.NameEn, &c.NameUzc, &c.ParentCode,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) UpsertClassifier(ctx context.Context, c *models.Classifier) error {
	query := `
		INSERT INTO classifiers (code, name_uz, name_ru, name_en, name_uzc, parent_code, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (code) DO UPDATE SET
			name_uz = EXCLUDED.name_uz,
			name_ru = EXCLUDED.name_ru,
			name_en = EXCLUDED.name_en,
			name_uzc = EXCLUDED.name_uzc,
			parent_code = EXCLUDED.parent_code,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, c.Code, c.NameUz, c.NameRu, c.NameEn, c.NameUzc, c.ParentCode)
	return err
}

func (s *PostgresStore) CountClassifiers(ctx context.Context, filter models.ClassifierFilter) (int, error) {
	where, args := pgClassifierWhere(filter)
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM classifiers`+where, args...).Scan(&count)
	return count, err
}

func (s *PostgresStore) ListClassifiers(ctx context.Context, filter models.ClassifierFilter) ([]models.Classifier, error) {
	where, args := pgClassifierWhere(filter)
	query := `
		SELECT code, name_uz, name_ru, name_en, name_uzc, parent_code
		FROM classifiers` + where + `
		ORDER BY code ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Classifier
	for rows.Next() {
		var c models.Classifier
		if err := rows.Scan(&c.Code, &c.NameUz, &c.NameRu, &c.NameEn, &c.NameUzc, &c.ParentCode); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func pgClassifierWhere(filter models.ClassifierFilter) (string, []any) {
	q := strings.TrimSpace(filter.Search)
	if q == "" {
		return "", nil
	}
	return ` WHERE code ILIKE $1 ESCAPE '\' OR name_uz ILIKE $1 ESCAPE '\'
		OR name_ru ILIKE $1 ESCAPE '\' OR name_en ILIKE $1 ESCAPE '\'
		OR name_uzc ILIKE $1 ESCAPE '\'`, []any{likePattern(q)}
}

// =============================================================================
// Monthly indices
// =============================================================================

func (s *PostgresStore) UpsertIndex(ctx context.Context, idx *models.MonthlyIndex) error {
	query := `
		INSERT INTO monthly_indices (classifier_code, period, index_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (classifier_code, period) DO UPDATE SET index_value = EXCLUDED.index_value`

	_, err := s.pool.Exec(ctx, query, idx.ClassifierCode, idx.Period, idx.IndexValue)
	return err
}

func (s *PostgresStore) GetIndices(ctx context.Context, code string, from, to time.Time) ([]models.MonthlyIndex, error) {
	query := `
		SELECT classifier_code, period, index_value
		FROM monthly_indices
		WHERE classifier_code = $1 AND period >= $2 AND period <= $3
		ORDER BY period ASC`

	rows, err := s.pool.Query(ctx, query, code, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MonthlyIndex
	for rows.Next() {
		var idx models.MonthlyIndex
		if err := rows.Scan(&idx.ClassifierCode, &idx.Period, &idx.IndexValue); err != nil {
			return nil, err
		}
		idx.Period = idx.Period.UTC()
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IndexStats(ctx context.Context) (*models.IndexStats, error) {
	var stats models.IndexStats
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(period), MAX(period), COUNT(*) FROM monthly_indices`,
	).Scan(&stats.MinPeriod, &stats.MaxPeriod, &stats.Count)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// =============================================================================
// Refresh jobs
// =============================================================================

const jobColumns = `id, status, progress, total_rows, processed_rows, eta_seconds, error_message,
			source, started_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.RefreshJob) error {
	query := `
		INSERT INTO refresh_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.Progress, job.TotalRows, job.ProcessedRows, job.ETASeconds,
		job.ErrorMessage, job.Source, job.StartedAt, job.CompletedAt,
	)
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.RefreshJob, error) {
	query := `SELECT ` + jobColumns + ` FROM refresh_jobs WHERE id = $1`

	job, err := scanPgJob(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	if u.Empty() {
		return nil
	}

	var sets []string
	args := []any{id}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
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
		add("completed_at", *u.CompletedAt)
	}

	_, err := s.pool.Exec(ctx, `UPDATE refresh_jobs SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	return err
}

func (s *PostgresStore) ActiveJob(ctx context.Context) (*models.RefreshJob, error) {
	query := `SELECT ` + jobColumns + ` FROM refresh_jobs
		WHERE status IN ($1, $2)
		ORDER BY started_at ASC
		LIMIT 1`

	job, err := scanPgJob(s.pool.QueryRow(ctx, query, string(models.JobStatusPending), string(models.JobStatusRunning)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, before time.Time) ([]models.RefreshJob, error) {
	query := `SELECT ` + jobColumns + ` FROM refresh_jobs
		WHERE status IN ($1, $2) AND started_at < $3
		ORDER BY started_at ASC`

	rows, err := s.pool.Query(ctx, query, string(models.JobStatusPending), string(models.JobStatusRunning), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.RefreshJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanPgJob(row pgx.Row) (*models.RefreshJob, error) {
	var job models.RefreshJob
	var status string
	err := row.Scan(&job.ID, &status, &job.Progress, &job.TotalRows, &job.ProcessedRows,
		&job.ETASeconds, &job.ErrorMessage, &job.Source, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}

// =============================================================================
// Ingestion runs
// =============================================================================

func (s *PostgresStore) CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	if run.FetchedAt.IsZero() {
		run.FetchedAt = time.Now()
	}
	query := `
		INSERT INTO ingestion_runs (source_url, status, rows_loaded, error_message, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.SourceURL, string(run.Status), run.RowsLoaded, run.ErrorMessage, run.FetchedAt,
	).Scan(&run.ID)
}

func (s *PostgresStore) LatestSuccessfulRun(ctx context.Context) (*models.IngestionRun, error) {
	query := `
		SELECT id, source_url, status, rows_loaded, error_message, fetched_at
		FROM ingestion_runs WHERE status = $1
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1`

	var run models.IngestionRun
	var status string
	err := s.pool.QueryRow(ctx, query, string(models.RunStatusSuccess)).Scan(
		&run.ID, &run.SourceURL, &status, &run.RowsLoaded, &run.ErrorMessage, &run.FetchedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}
