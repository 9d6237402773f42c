package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Client reads the pipeline's tables directly. It never writes.
type Client struct {
	db       *sql.DB
	postgres bool
	ctx      context.Context
}

type Summary struct {
	Classifiers int
	Indices     int
	PeriodMin   string
	PeriodMax   string
	LastSuccess *time.Time
	RowsLoaded  int
	FailedRuns  int
}

type Job struct {
	ID            string
	Status        string
	Progress      int
	TotalRows     int
	ProcessedRows int
	ETASeconds    *int
	ErrorMessage  string
	Source        string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Active reports whether the job is still PENDING or RUNNING.
func (j Job) Active() bool {
	return j.Status == "PENDING" || j.Status == "RUNNING"
}

// Duration is the elapsed time, up to now for active jobs.
func (j Job) Duration() time.Duration {
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}

type Run struct {
	ID           int64
	SourceURL    string
	Status       string
	RowsLoaded   int
	ErrorMessage string
	FetchedAt    time.Time
}

type Classifier struct {
	Code       string
	NameUz     string
	NameRu     string
	NameEn     string
	ParentCode string
}

// Label picks the first non-empty name, preferring lang.
func (c Classifier) Label(lang string) string {
	names := map[string]string{"uz": c.NameUz, "ru": c.NameRu, "en": c.NameEn}
	if v := names[lang]; v != "" {
		return v
	}
	for _, v := range []string{c.NameUz, c.NameRu, c.NameEn} {
		if v != "" {
			return v
		}
	}
	return c.Code
}

type Point struct {
	Period string // YYYY-MM
	Value  float64
}

// New opens Postgres when postgresURL is set, the SQLite file otherwise.
func New(postgresURL, sqlitePath string) (*Client, error) {
	ctx := context.Background()

	var (
		conn *sql.DB
		err  error
	)
	if postgresURL != "" {
		conn, err = sql.Open("pgx", postgresURL)
	} else {
		conn, err = sql.Open("sqlite", "file:"+sqlitePath+"?mode=ro&_pragma=busy_timeout(5000)")
	}
	if err != nil {
		return nil, err
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{
		db:       conn,
		postgres: postgresURL != "",
		ctx:      ctx,
	}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// rebind turns ? placeholders into $n for Postgres.
func (c *Client) rebind(query string) string {
	if !c.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *Client) GetSummary() (*Summary, error) {
	var s Summary
	var minP, maxP sql.NullString

	if err := c.db.QueryRowContext(c.ctx, `SELECT COUNT(*) FROM classifiers`).Scan(&s.Classifiers); err != nil {
		return nil, err
	}
	err := c.db.QueryRowContext(c.ctx, `
		SELECT MIN(period), MAX(period), COUNT(*) FROM monthly_indices`).Scan(&minP, &maxP, &s.Indices)
	if err != nil {
		return nil, err
	}
	s.PeriodMin = periodToken(minP.String)
	s.PeriodMax = periodToken(maxP.String)

	var fetched sql.NullString
	err = c.db.QueryRowContext(c.ctx, c.rebind(`
		SELECT fetched_at, rows_loaded FROM ingestion_runs
		WHERE status = ? ORDER BY fetched_at DESC, id DESC LIMIT 1`), "SUCCESS").Scan(&fetched, &s.RowsLoaded)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if fetched.Valid {
		if t, err := parseTime(fetched.String); err == nil {
			s.LastSuccess = &t
		}
	}

	err = c.db.QueryRowContext(c.ctx, c.rebind(
		`SELECT COUNT(*) FROM ingestion_runs WHERE status = ?`), "ERROR").Scan(&s.FailedRuns)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetActiveJob returns the oldest PENDING or RUNNING job, or nil.
func (c *Client) GetActiveJob() (*Job, error) {
	jobs, err := c.queryJobs(`
		SELECT id, status, progress, total_rows, processed_rows, eta_seconds,
			COALESCE(error_message, ''), COALESCE(source, ''), started_at, completed_at
		FROM refresh_jobs WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY started_at ASC LIMIT 1`)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

func (c *Client) GetRecentJobs(limit int) ([]Job, error) {
	return c.queryJobs(`
		SELECT id, status, progress, total_rows, processed_rows, eta_seconds,
			COALESCE(error_message, ''), COALESCE(source, ''), started_at, completed_at
		FROM refresh_jobs
		ORDER BY started_at DESC LIMIT ?`, limit)
}

func (c *Client) queryJobs(query string, args ...any) ([]Job, error) {
	rows, err := c.db.QueryContext(c.ctx, c.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var eta sql.NullInt64
		var started string
		var completed sql.NullString
		if err := rows.Scan(&j.ID, &j.Status, &j.Progress, &j.TotalRows, &j.ProcessedRows,
			&eta, &j.ErrorMessage, &j.Source, &started, &completed); err != nil {
			return nil, err
		}
		if eta.Valid {
			v := int(eta.Int64)
			j.ETASeconds = &v
		}
		if j.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			if t, err := parseTime(completed.String); err == nil {
				j.CompletedAt = &t
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (c *Client) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := c.db.QueryContext(c.ctx, c.rebind(`
		SELECT id, COALESCE(source_url, ''), status, rows_loaded,
			COALESCE(error_message, ''), fetched_at
		FROM ingestion_runs
		ORDER BY fetched_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var fetched string
		if err := rows.Scan(&r.ID, &r.SourceURL, &r.Status, &r.RowsLoaded, &r.ErrorMessage, &fetched); err != nil {
			return nil, err
		}
		if r.FetchedAt, err = parseTime(fetched); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func classifierWhere(search string) (string, []any) {
	if search == "" {
		return "", nil
	}
	like := "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
	return ` WHERE lower(code) LIKE ? ESCAPE '\' OR lower(COALESCE(name_uz, '')) LIKE ? ESCAPE '\'
		OR lower(COALESCE(name_ru, '')) LIKE ? ESCAPE '\' OR lower(COALESCE(name_en, '')) LIKE ? ESCAPE '\'`,
		[]any{like, like, like, like}
}

// Search text is matched literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (c *Client) CountClassifiers(search string) (int, error) {
	where, args := classifierWhere(search)
	var count int
	err := c.db.QueryRowContext(c.ctx, c.rebind(`SELECT COUNT(*) FROM classifiers`+where), args...).Scan(&count)
	return count, err
}

func (c *Client) GetClassifiers(search string, limit, offset int) ([]Classifier, error) {
	where, args := classifierWhere(search)
	args = append(args, limit, offset)
	rows, err := c.db.QueryContext(c.ctx, c.rebind(`
		SELECT code, COALESCE(name_uz, ''), COALESCE(name_ru, ''), COALESCE(name_en, ''),
			COALESCE(parent_code, '')
		FROM classifiers`+where+`
		ORDER BY code LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Classifier
	for rows.Next() {
		var cl Classifier
		if err := rows.Scan(&cl.Code, &cl.NameUz, &cl.NameRu, &cl.NameEn, &cl.ParentCode); err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

// GetLatestIndices returns the last n observations for code, oldest first.
func (c *Client) GetLatestIndices(code string, n int) ([]Point, error) {
	rows, err := c.db.QueryContext(c.ctx, c.rebind(`
		SELECT period, index_value FROM monthly_indices
		WHERE classifier_code = ?
		ORDER BY period DESC LIMIT ?`), code, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var raw string
		if err := rows.Scan(&raw, &p.Value); err != nil {
			return nil, err
		}
		p.Period = periodToken(raw)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts the text forms both drivers hand back for timestamps.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// periodToken reduces a stored period (YYYY-MM text or a DATE) to YYYY-MM.
func periodToken(s string) string {
	if len(s) < 7 {
		return s
	}
	return s[:7]
}
