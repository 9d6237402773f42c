package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"cpi_pulse/classifier"
	"cpi_pulse/metrics"
	"cpi_pulse/models"
)

var ErrEmptySource = errors.New("workbook has no data rows")

// progressEvery is how many rows pass between job progress writes.
const progressEvery = 10

// FailureError is returned when a run fails after its job was started. The
// job is already ERROR and an ERROR ingestion run has been recorded.
type FailureError struct {
	JobID string
	Err   error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("ingestion failed: %v", e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

type Store interface {
	UpsertClassifier(ctx context.Context, c *models.Classifier) error
	UpsertIndex(ctx context.Context, idx *models.MonthlyIndex) error
	CreateIngestionRun(ctx context.Context, run *models.IngestionRun) error
}

// Tracker is the subset of jobs.Tracker the pipeline drives.
type Tracker interface {
	Start(ctx context.Context, id string) error
	SetTotal(ctx context.Context, id string, total int) error
	Progress(ctx context.Context, id string, progress, processed, etaSeconds int) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, message string) error
}

type Archiver interface {
	Archive(ctx context.Context, data []byte) (string, error)
}

type Result struct {
	Rows       int
	Periods    int
	Duration   time.Duration
	ArchiveKey string
}

type Pipeline struct {
	store    Store
	tracker  Tracker
	archiver Archiver
	now      func() time.Time
}

func NewPipeline(store Store, tracker Tracker) *Pipeline {
	return &Pipeline{
		store:   store,
		tracker: tracker,
		now:     time.Now,
	}
}

// SetArchiver enables archiving of fetched workbooks.
func (p *Pipeline) SetArchiver(a Archiver) {
	p.archiver = a
}

type sheetRow struct {
	code   string
	keys   map[string]any
	record map[string]any
}

// Run executes one ingestion for jobID, which must be PENDING. Writes are
// idempotent upserts and are not rolled back on failure.
func (p *Pipeline) Run(ctx context.Context, jobID string, src Source) (*Result, error) {
	start := p.now()
	tag := shortID(jobID)

	if err := p.tracker.Start(ctx, jobID); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	log.Printf("[job %s] ingesting %s", tag, src.Name())

	result, err := p.ingest(ctx, jobID, src, start)
	if err != nil {
		p.fail(ctx, jobID, src, err)
		metrics.IngestFinished(string(models.RunStatusError), p.now().Sub(start))
		return nil, &FailureError{JobID: jobID, Err: err}
	}

	if err := p.tracker.Complete(ctx, jobID); err != nil {
		err = fmt.Errorf("complete job: %w", err)
		p.fail(ctx, jobID, src, err)
		metrics.IngestFinished(string(models.RunStatusError), p.now().Sub(start))
		return nil, &FailureError{JobID: jobID, Err: err}
	}
	result.Duration = p.now().Sub(start)
	metrics.IngestFinished(string(models.RunStatusSuccess), result.Duration)

	// The job is already terminal here, so a lost run row is only logged.
	run := &models.IngestionRun{
		SourceURL:  src.Name(),
		Status:     models.RunStatusSuccess,
		RowsLoaded: result.Rows,
		FetchedAt:  p.now(),
	}
	if err := p.store.CreateIngestionRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("[job %s] record run: %v", tag, err)
	}

	log.Printf("[job %s] complete: %d rows, %d periods in %s", tag, result.Rows, result.Periods, result.Duration.Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) ingest(ctx context.Context, jobID string, src Source, start time.Time) (*Result, error) {
	tag := shortID(jobID)
	result := &Result{}

	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if p.archiver != nil {
		key, err := p.archiver.Archive(ctx, data)
		if err != nil {
			log.Printf("[job %s] archive failed: %v", tag, err)
		} else {
			result.ArchiveKey = key
			log.Printf("[job %s] archived workbook as %s", tag, key)
		}
	}

	wb, err := ReadWorkbook(data)
	if err != nil {
		return nil, err
	}
	if len(wb.Records) == 0 {
		return nil, ErrEmptySource
	}
	log.Printf("[job %s] parsed %d rows from sheet %q", tag, len(wb.Records), wb.Sheet)

	cols := monthColumns(wb.Headers)
	result.Periods = len(cols)
	if len(cols) > 0 {
		log.Printf("[job %s] found %d month columns: %s to %s", tag, len(cols), cols[0].Header, cols[len(cols)-1].Header)
	}

	var rows []sheetRow
	var codes []string
	for _, rec := range wb.Records {
		keys := normalizeKeys(rec)
		code := cellString(keys[colCode])
		if code == "" {
			continue
		}
		rows = append(rows, sheetRow{code: code, keys: keys, record: rec})
		codes = append(codes, code)
	}
	batch := classifier.NewBatch(codes)
	sort.SliceStable(rows, func(i, j int) bool {
		return classifier.Less(rows[i].code, rows[j].code)
	})

	total := len(rows)
	if err := p.tracker.SetTotal(ctx, jobID, total); err != nil {
		return nil, fmt.Errorf("set total: %w", err)
	}

	processed := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.writeRow(ctx, batch, cols, row); err != nil {
			return nil, fmt.Errorf("row %s: %w", row.code, err)
		}
		processed++

		if processed%progressEvery == 0 || processed == total {
			progress, eta := estimate(processed, total, p.now().Sub(start))
			if err := p.tracker.Progress(ctx, jobID, progress, processed, eta); err != nil {
				return nil, fmt.Errorf("progress: %w", err)
			}
			log.Printf("[job %s] processed %d/%d rows (eta %ds)", tag, processed, total, eta)
		}
	}
	metrics.RowsIngested(processed)

	result.Rows = processed
	return result, nil
}

func (p *Pipeline) writeRow(ctx context.Context, batch *classifier.Batch, cols []monthColumn, row sheetRow) error {
	c := &models.Classifier{
		Code:    row.code,
		NameUz:  cellName(row.keys[colNameUz]),
		NameRu:  cellName(row.keys[colNameRu]),
		NameEn:  cellName(row.keys[colNameEn]),
		NameUzc: cellName(row.keys[colNameUzc]),
	}
	if parent := batch.Parent(row.code); parent != "" {
		c.ParentCode = &parent
	}
	if err := p.store.UpsertClassifier(ctx, c); err != nil {
		return fmt.Errorf("upsert classifier: %w", err)
	}

	for _, col := range cols {
		value, ok := cellFloat(row.record[col.Header])
		if !ok {
			continue
		}
		idx := &models.MonthlyIndex{
			ClassifierCode: row.code,
			Period:         col.Period,
			IndexValue:     value,
		}
		if err := p.store.UpsertIndex(ctx, idx); err != nil {
			return fmt.Errorf("upsert index %s: %w", col.Header, err)
		}
	}
	return nil
}

// fail records the failure even when ctx is already cancelled.
func (p *Pipeline) fail(ctx context.Context, jobID string, src Source, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	log.Printf("[job %s] ingestion failed: %s", shortID(jobID), msg)

	if err := p.tracker.Fail(ctx, jobID, msg); err != nil {
		log.Printf("[job %s] mark failed: %v", shortID(jobID), err)
	}
	run := &models.IngestionRun{
		SourceURL:    src.Name(),
		Status:       models.RunStatusError,
		ErrorMessage: &msg,
		FetchedAt:    p.now(),
	}
	if err := p.store.CreateIngestionRun(ctx, run); err != nil {
		log.Printf("[job %s] record failed run: %v", shortID(jobID), err)
	}
}

// estimate returns floor percentage and the ETA in whole seconds, projected
// from the average time per processed row.
func estimate(processed, total int, elapsed time.Duration) (int, int) {
	if total <= 0 || processed <= 0 {
		return 0, 0
	}
	progress := processed * 100 / total
	avg := elapsed.Seconds() / float64(processed)
	eta := int(math.Ceil(avg * float64(total-processed)))
	return progress, max(eta, 0)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
