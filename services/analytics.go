package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cpi_pulse/classifier"
	"cpi_pulse/models"
	"cpi_pulse/period"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	// seriesConcurrency bounds per-code datastore reads for one request.
	seriesConcurrency = 4
)

// Store is the read side of the datastore used by the analytics and
// catalog services.
type Store interface {
	GetClassifier(ctx context.Context, code string) (*models.Classifier, error)
	CountClassifiers(ctx context.Context, filter models.ClassifierFilter) (int, error)
	ListClassifiers(ctx context.Context, filter models.ClassifierFilter) ([]models.Classifier, error)
	GetIndices(ctx context.Context, code string, from, to time.Time) ([]models.MonthlyIndex, error)
	IndexStats(ctx context.Context) (*models.IndexStats, error)
	LatestSuccessfulRun(ctx context.Context) (*models.IngestionRun, error)
}

type AnalyticsService struct {
	store         Store
	headlineCodes []string
}

func NewAnalyticsService(store Store, headlineCodes []string) *AnalyticsService {
	return &AnalyticsService{
		store:         store,
		headlineCodes: headlineCodes,
	}
}

type SeriesQuery struct {
	Codes  []string
	Start  string
	End    string
	Metric string
	Lang   string
}

type Series struct {
	Code   string     `json:"code"`
	Label  string     `json:"label"`
	Values []*float64 `json:"values"`
}

type SeriesResult struct {
	Periods []string `json:"periods"`
	Series  []Series `json:"series"`
}

// Series computes one series per requested code over every month of the
// range. Output order follows q.Codes.
func (s *AnalyticsService) Series(ctx context.Context, q SeriesQuery) (*SeriesResult, error) {
	metric, err := ParseMetric(q.Metric)
	if err != nil {
		return nil, err
	}
	start, end, err := parseRange(q.Start, q.End)
	if err != nil {
		return nil, err
	}

	grid := period.Grid(start, end)
	series, err := s.computeAll(ctx, q.Codes, grid, metric, q.Lang)
	if err != nil {
		return nil, err
	}

	return &SeriesResult{
		Periods: tokens(grid),
		Series:  series,
	}, nil
}

func (s *AnalyticsService) computeAll(ctx context.Context, codes []string, grid []time.Time, metric Metric, lang string) ([]Series, error) {
	out := make([]Series, len(codes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(seriesConcurrency)

	for i, code := range codes {
		g.Go(func() error {
			series, err := s.compute(ctx, code, grid, metric, lang)
			if err != nil {
				return fmt.Errorf("series %s: %w", code, err)
			}
			out[i] = *series
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *AnalyticsService) compute(ctx context.Context, code string, grid []time.Time, metric Metric, lang string) (*Series, error) {
	label, err := s.label(ctx, code, lang)
	if err != nil {
		return nil, err
	}
	series := &Series{Code: code, Label: label, Values: make([]*float64, len(grid))}
	if len(grid) == 0 {
		return series, nil
	}

	from, to := grid[0], grid[len(grid)-1]
	if metric == MetricYoY {
		from = period.AddMonths(from, -yoyLookback)
	}
	rows, err := s.store.GetIndices(ctx, code, from, to)
	if err != nil {
		return nil, err
	}

	switch metric {
	case MetricMoM:
		series.Values = MoM(grid, rows)
	case MetricCumulative:
		series.Values = Cumulative(grid, rows)
	case MetricYoY:
		series.Values = YoY(grid, rows)
	}
	return series, nil
}

func (s *AnalyticsService) label(ctx context.Context, code, lang string) (string, error) {
	c, err := s.store.GetClassifier(ctx, code)
	if err != nil {
		return "", err
	}
	if c == nil {
		return code, nil
	}
	return classifier.Label(c, lang), nil
}

type KPI struct {
	Code                string  `json:"code"`
	Label               string  `json:"label"`
	CumulativePercent   float64 `json:"cumulative_percent"`
	LastMonthMoMPercent float64 `json:"last_month_mom_percent"`
}

type KPIResult struct {
	Start string `json:"start"`
	End   string `json:"end"`
	KPIs  []KPI  `json:"kpis"`
}

// KPI summarizes the headline codes: cumulative change over the range and
// the MoM of the last observed month in it. Both are 0 without data.
func (s *AnalyticsService) KPI(ctx context.Context, startToken, endToken, lang string) (*KPIResult, error) {
	start, end, err := parseRange(startToken, endToken)
	if err != nil {
		return nil, err
	}
	grid := period.Grid(start, end)

	cumulative, err := s.computeAll(ctx, s.headlineCodes, grid, MetricCumulative, lang)
	if err != nil {
		return nil, err
	}
	mom, err := s.computeAll(ctx, s.headlineCodes, grid, MetricMoM, lang)
	if err != nil {
		return nil, err
	}

	result := &KPIResult{
		Start: period.Format(start),
		End:   period.Format(end),
		KPIs:  make([]KPI, 0, len(s.headlineCodes)),
	}
	for i, code := range s.headlineCodes {
		result.KPIs = append(result.KPIs, KPI{
			Code:                code,
			Label:               cumulative[i].Label,
			CumulativePercent:   lastValue(cumulative[i].Values),
			LastMonthMoMPercent: lastValue(mom[i].Values),
		})
	}
	return result, nil
}

type TableQuery struct {
	Codes    []string
	Start    string
	End      string
	Metric   string
	Lang     string
	Page     int
	PageSize int
}

type TableRow struct {
	Code   string              `json:"code"`
	Label  string              `json:"label"`
	Values map[string]*float64 `json:"values"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type TableResult struct {
	Periods    []string   `json:"periods"`
	Rows       []TableRow `json:"rows"`
	Pagination Pagination `json:"pagination"`
}

// Table pages through q.Codes, or the whole catalog ordered by code when no
// codes are given, and computes the metric for the page.
func (s *AnalyticsService) Table(ctx context.Context, q TableQuery) (*TableResult, error) {
	metric, err := ParseMetric(q.Metric)
	if err != nil {
		return nil, err
	}
	start, end, err := parseRange(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	page, size := normalizePage(q.Page, q.PageSize)
	offset := (page - 1) * size

	var codes []string
	var total int
	if len(q.Codes) > 0 {
		total = len(q.Codes)
		if offset < total {
			codes = q.Codes[offset:min(offset+size, total)]
		}
	} else {
		total, err = s.store.CountClassifiers(ctx, models.ClassifierFilter{})
		if err != nil {
			return nil, fmt.Errorf("count classifiers: %w", err)
		}
		list, err := s.store.ListClassifiers(ctx, models.ClassifierFilter{Offset: offset, Limit: size})
		if err != nil {
			return nil, fmt.Errorf("list classifiers: %w", err)
		}
		for _, c := range list {
			codes = append(codes, c.Code)
		}
	}

	grid := period.Grid(start, end)
	series, err := s.computeAll(ctx, codes, grid, metric, q.Lang)
	if err != nil {
		return nil, err
	}

	periods := tokens(grid)
	rows := make([]TableRow, 0, len(series))
	for _, sr := range series {
		values := make(map[string]*float64, len(periods))
		for i, p := range periods {
			values[p] = sr.Values[i]
		}
		rows = append(rows, TableRow{Code: sr.Code, Label: sr.Label, Values: values})
	}

	return &TableResult{
		Periods:    periods,
		Rows:       rows,
		Pagination: newPagination(page, size, total),
	}, nil
}

func parseRange(startToken, endToken string) (time.Time, time.Time, error) {
	start, err := period.Parse(startToken)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := period.Parse(endToken)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, period.Format(start), period.Format(end))
	}
	return start, end, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	return page, min(size, MaxPageSize)
}

func newPagination(page, size, total int) Pagination {
	return Pagination{
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}
}

func tokens(grid []time.Time) []string {
	out := make([]string, len(grid))
	for i, p := range grid {
		out[i] = period.Format(p)
	}
	return out
}

func lastValue(values []*float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != nil {
			return *values[i]
		}
	}
	return 0
}
