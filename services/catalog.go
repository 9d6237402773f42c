package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cpi_pulse/classifier"
	"cpi_pulse/models"
)

// CatalogService serves the classifier list and dataset metadata.
type CatalogService struct {
	store Store
}

func NewCatalogService(store Store) *CatalogService {
	return &CatalogService{store: store}
}

type ClassifierQuery struct {
	Lang     string
	Search   string
	Page     int
	PageSize int
}

type ClassifierItem struct {
	Code       string  `json:"code"`
	Label      string  `json:"label"`
	ParentCode *string `json:"parent_code"`
}

type ClassifierPage struct {
	Items      []ClassifierItem `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

func (s *CatalogService) Classifiers(ctx context.Context, q ClassifierQuery) (*ClassifierPage, error) {
	page, size := normalizePage(q.Page, q.PageSize)
	filter := models.ClassifierFilter{
		Search: strings.TrimSpace(q.Search),
		Offset: (page - 1) * size,
		Limit:  size,
	}

	total, err := s.store.CountClassifiers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count classifiers: %w", err)
	}
	list, err := s.store.ListClassifiers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list classifiers: %w", err)
	}

	items := make([]ClassifierItem, 0, len(list))
	for i := range list {
		c := &list[i]
		items = append(items, ClassifierItem{
			Code:       c.Code,
			Label:      classifier.Label(c, q.Lang),
			ParentCode: c.ParentCode,
		})
	}

	return &ClassifierPage{
		Items:      items,
		Pagination: newPagination(page, size, total),
	}, nil
}

type Meta struct {
	OK               bool       `json:"ok"`
	FetchedAt        *time.Time `json:"fetchedAt"`
	RowsLoaded       int        `json:"rowsLoaded"`
	ClassifiersCount int        `json:"classifiersCount"`
	PeriodsMin       *string    `json:"periodsMin"`
	PeriodsMax       *string    `json:"periodsMax"`
	TotalIndices     int        `json:"totalIndices"`
}

// Meta describes the loaded dataset. Fields are zero or null before the
// first successful ingestion.
func (s *CatalogService) Meta(ctx context.Context) (*Meta, error) {
	meta := &Meta{OK: true}

	run, err := s.store.LatestSuccessfulRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	if run != nil {
		fetched := run.FetchedAt
		meta.FetchedAt = &fetched
		meta.RowsLoaded = run.RowsLoaded
	}

	meta.ClassifiersCount, err = s.store.CountClassifiers(ctx, models.ClassifierFilter{})
	if err != nil {
		return nil, fmt.Errorf("count classifiers: %w", err)
	}

	stats, err := s.store.IndexStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	meta.TotalIndices = stats.Count
	meta.PeriodsMin = dateString(stats.MinPeriod)
	meta.PeriodsMax = dateString(stats.MaxPeriod)
	return meta, nil
}

func dateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
