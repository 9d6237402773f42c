package models

import "time"

// MonthlyIndex is one observed index value (100 = unchanged vs previous month)
// for a classifier in a calendar month. Period is always a UTC month start.
type MonthlyIndex struct {
	ClassifierCode string    `json:"classifier_code" db:"classifier_code"`
	Period         time.Time `json:"period" db:"period"`
	IndexValue     float64   `json:"index_value" db:"index_value"`
}

type IndexStats struct {
	MinPeriod *time.Time `json:"min_period"`
	MaxPeriod *time.Time `json:"max_period"`
	Count     int        `json:"count"`
}
