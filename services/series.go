package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cpi_pulse/models"
	"cpi_pulse/period"
)

var (
	ErrInvalidMetric = errors.New("invalid metric")
	ErrInvalidRange  = errors.New("start period is after end period")
)

type Metric string

const (
	MetricMoM        Metric = "mom"
	MetricYoY        Metric = "yoy"
	MetricCumulative Metric = "cumulative"
)

// yoyLookback is how far before the range YoY fetches raw values.
const yoyLookback = 12

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricMoM, MetricYoY, MetricCumulative:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
}

// observations indexes raw values by period token.
func observations(rows []models.MonthlyIndex) map[string]float64 {
	obs := make(map[string]float64, len(rows))
	for _, r := range rows {
		obs[period.Format(r.Period)] = r.IndexValue
	}
	return obs
}

// MoM is v-100 per month; months without a value are nil.
func MoM(grid []time.Time, rows []models.MonthlyIndex) []*float64 {
	obs := observations(rows)
	out := make([]*float64, len(grid))
	for i, p := range grid {
		if v, ok := obs[period.Format(p)]; ok {
			out[i] = percent(v - 100)
		}
	}
	return out
}

// Cumulative compounds v/100 from the start of the grid. A missing month is
// nil and leaves the running product untouched.
func Cumulative(grid []time.Time, rows []models.MonthlyIndex) []*float64 {
	obs := observations(rows)
	out := make([]*float64, len(grid))
	product := 1.0
	for i, p := range grid {
		v, ok := obs[period.Format(p)]
		if !ok {
			continue
		}
		product *= v / 100
		out[i] = percent(product*100 - 100)
	}
	return out
}

// YoY chains a price level over the observed months of rows, starting at
// the first observation, and compares each grid month with the month a
// year earlier. rows should cover the grid plus twelve months before it.
func YoY(grid []time.Time, rows []models.MonthlyIndex) []*float64 {
	out := make([]*float64, len(grid))
	if len(rows) == 0 {
		return out
	}

	levels := make(map[string]float64, len(rows))
	level := 0.0
	for i, r := range rows {
		if i == 0 {
			level = r.IndexValue / 100
		} else {
			level *= r.IndexValue / 100
		}
		levels[period.Format(r.Period)] = level
	}

	for i, p := range grid {
		cur, ok := levels[period.Format(p)]
		if !ok {
			continue
		}
		prev, ok := levels[period.Format(period.AddMonths(p, -yoyLookback))]
		if !ok || prev == 0 {
			continue
		}
		out[i] = percent(cur/prev*100 - 100)
	}
	return out
}

// Round rounds half away from zero to two decimal places.
func Round(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

func percent(x float64) *float64 {
	v := Round(x)
	return &v
}
