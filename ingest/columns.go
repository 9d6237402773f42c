package ingest

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	"cpi_pulse/period"
)

const (
	colCode    = "code"
	colNameUz  = "klassifikator"
	colNameRu  = "klassifikator_ru"
	colNameEn  = "klassifikator_en"
	colNameUzc = "klassifikator_uzc"
)

type monthColumn struct {
	Header string
	Period time.Time
}

// monthColumns keeps the headers that are period tokens, in sheet order.
func monthColumns(headers []string) []monthColumn {
	var cols []monthColumn
	for _, h := range headers {
		if !period.IsColumn(h) {
			continue
		}
		p, err := period.Parse(h)
		if err != nil {
			continue
		}
		cols = append(cols, monthColumn{Header: h, Period: p})
	}
	return cols
}

// normalizeKeys lowercases record keys so fixed columns are found
// regardless of header case.
func normalizeKeys(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func cellName(v any) *string {
	s := cellString(v)
	if s == "" {
		return nil
	}
	return &s
}

// cellFloat reads an index value. Strings may use a decimal comma.
func cellFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		v = strings.ReplaceAll(s, ",", ".")
	}

	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
