package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpi_pulse/models"
	"cpi_pulse/period"
)

func month(t *testing.T, token string) time.Time {
	t.Helper()
	p, err := period.Parse(token)
	require.NoError(t, err)
	return p
}

func indices(t *testing.T, raw map[string]float64) []models.MonthlyIndex {
	t.Helper()
	var grid []time.Time
	for token := range raw {
		grid = append(grid, month(t, token))
	}
	// Sorted by period like the datastore returns them.
	first, last := grid[0], grid[0]
	for _, p := range grid {
		if p.Before(first) {
			first = p
		}
		if p.After(last) {
			last = p
		}
	}
	var rows []models.MonthlyIndex
	for _, p := range period.Grid(first, last) {
		if v, ok := raw[period.Format(p)]; ok {
			rows = append(rows, models.MonthlyIndex{ClassifierCode: "1", Period: p, IndexValue: v})
		}
	}
	return rows
}

func values(series []*float64) []any {
	out := make([]any, len(series))
	for i, v := range series {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

func TestMoM(t *testing.T) {
	grid := period.Grid(month(t, "2024-01"), month(t, "2024-03"))
	rows := indices(t, map[string]float64{"2024-01": 105, "2024-03": 99.554})
	assert.Equal(t, []any{5.0, nil, -0.45}, values(MoM(grid, rows)))
}

func TestCumulative(t *testing.T) {
	grid := period.Grid(month(t, "2024-01"), month(t, "2024-02"))
	rows := indices(t, map[string]float64{"2024-01": 101, "2024-02": 99})
	assert.Equal(t, []any{1.0, -0.01}, values(Cumulative(grid, rows)))
}

func TestCumulative_GapDoesNotBreakChain(t *testing.T) {
	grid := period.Grid(month(t, "2024-01"), month(t, "2024-03"))
	rows := indices(t, map[string]float64{"2024-01": 102, "2024-03": 103})
	// 1.02 * 1.03 = 1.0506
	assert.Equal(t, []any{2.0, nil, 5.06}, values(Cumulative(grid, rows)))
	assert.Equal(t, []any{2.0, nil, 3.0}, values(MoM(grid, rows)))
}

func TestYoY_AnchorLevelCancels(t *testing.T) {
	raw := map[string]float64{"2023-01": 110}
	for _, p := range period.Grid(month(t, "2023-02"), month(t, "2024-01")) {
		raw[period.Format(p)] = 100
	}
	grid := []time.Time{month(t, "2024-01")}
	assert.Equal(t, []any{0.0}, values(YoY(grid, indices(t, raw))))
}

func TestYoY_Compounds(t *testing.T) {
	raw := map[string]float64{}
	for _, p := range period.Grid(month(t, "2023-01"), month(t, "2024-02")) {
		raw[period.Format(p)] = 101
	}
	grid := period.Grid(month(t, "2024-01"), month(t, "2024-02"))
	// Twelve months of 1% compound to 12.68%.
	assert.Equal(t, []any{12.68, 12.68}, values(YoY(grid, indices(t, raw))))
}

func TestYoY_MissingAnchorIsNull(t *testing.T) {
	raw := map[string]float64{"2023-06": 100, "2024-01": 105, "2024-06": 103}
	grid := period.Grid(month(t, "2024-05"), month(t, "2024-06"))
	got := YoY(grid, indices(t, raw))
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, 8.15, *got[1])

	assert.Equal(t, []any{nil, nil}, values(YoY(grid, nil)))
}

func TestRound_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 0.13, Round(0.125))
	assert.Equal(t, -0.13, Round(-0.125))
	assert.Equal(t, 2.68, Round(2.675))
	assert.Equal(t, 0.0, Round(0.004))
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("YoY")
	require.NoError(t, err)
	assert.Equal(t, MetricYoY, m)

	_, err = ParseMetric("median")
	assert.ErrorIs(t, err, ErrInvalidMetric)
}
