package period

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Tokens(t *testing.T) {
	cases := map[string]string{
		"2024-01":  "2024-01",
		"2024-M01": "2024-01",
		"2024-m12": "2024-12",
		"2023-М07": "2023-07", // Cyrillic upper
		"2023-м03": "2023-03", // Cyrillic lower
	}
	for token, want := range cases {
		got, err := Parse(token)
		require.NoError(t, err, token)
		assert.Equal(t, want, Format(got), token)
		assert.Equal(t, 1, got.Day())
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, token := range []string{"", "2024", "2024-13", "2024-00", "24-01", "2024-X01", "2024-M1", "2024-01-01"} {
		_, err := Parse(token)
		assert.True(t, errors.Is(err, ErrInvalidPeriodFormat), token)
	}
}

func TestAddMonths_RoundTrip(t *testing.T) {
	base := time.Date(2020, time.November, 1, 0, 0, 0, 0, time.UTC)
	for n := -30; n <= 30; n++ {
		assert.Equal(t, base, AddMonths(AddMonths(base, n), -n), "n=%d", n)
	}
	assert.Equal(t, "2021-01", Format(AddMonths(base, 2)))
	assert.Equal(t, "2019-11", Format(AddMonths(base, -12)))
}

func TestAddMonths_NormalizesDay(t *testing.T) {
	d := time.Date(2024, time.January, 31, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), AddMonths(d, 1))
}

func TestGrid(t *testing.T) {
	start, _ := Parse("2023-11")
	end, _ := Parse("2024-02")

	grid := Grid(start, end)
	require.Len(t, grid, 4)
	assert.Equal(t, "2023-11", Format(grid[0]))
	assert.Equal(t, "2024-02", Format(grid[3]))

	assert.Len(t, Grid(start, start), 1)
	assert.Empty(t, Grid(end, start))
}

func TestIsColumn(t *testing.T) {
	assert.True(t, IsColumn("2024-M01"))
	assert.True(t, IsColumn("2024-М01"))
	assert.False(t, IsColumn("2024-01"))
	assert.False(t, IsColumn("Code"))
	assert.False(t, IsColumn("Klassifikator"))
}
