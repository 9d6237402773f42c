// Package period converts between month tokens ("2024-01", "2024-M01") and
// month-start dates. All dates produced here are the first day of a month at
// midnight UTC, so equal months compare equal with ==.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var ErrInvalidPeriodFormat = errors.New("invalid period format")

var (
	// Month marker is tolerant of Latin and Cyrillic "M" in either case.
	tokenRegex  = regexp.MustCompile(`^(\d{4})-[MmМм](\d{2})$`)
	isoRegex    = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	columnRegex = regexp.MustCompile(`^\d{4}-[MmМм]\d{2}$`)
)

// Parse accepts "YYYY-MM" or "YYYY-Mnn" and returns the month start.
func Parse(token string) (time.Time, error) {
	m := isoRegex.FindStringSubmatch(token)
	if m == nil {
		m = tokenRegex.FindStringSubmatch(token)
	}
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriodFormat, token)
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("%w: month out of range in %q", ErrInvalidPeriodFormat, token)
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
}

func Format(t time.Time) string {
	return t.Format("2006-01")
}

// MonthStart drops everything below the month, keeping the calendar month
// as seen in t's own location.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts t by n whole months (n may be negative).
func AddMonths(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

// Grid lists every month from start through end inclusive.
func Grid(start, end time.Time) []time.Time {
	start, end = MonthStart(start), MonthStart(end)
	var months []time.Time
	for cur := start; !cur.After(end); cur = AddMonths(cur, 1) {
		months = append(months, cur)
	}
	return months
}

// IsColumn reports whether a spreadsheet header names a month column
// (four digits, a month marker, two digits).
func IsColumn(header string) bool {
	return columnRegex.MatchString(header)
}
