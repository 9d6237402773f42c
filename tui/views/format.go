package views

import (
	"fmt"
	"strings"
	"time"
)

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// progressBar renders pct (0-100) as a fixed-width bar.
func progressBar(pct, width int) string {
	pct = min(max(pct, 0), 100)
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatSeconds(s int) string {
	if s <= 0 {
		return "0s"
	}
	return (time.Duration(s) * time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// momPercent is the month-over-month change for a base-100 index.
func momPercent(v float64) string {
	return fmt.Sprintf("%+.2f", v-100)
}
