package filing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a monthly ("2026-03") or quarterly ("2026-Q1") filing period
type Period struct {
	Year    int
	Month   int // 1-12 for monthly periods, 0 otherwise
	Quarter int // 1-4 for quarterly periods, 0 otherwise
	Start   time.Time
	End     time.Time // exclusive
}

// ParsePeriod parses a period key
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	year, rest, ok := strings.Cut(s, "-")
	if !ok || len(year) != 4 {
		return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM or YYYY-Qn", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period year %q", year)
	}

	if q, found := strings.CutPrefix(rest, "Q"); found {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 4 {
			return Period{}, fmt.Errorf("invalid quarter in period %q", s)
		}
		start := time.Date(y, time.Month((n-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return Period{Year: y, Quarter: n, Start: start, End: start.AddDate(0, 3, 0)}, nil
	}

	m, err := strconv.Atoi(rest)
	if err != nil || m < 1 || m > 12 {
		return Period{}, fmt.Errorf("invalid month in period %q", s)
	}
	start := time.Date(y, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: y, Month: m, Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// String returns the canonical key
func (p Period) String() string {
	if p.Quarter > 0 {
		return fmt.Sprintf("%04d-Q%d", p.Year, p.Quarter)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// LastDay is the inclusive end of the period
func (p Period) LastDay() time.Time {
	return p.End.AddDate(0, 0, -1)
}
