package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Date range for audit trail queries
// =============================================================================

// Period is an inclusive time range [From, To]. A zero bound is open.
type Period struct {
	From time.Time
	To   time.Time
}

// Unbounded covers every entry.
func Unbounded() Period { return Period{} }

// Contains returns true if t is within [From, To].
func (p Period) Contains(t time.Time) bool {
	return !p.IsBefore(t) && (p.To.IsZero() || !t.After(p.To))
}

// IsBefore reports whether t falls before the start of the period.
func (p Period) IsBefore(t time.Time) bool {
	return !p.From.IsZero() && t.Before(p.From)
}

func (p Period) Validate() error {
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return invalid("to", "", "end before start")
	}
	return nil
}

func (p Period) String() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(time.RFC3339)
	}
	return "[" + format(p.From) + ", " + format(p.To) + "]"
}

// ParsePeriod reads query-string bounds. Each bound is either RFC3339 or a
// plain date (2006-01-02); a plain-date upper bound covers the whole day.
func ParsePeriod(from, to string) (Period, error) {
	var p Period
	var err error
	if from != "" {
		if p.From, err = parseBound(from, false); err != nil {
			return Period{}, invalid("from", "", err.Error())
		}
	}
	if to != "" {
		if p.To, err = parseBound(to, true); err != nil {
			return Period{}, invalid("to", "", err.Error())
		}
	}
	return p, p.Validate()
}

func parseBound(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("use YYYY-MM-DD or RFC3339, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
