package period

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrUnparseable = errors.New("period_unparseable")

type Kind string

const (
	KindQuarter Kind = "quarter"
	KindRange   Kind = "range"
)

// Period is a reporting window. End is exclusive.
type Period struct {
	Kind    Kind
	Year    int
	Quarter int
	Start   time.Time
	End     time.Time
}

func Quarter(year, quarter int) (Period, error) {
	if quarter < 1 || quarter > 4 {
		return Period{}, fmt.Errorf("quarter %d out of range", quarter)
	}
	if year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("year %d out of range", year)
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Kind:    KindQuarter,
		Year:    year,
		Quarter: quarter,
		Start:   start,
		End:     start.AddDate(0, 3, 0),
	}, nil
}

// Range builds an explicit date-range period from inclusive calendar days.
func Range(first, last time.Time) (Period, error) {
	first = truncateDay(first)
	last = truncateDay(last)
	if last.Before(first) {
		return Period{}, fmt.Errorf("range end %s before start %s", last.Format(time.DateOnly), first.Format(time.DateOnly))
	}
	return Period{
		Kind:  KindRange,
		Year:  first.Year(),
		Start: first,
		End:   last.AddDate(0, 0, 1),
	}, nil
}

func (p Period) IsZero() bool { return p.Start.IsZero() }

// Key is the stable identifier used to group statements of one period.
func (p Period) Key() string {
	switch p.Kind {
	case KindQuarter:
		return fmt.Sprintf("%04d-Q%d", p.Year, p.Quarter)
	case KindRange:
		return p.Start.Format("20060102") + "-" + p.End.AddDate(0, 0, -1).Format("20060102")
	default:
		return ""
	}
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string { return p.Key() }

var (
	yearQuarterRe = regexp.MustCompile(`(?i)(20\d{2})[-_\s]?Q\s*([1-4])`)
	quarterYearRe = regexp.MustCompile(`(?i)Q\s*([1-4])[-_\s]?(20\d{2})`)
	dateRangeRe   = regexp.MustCompile(`((?:19|20)\d{2})(\d{2})(\d{2})\s*[-_]\s*((?:19|20)\d{2})(\d{2})(\d{2})`)
)

// FromPath infers the reporting period from a file name, falling back to
// the enclosing directories from the innermost outwards.
func FromPath(path string) (Period, error) {
	clean := filepath.Clean(path)
	segments := []string{filepath.Base(clean)}
	for dir := filepath.Dir(clean); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		segments = append(segments, filepath.Base(dir))
		if filepath.Dir(dir) == dir {
			break
		}
	}

	for _, segment := range segments {
		if p, ok := parseSegment(segment); ok {
			return p, nil
		}
	}
	return Period{}, fmt.Errorf("%w: %s", ErrUnparseable, filepath.Base(clean))
}

func parseSegment(segment string) (Period, bool) {
	if m := yearQuarterRe.FindStringSubmatch(segment); m != nil {
		year, _ := strconv.Atoi(m[1])
		quarter, _ := strconv.Atoi(m[2])
		if p, err := Quarter(year, quarter); err == nil {
			return p, true
		}
	}
	if m := quarterYearRe.FindStringSubmatch(segment); m != nil {
		quarter, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		if p, err := Quarter(year, quarter); err == nil {
			return p, true
		}
	}
	if m := dateRangeRe.FindStringSubmatch(segment); m != nil {
		first, err1 := time.Parse("20060102", m[1]+m[2]+m[3])
		last, err2 := time.Parse("20060102", m[4]+m[5]+m[6])
		if err1 == nil && err2 == nil {
			if p, err := Range(first, last); err == nil {
				return p, true
			}
		}
	}
	return Period{}, false
}

// ParseQuarterKey parses the "YYYY-Qn" form used on the command line.
func ParseQuarterKey(raw string) (Period, error) {
	if m := yearQuarterRe.FindStringSubmatch(strings.TrimSpace(raw)); m != nil {
		year, _ := strconv.Atoi(m[1])
		quarter, _ := strconv.Atoi(m[2])
		return Quarter(year, quarter)
	}
	return Period{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
