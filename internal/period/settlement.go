package period

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Settlement is a row-level settlement time. Granular is true when the source
// only named a month or quarter and Time is the first day of that span.
type Settlement struct {
	Time     time.Time
	Granular bool
}

var (
	yearMonthRe    = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})$`)
	compactMonthRe = regexp.MustCompile(`^(\d{4})(\d{2})$`)
	monthYearRe    = regexp.MustCompile(`^(\d{1,2})[-/.](\d{4})$`)
)

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"1/2/06 3:04pm",
	"1/2/2006 3:04pm",
	"1/2/2006 15:04",
}

var dayLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"1/2/2006",
	"1/2/06",
}

// ParseSettlement accepts the day, month and quarter notations found in
// statements.
func ParseSettlement(raw string) (Settlement, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Settlement{}, false
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return Settlement{Time: t.UTC()}, true
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return Settlement{Time: t.UTC()}, true
		}
	}

	head := value
	if idx := strings.IndexAny(head, " T"); idx > 0 {
		head = head[:idx]
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, head); err == nil {
			return Settlement{Time: t.UTC()}, true
		}
	}

	if m := yearMonthRe.FindStringSubmatch(value); m != nil {
		return monthStart(m[1], m[2])
	}
	if m := compactMonthRe.FindStringSubmatch(value); m != nil {
		return monthStart(m[1], m[2])
	}
	if m := monthYearRe.FindStringSubmatch(value); m != nil {
		return monthStart(m[2], m[1])
	}
	if p, ok := parseSegment(value); ok && p.Kind == KindQuarter {
		return Settlement{Time: p.Start, Granular: true}, true
	}
	return Settlement{}, false
}

func monthStart(yearRaw, monthRaw string) (Settlement, bool) {
	year, err := strconv.Atoi(yearRaw)
	if err != nil || year < 1900 {
		return Settlement{}, false
	}
	month, err := strconv.Atoi(monthRaw)
	if err != nil || month < 1 || month > 12 {
		return Settlement{}, false
	}
	return Settlement{
		Time:     time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC),
		Granular: true,
	}, true
}
