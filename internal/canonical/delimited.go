package canonical

import (
	"bytes"
	"encoding/csv"
	"regexp"
	"strings"

	"github.com/smallbiznis/royaltyledger/internal/amount"
)

var candidateDelimiters = []rune{';', ',', '\t', '|'}

// detectDelimiter counts candidate separators outside quotes on the first
// non-empty line. Ties go to the vendor's usual delimiter.
func detectDelimiter(text string, preferred rune) rune {
	line := ""
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, d := range candidateDelimiters {
			if r == d {
				counts[d]++
			}
		}
	}

	best, bestCount := rune(0), 0
	for _, d := range candidateDelimiters {
		switch {
		case counts[d] > bestCount:
			best, bestCount = d, counts[d]
		case counts[d] == bestCount && bestCount > 0 && d == preferred:
			best = d
		}
	}
	if best == 0 {
		if preferred != 0 {
			return preferred
		}
		return ','
	}
	return best
}

func parseDelimited(text string, delimiter rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

var (
	commaDecimalRe = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})*,\d{1,6}$`)
	dotDecimalRe   = regexp.MustCompile(`^-?\d{1,3}(,\d{3})*\.\d{1,6}$|^-?\d+\.\d{1,6}$`)
)

// sniffDecimalComma votes over the data cells. Vendor convention breaks a tie
// or decides when no cell carries a fractional part.
func sniffDecimalComma(records [][]string, preferred bool) bool {
	comma, dot := 0, 0
	for _, record := range records {
		for _, cell := range record {
			cell = strings.TrimSpace(cell)
			switch {
			case commaDecimalRe.MatchString(cell):
				comma++
			case dotDecimalRe.MatchString(cell):
				dot++
			}
		}
	}
	switch {
	case comma > dot:
		return true
	case dot > comma:
		return false
	default:
		return preferred
	}
}

// normalizeDecimals rewrites numeric cells in place and returns how many
// changed.
func normalizeDecimals(records [][]string, commaDecimal bool) int {
	changed := 0
	for _, record := range records {
		for i, cell := range record {
			if out, ok := amount.Canonicalize(cell, commaDecimal); ok {
				record[i] = out
				changed++
			}
		}
	}
	return changed
}

// encodeCanonical renders records as comma-delimited UTF-8 with LF endings.
// Short records are padded to the header width.
func encodeCanonical(header []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ','
	w.UseCRLF = false

	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, record := range records {
		if len(record) < len(header) {
			padded := make([]string, len(header))
			copy(padded, record)
			record = padded
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// splitHeader skips leading title and blank lines: the header is the first
// record with at least two populated cells.
func splitHeader(records [][]string) ([]string, [][]string, bool) {
	for i, record := range records {
		populated := 0
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				populated++
			}
		}
		if populated >= 2 {
			return record, records[i+1:], true
		}
	}
	return nil, nil, false
}
