package canonical

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	preferredSheetWords = []string{"sales", "royalty", "royalties", "report", "detail", "statement", "transactions"}
	avoidedSheetWords   = []string{"overview", "summary", "cover", "info"}
)

type sheetCandidate struct {
	name  string
	score int
	rows  [][]string
	cols  int
}

func scoreSheetName(name string) int {
	lower := strings.ToLower(name)
	score := 0
	for _, word := range preferredSheetWords {
		if strings.Contains(lower, word) {
			score += 10
		}
	}
	for _, word := range avoidedSheetWords {
		if strings.Contains(lower, word) {
			score -= 5
		}
	}
	return score
}

// better ranks by name score, then populated rows, then width.
func (c sheetCandidate) better(other sheetCandidate) bool {
	if c.score != other.score {
		return c.score > other.score
	}
	if len(c.rows) != len(other.rows) {
		return len(c.rows) > len(other.rows)
	}
	return c.cols > other.cols
}

// readWorkbook picks the worksheet that most resembles a detail sheet and
// returns its cells as text.
func readWorkbook(path string) (string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	var best *sheetCandidate
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		rows = trimTrailingBlank(rows)
		if len(rows) == 0 {
			continue
		}
		candidate := sheetCandidate{name: name, score: scoreSheetName(name), rows: rows}
		for _, row := range rows {
			if len(row) > candidate.cols {
				candidate.cols = len(row)
			}
		}
		if best == nil || candidate.better(*best) {
			c := candidate
			best = &c
		}
	}
	if best == nil {
		return "", nil, ErrNoWorksheet
	}
	return best.name, best.rows, nil
}

func trimTrailingBlank(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && isBlankRecord(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func isSpreadsheet(ext string) bool {
	switch strings.ToLower(ext) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	default:
		return false
	}
}
