package service

import (
	"io/fs"
	"path/filepath"
	"strings"
)

var statementExtensions = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".txt":  true,
	".xlsx": true,
	".xlsm": true,
	".xltx": true,
	".xltm": true,
	".xls":  true,
}

// discover lists statement files below root in lexical order. Hidden
// entries, spreadsheet lock files and the canonical output tree are skipped.
func discover(root, canonicalRoot string) ([]string, error) {
	skip := ""
	if canonicalRoot != "" {
		if abs, err := filepath.Abs(canonicalRoot); err == nil {
			skip = abs
		}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if skip != "" {
				if abs, err := filepath.Abs(path); err == nil && abs == skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			return nil
		}
		if statementExtensions[strings.ToLower(filepath.Ext(name))] {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
