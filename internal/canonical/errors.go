package canonical

import "errors"

var (
	ErrDecode                 = errors.New("decode_failed")
	ErrEmptyFile              = errors.New("empty_file")
	ErrNoHeader               = errors.New("header_not_found")
	ErrNoWorksheet            = errors.New("no_populated_worksheet")
	ErrUnsupportedSpreadsheet = errors.New("unsupported_spreadsheet")
	ErrUnknownVendor          = errors.New("unknown_vendor")
)
