package canonical

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/period"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config   config.Config
	Registry *vendor.Registry
	Log      *zap.Logger
}

// Service turns vendor exports into canonical comma-delimited UTF-8 files
// with dot decimals.
type Service struct {
	root     string
	registry *vendor.Registry
	log      *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		root:     p.Config.CanonicalRoot,
		registry: p.Registry,
		log:      p.Log.Named("canonical"),
	}
}

type Request struct {
	Path string
	// Root is the intake directory; vendor names are matched against the
	// path below it.
	Root       string
	Label      string
	VendorHint vendor.Name
}

type Result struct {
	SourcePath    string
	CanonicalPath string
	Adapter       vendor.Adapter
	Period        period.Period
	StatementType vendor.StatementType

	Header *vendor.Header
	Rows   []vendor.Row

	Content   []byte
	SHA256    string
	RawSHA256 string
	Bytes     int64
	ModTime   time.Time

	Encoding        string
	Delimiter       rune
	DecimalComma    bool
	Sheet           string
	RewrittenFields int
}

func (s *Service) Canonicalize(ctx context.Context, req Request) (*Result, error) {
	p, err := period.FromPath(req.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyFile
	}

	hinted := s.hintedAdapter(req)
	preferred := vendor.Convention{Delimiter: ','}
	if hinted != nil {
		preferred = hinted.Convention()
	}

	res := &Result{
		SourcePath: req.Path,
		Period:     p,
		RawSHA256:  hashHex(raw),
		ModTime:    info.ModTime().UTC(),
	}

	var records [][]string
	ext := strings.ToLower(filepath.Ext(req.Path))
	switch {
	case ext == ".xls":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSpreadsheet, filepath.Base(req.Path))
	case isSpreadsheet(ext):
		sheet, rows, err := readWorkbook(req.Path)
		if err != nil {
			return nil, err
		}
		res.Sheet = sheet
		res.Encoding = "UTF-8"
		records = rows
	default:
		text, charset, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, filepath.Base(req.Path))
		}
		res.Encoding = charset
		res.Delimiter = detectDelimiter(text, preferred.Delimiter)
		records, err = parseDelimited(text, res.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	headerCells, data, ok := splitHeader(records)
	if !ok {
		return nil, ErrNoHeader
	}
	header := vendor.NewHeader(headerCells)

	adapter := hinted
	if adapter == nil {
		adapter, ok = s.registry.FromHeader(header)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, filepath.Base(req.Path))
		}
	}
	res.Adapter = adapter
	res.StatementType = adapter.StatementType(req.Path)

	data = trimTrailingBlank(data)
	res.DecimalComma = sniffDecimalComma(data, adapter.Convention().DecimalComma)
	res.RewrittenFields = normalizeDecimals(data, res.DecimalComma)

	content, err := encodeCanonical(header.Columns(), data)
	if err != nil {
		return nil, err
	}
	res.Content = content
	res.SHA256 = hashHex(content)
	res.Bytes = int64(len(content))
	res.Header = header

	res.Rows = make([]vendor.Row, 0, len(data))
	for i, record := range data {
		res.Rows = append(res.Rows, vendor.Row{Ordinal: i + 1, Header: header, Values: record})
	}

	res.CanonicalPath = s.canonicalPath(req, res)
	written, err := writeIfChanged(res.CanonicalPath, content)
	if err != nil {
		return nil, fmt.Errorf("write canonical file: %w", err)
	}

	s.log.Debug("canonicalized file",
		zap.String("file", req.Path),
		zap.String("vendor", string(adapter.Name())),
		zap.String("period", p.Key()),
		zap.String("encoding", res.Encoding),
		zap.Int("rows", len(res.Rows)),
		zap.Int("rewritten_fields", res.RewrittenFields),
		zap.Bool("written", written),
	)
	return res, nil
}

func (s *Service) hintedAdapter(req Request) vendor.Adapter {
	if req.VendorHint != "" {
		if a, ok := s.registry.Get(req.VendorHint); ok {
			return a
		}
	}
	rel := req.Path
	if req.Root != "" {
		if r, err := filepath.Rel(req.Root, req.Path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}
	if a, ok := s.registry.FromPath(rel); ok {
		return a
	}
	return nil
}

// canonicalPath is a pure function of the label, the file's identity and
// its raw content, so reruns land on the same file.
func (s *Service) canonicalPath(req Request, res *Result) string {
	base := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	name := fmt.Sprintf("%s-%s.csv", slug.Make(base), res.RawSHA256[:12])
	return filepath.Join(
		s.root,
		LabelSlug(req.Label),
		string(res.Adapter.Name()),
		res.Period.Key(),
		string(res.StatementType),
		name,
	)
}

// LabelSlug is the directory and lock key form of a label name.
func LabelSlug(label string) string {
	if out := slug.Make(label); out != "" {
		return out
	}
	return "default"
}

func writeIfChanged(path string, content []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".canonical-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, err
	}
	return true, nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
