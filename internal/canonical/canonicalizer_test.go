package canonical

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smallbiznis/royaltyledger/internal/amount"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/period"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(Params{
		Config:   config.Config{CanonicalRoot: t.TempDir()},
		Registry: vendor.NewRegistry(config.DefaultPolicy()),
		Log:      zap.NewNop(),
	})
}

func writeSource(t *testing.T, root, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

const zebralutionSample = "Period;Artist;Title;ISRC;Shop;Sales;Revenue-EUR;Rev.less Publ.EUR\n" +
	"2024-01;Artist A;Song One;DEABC2400001;Spotify;1.200;1.234,56;1.000,10\n" +
	"2024-02;Artist A;Song Two;DEABC2400002;Deezer;3;0,75;0,60\n"

func TestCanonicalize_SemicolonCommaDecimals(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	path := writeSource(t, root, "zebralution/2024-Q1/statement.csv", []byte(zebralutionSample))

	res, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root, Label: "Night Owl Records"})
	require.NoError(t, err)

	assert.Equal(t, vendor.Zebralution, res.Adapter.Name())
	assert.Equal(t, "2024-Q1", res.Period.Key())
	assert.Equal(t, vendor.StatementRoyalty, res.StatementType)
	assert.Equal(t, ';', res.Delimiter)
	assert.True(t, res.DecimalComma)
	assert.Equal(t, "UTF-8", res.Encoding)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "1234.56", res.Rows[0].Get("Revenue-EUR"))
	assert.Equal(t, "1200", res.Rows[0].Get("Sales"))
	assert.Equal(t, "2024-01", res.Rows[0].Get("Period"))

	lines := strings.Split(strings.TrimSuffix(string(res.Content), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Period,Artist,Title,ISRC,Shop,Sales,Revenue-EUR,Rev.less Publ.EUR", lines[0])
	assert.Equal(t, "2024-02,Artist A,Song Two,DEABC2400002,Deezer,3,0.75,0.60", lines[2])

	onDisk, err := os.ReadFile(res.CanonicalPath)
	require.NoError(t, err)
	assert.Equal(t, res.Content, onDisk)
	assert.Contains(t, res.CanonicalPath, filepath.Join("night-owl-records", "zebralution", "2024-Q1", "royalty"))
}

func TestCanonicalize_DecimalRoundTrip(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	path := writeSource(t, root, "zebralution/2024-Q1/statement.csv", []byte(zebralutionSample))

	res, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
	require.NoError(t, err)

	originals := []string{"1.234,56", "1.000,10", "0,75", "0,60"}
	canonical := []string{
		res.Rows[0].Get("Revenue-EUR"), res.Rows[0].Get("Rev.less Publ.EUR"),
		res.Rows[1].Get("Revenue-EUR"), res.Rows[1].Get("Rev.less Publ.EUR"),
	}
	for i := range originals {
		want, err := amount.Parse(originals[i])
		require.NoError(t, err)
		got, err := amount.Parse(canonical[i])
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "%s -> %s", originals[i], canonical[i])
	}
}

func TestCanonicalize_Rerun_IsByteIdentical(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	path := writeSource(t, root, "zebralution/2024-Q1/statement.csv", []byte(zebralutionSample))

	first, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root, Label: "x"})
	require.NoError(t, err)
	before, err := os.Stat(first.CanonicalPath)
	require.NoError(t, err)

	second, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root, Label: "x"})
	require.NoError(t, err)
	after, err := os.Stat(second.CanonicalPath)
	require.NoError(t, err)

	assert.Equal(t, first.CanonicalPath, second.CanonicalPath)
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestCanonicalize_Windows1252(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	text := "Store Name,Sale Type,Track Artist,Track Title,Qty,Royalty\n" +
		"Spotify,Track,Beyoncé Tribute Ensemble,Café Noir,2,0.50\n" +
		"Apple,Track,Zoë and the Señores,Façade,1,0.25\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	require.NoError(t, err)
	path := writeSource(t, root, "labelworx/2023-Q4/royalty report.csv", []byte(encoded))

	res, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
	require.NoError(t, err)

	assert.Equal(t, vendor.Labelworx, res.Adapter.Name())
	assert.NotEqual(t, "UTF-8", res.Encoding)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Café Noir", res.Rows[0].Get("Track Title"))
	assert.Equal(t, "Zoë and the Señores", res.Rows[1].Get("Track Artist"))
}

func TestCanonicalize_VendorFromHeader(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	content := "\nSales report,,\ndate,item type,item name,artist,quantity,amount you received,currency\n" +
		"2024-02-03 10:00:00,track,Song,Artist,1,\"1,000.50\",USD\n"
	path := writeSource(t, root, "inbox/export_20240101-20240331.csv", []byte(content))

	res, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
	require.NoError(t, err)

	assert.Equal(t, vendor.Bandcamp, res.Adapter.Name())
	assert.Equal(t, period.KindRange, res.Period.Kind)
	assert.Equal(t, vendor.StatementDirectSales, res.StatementType)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "1000.50", res.Rows[0].Get("amount you received"))
}

func TestCanonicalize_Errors(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()

	t.Run("period", func(t *testing.T) {
		path := writeSource(t, root, "zebralution/latest/statement.csv", []byte(zebralutionSample))
		_, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
		assert.ErrorIs(t, err, period.ErrUnparseable)
	})

	t.Run("unknown vendor", func(t *testing.T) {
		path := writeSource(t, root, "misc/2024-Q1/statement.csv", []byte("a,b,c\n1,2,3\n"))
		_, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
		assert.ErrorIs(t, err, ErrUnknownVendor)
	})

	t.Run("legacy workbook", func(t *testing.T) {
		path := writeSource(t, root, "labelworx/2024-Q1/statement.xls", []byte{0xD0, 0xCF, 0x11, 0xE0})
		_, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
		assert.ErrorIs(t, err, ErrUnsupportedSpreadsheet)
	})

	t.Run("binary", func(t *testing.T) {
		garbage := make([]byte, 4096)
		for i := range garbage {
			garbage[i] = byte(i % 32)
		}
		path := writeSource(t, root, "labelworx/2024-Q2/statement.csv", garbage)
		_, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("empty", func(t *testing.T) {
		path := writeSource(t, root, "labelworx/2024-Q3/statement.csv", []byte("  \n"))
		_, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
		assert.ErrorIs(t, err, ErrEmptyFile)
	})
}

func TestCanonicalize_WorkbookPicksDetailSheet(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	path := filepath.Join(root, "labelworx", "2024-Q1", "statement.xlsx")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Summary of account"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Total", "99.00"}))
	_, err := f.NewSheet("Sales Detail")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Sales Detail", "A1", &[]interface{}{"Store Name", "Sale Type", "Track Artist", "Track Title", "Royalty"}))
	require.NoError(t, f.SetSheetRow("Sales Detail", "A2", &[]interface{}{"Spotify", "Track", "Artist", "Song", "1,234.50"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	res, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
	require.NoError(t, err)

	assert.Equal(t, "Sales Detail", res.Sheet)
	assert.Equal(t, vendor.Labelworx, res.Adapter.Name())
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "1234.50", res.Rows[0].Get("Royalty"))
}

func TestWriteSidecar(t *testing.T) {
	svc := newTestService(t)
	root := t.TempDir()
	path := writeSource(t, root, "zebralution/2024-Q1/statement.csv", []byte(zebralutionSample))

	res, err := svc.Canonicalize(context.Background(), Request{Path: path, Root: root})
	require.NoError(t, err)
	require.NoError(t, svc.WriteSidecar(res, "42", ""))

	meta, err := ReadSidecar(SidecarPath(res.CanonicalPath))
	require.NoError(t, err)
	assert.Equal(t, "42", meta.SourceFileID)
	assert.Equal(t, res.SHA256, meta.SHA256)
	assert.Equal(t, ";", meta.Delimiter)
	assert.Equal(t, "2024-Q1", meta.Period)
	assert.Equal(t, "zebralution", meta.Vendor)
}

func TestScoreSheetName(t *testing.T) {
	assert.Greater(t, scoreSheetName("Royalty Report"), scoreSheetName("Sheet1"))
	assert.Less(t, scoreSheetName("Summary"), scoreSheetName("Sheet1"))
}
