package feed

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/dealscope/pricetrack-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

const sampleCSV = `Name,URL,Brand,Variant,Price,Currency
Widget Pro,https://shop.example.com/widget-pro,Acme,black,"$1,299.99",USD
Widget Mini,https://shop.example.com/widget-mini,Acme,,49.50,USD
,https://shop.example.com/nameless,Acme,,10.00,USD
Widget Bad Price,https://shop.example.com/widget-bad,Acme,,not-a-price,USD
`

func TestImport_CSVFile(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "catalog.csv", []byte(sampleCSV))

	res, err := NewImporter(s, nil).Import(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, int64(2), res.Upserted)

	products, err := s.ListProducts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, products, 2)

	byName := map[string]float64{}
	for _, p := range products {
		byName[p.Name] = p.CurrentPrice
		assert.Equal(t, "Acme", p.Manufacturer)
		assert.NotEmpty(t, p.ID)
	}
	assert.Equal(t, 1299.99, byName["Widget Pro"])
	assert.Equal(t, 49.50, byName["Widget Mini"])
}

func TestImport_CSVCharset(t *testing.T) {
	s := newTestStore(t)

	// "Café Grinder" in ISO-8859-1: é is a single 0xE9 byte.
	raw := []byte("name,url\nCaf\xe9 Grinder,https://shop.example.com/grinder\n")
	path := writeTempFile(t, "latin1.csv", raw)

	res, err := NewImporter(s, nil).Import(context.Background(), path, Options{Charset: "iso-8859-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)

	products, err := s.ListProducts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Café Grinder", products[0].Name)
}

func TestImport_CSVMissingRequiredColumns(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "bad.csv", []byte("sku,price\nX1,10.00\n"))

	_, err := NewImporter(s, nil).Import(context.Background(), path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required name/url")
}

func TestImport_XLSXFile(t *testing.T) {
	s := newTestStore(t)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("products")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"Product Name", "Link", "Manufacturer", "Price"},
		{"Desk Lamp", "https://shop.example.com/lamp", "Lumen", "39.95"},
		{"Desk Lamp XL", "https://shop.example.com/lamp-xl", "Lumen", "59.95"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	path := writeTempFile(t, "catalog.xlsx", buf.Bytes())

	res, err := NewImporter(s, nil).Import(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, int64(2), res.Upserted)
}

func TestImport_HTTPSource(t *testing.T) {
	s := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name,url,price\nRemote Widget,https://shop.example.com/remote,5.00\n"))
	}))
	defer srv.Close()

	res, err := NewImporter(s, srv.Client()).Import(context.Background(), srv.URL+"/catalog.csv", Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)
}

func TestImport_HTTPNotFound(t *testing.T) {
	s := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewImporter(s, srv.Client()).Import(context.Background(), srv.URL+"/missing.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestImport_ReimportPreservesCanonicalPrice(t *testing.T) {
	s := newTestStore(t)
	path := writeTempFile(t, "catalog.csv", []byte("name,url,price\nWidget,https://shop.example.com/w,100.00\n"))

	imp := NewImporter(s, nil)
	_, err := imp.Import(context.Background(), path, Options{})
	require.NoError(t, err)

	products, err := s.ListProducts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, products, 1)

	// The feed says the price dropped, but only the review workflow may
	// change the canonical price.
	path2 := writeTempFile(t, "catalog2.csv", []byte("name,url,price\nWidget Renamed,https://shop.example.com/w,80.00\n"))
	_, err = imp.Import(context.Background(), path2, Options{})
	require.NoError(t, err)

	products, err = s.ListProducts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Widget Renamed", products[0].Name)
	assert.Equal(t, 100.00, products[0].CurrentPrice)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		source  string
		want    Format
		wantErr bool
	}{
		{"catalog.csv", FormatCSV, false},
		{"catalog.CSV", FormatCSV, false},
		{"feed.txt", FormatCSV, false},
		{"catalog.xlsx", FormatXLSX, false},
		{"https://example.com/path/feed.xlsx?token=abc", FormatXLSX, false},
		{"ftp://example.com/pub/catalog.csv", FormatCSV, false},
		{"catalog.pdf", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.source)
		if tt.wantErr {
			assert.Error(t, err, tt.source)
			continue
		}
		require.NoError(t, err, tt.source)
		assert.Equal(t, tt.want, got, tt.source)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"19.99", 19.99, false},
		{"$1,299.99", 1299.99, false},
		{"1 299,99 EUR", 1299.99, false},
		{"0", 0, false},
		{"free", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePrice(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestMapHeader_Aliases(t *testing.T) {
	cm, err := mapHeader([]string{"SKU", "Product Name", "Link", "Brand", "List Price"})
	require.NoError(t, err)
	assert.Equal(t, 0, cm.id)
	assert.Equal(t, 1, cm.name)
	assert.Equal(t, 2, cm.url)
	assert.Equal(t, 3, cm.manufacturer)
	assert.Equal(t, 4, cm.price)
	assert.Equal(t, -1, cm.variant)
}
