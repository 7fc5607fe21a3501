package feed

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dealscope/pricetrack-cli/internal/model"
	"github.com/dealscope/pricetrack-cli/internal/store"
)

// Options configures a feed import.
type Options struct {
	Format     Format // empty = infer from the source's extension
	Charset    string // CSV only; IANA name, empty = UTF-8
	Delimiter  rune   // CSV only; default ','
	SheetName  string // XLSX only
	SheetIndex int    // XLSX only
	FTPTimeout time.Duration
}

// Result summarizes a completed import.
type Result struct {
	Rows     int   `json:"rows"`
	Skipped  int   `json:"skipped"`
	Upserted int64 `json:"upserted"`
}

// Importer loads product feeds into the store.
type Importer struct {
	store store.Store
	http  *http.Client
}

// NewImporter creates an Importer. httpClient may be nil, in which case a
// default client with a 60s timeout is used for HTTP sources.
func NewImporter(st store.Store, httpClient *http.Client) *Importer {
	return &Importer{store: st, http: httpClient}
}

// Import reads the feed at source (local path, http(s) URL, or ftp URL),
// parses it, and upserts the products. Rows that cannot be parsed are
// skipped with a warning; a feed whose header cannot be mapped fails whole.
func (i *Importer) Import(ctx context.Context, source string, opts Options) (*Result, error) {
	format := opts.Format
	if format == "" {
		var err error
		if format, err = DetectFormat(source); err != nil {
			return nil, err
		}
	}

	rc, err := Open(ctx, source, i.http, opts.FTPTimeout)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var products []model.Product
	var skipped int

	switch format {
	case FormatCSV:
		products, skipped, err = i.parseCSV(ctx, rc, opts)
	case FormatXLSX:
		products, skipped, err = i.parseXLSX(rc, opts)
	default:
		return nil, eris.Errorf("feed: unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Rows: len(products) + skipped, Skipped: skipped}
	if len(products) == 0 {
		zap.L().Warn("feed: no importable rows", zap.String("source", source))
		return res, nil
	}

	upserted, err := i.store.UpsertProducts(ctx, products)
	if err != nil {
		return nil, eris.Wrap(err, "feed: upsert products")
	}
	res.Upserted = upserted

	zap.L().Info("feed: import finished",
		zap.String("source", source),
		zap.String("format", string(format)),
		zap.Int("rows", res.Rows),
		zap.Int("skipped", res.Skipped),
		zap.Int64("upserted", res.Upserted),
	)
	return res, nil
}

func (i *Importer) parseCSV(ctx context.Context, r io.Reader, opts Options) ([]model.Product, int, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{
		Delimiter: opts.Delimiter,
		Charset:   opts.Charset,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var cm *columnMap
	var products []model.Product
	var skipped int

	for row := range rowCh {
		if cm == nil {
			header, ok := <-headerCh
			if !ok {
				return nil, 0, eris.New("feed: csv has no header row")
			}
			var err error
			if cm, err = mapHeader(header); err != nil {
				return nil, 0, err
			}
		}

		p, err := cm.product(row)
		if err != nil {
			skipped++
			zap.L().Warn("feed: skipping row", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	if err := <-errCh; err != nil {
		return nil, 0, err
	}

	// Header-only feeds never consumed from headerCh above.
	if cm == nil {
		select {
		case header := <-headerCh:
			if _, err := mapHeader(header); err != nil {
				return nil, 0, err
			}
		default:
		}
	}

	return products, skipped, nil
}

func (i *Importer) parseXLSX(r io.Reader, opts Options) ([]model.Product, int, error) {
	header, rows, err := ReadXLSX(r, XLSXOptions{SheetIndex: opts.SheetIndex, SheetName: opts.SheetName})
	if err != nil {
		return nil, 0, err
	}
	if len(header) == 0 {
		return nil, 0, eris.New("feed: xlsx has no header row")
	}

	cm, err := mapHeader(header)
	if err != nil {
		return nil, 0, err
	}

	var products []model.Product
	var skipped int
	for _, row := range rows {
		p, err := cm.product(row)
		if err != nil {
			skipped++
			zap.L().Warn("feed: skipping row", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	return products, skipped, nil
}
