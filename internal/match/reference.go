package match

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/fetcher"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// ErrNoReference means the PO table is missing or has no rows.
var ErrNoReference = eris.New("match: no PO data available")

// Reference supplies the approved purchase-order table.
type Reference interface {
	PurchaseOrders(ctx context.Context) ([]model.PurchaseOrder, error)
}

// TableConfig locates the PO table and its columns.
type TableConfig struct {
	Source       string // file path, http(s):// or ftp:// URL
	Sheet        string // xlsx only
	VendorColumn string
	POColumn     string
	TTL          time.Duration // 0 reloads on every call
}

// TableConfigFrom builds a TableConfig from the application config.
func TableConfigFrom(cfg *config.Config) TableConfig {
	return TableConfig{
		Source:       cfg.Matching.Reference,
		Sheet:        cfg.Matching.Sheet,
		VendorColumn: cfg.Matching.VendorColumn,
		POColumn:     cfg.Matching.POColumn,
		TTL:          time.Duration(cfg.Matching.CacheTTLSecs) * time.Second,
	}
}

// TableReference loads the PO table from a CSV or XLSX file, locally or
// over HTTP or FTP, and caches it for the configured TTL. A failed refresh
// keeps serving the previous table.
type TableReference struct {
	cfg  TableConfig
	http fetcher.ConditionalFetcher
	ftp  fetcher.Fetcher
	now  func() time.Time
	log  *zap.Logger

	mu       sync.Mutex
	rows     []model.PurchaseOrder
	loadedAt time.Time
	etag     string
}

// NewTableReference creates a TableReference. Nil fetchers get defaults.
func NewTableReference(cfg TableConfig, httpFetcher fetcher.ConditionalFetcher, ftpFetcher fetcher.Fetcher) *TableReference {
	if cfg.VendorColumn == "" {
		cfg.VendorColumn = "Vendor Name"
	}
	if cfg.POColumn == "" {
		cfg.POColumn = "Approved PO List"
	}
	if httpFetcher == nil {
		httpFetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	}
	if ftpFetcher == nil {
		ftpFetcher = fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	}
	return &TableReference{
		cfg:  cfg,
		http: httpFetcher,
		ftp:  ftpFetcher,
		now:  time.Now,
		log:  zap.L().With(zap.String("component", "match.reference"), zap.String("source", cfg.Source)),
	}
}

// PurchaseOrders returns the cached table, reloading it once the TTL has
// passed.
func (r *TableReference) PurchaseOrders(ctx context.Context) ([]model.PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rows != nil && r.cfg.TTL > 0 && r.now().Sub(r.loadedAt) < r.cfg.TTL {
		return r.cached()
	}

	rows, err := r.load(ctx)
	if err != nil {
		if r.rows != nil && ctx.Err() == nil {
			r.log.Warn("match: reference refresh failed, serving cached table", zap.Error(err))
			r.loadedAt = r.now()
			return r.cached()
		}
		return nil, err
	}
	if rows != nil {
		r.rows = rows
	}
	r.loadedAt = r.now()
	return r.cached()
}

func (r *TableReference) cached() ([]model.PurchaseOrder, error) {
	if len(r.rows) == 0 {
		return nil, ErrNoReference
	}
	return r.rows, nil
}

// load returns nil rows when an HTTP source reports it is unchanged.
func (r *TableReference) load(ctx context.Context) ([]model.PurchaseOrder, error) {
	start := time.Now()
	src := r.cfg.Source
	if strings.TrimSpace(src) == "" {
		return nil, ErrNoReference
	}

	var table [][]string
	var err error
	switch {
	case fetcher.IsRemote(src):
		var data []byte
		data, err = r.download(ctx, src)
		if err != nil {
			return nil, err
		}
		if data == nil {
			r.log.Debug("match: reference unchanged")
			return nil, nil
		}
		table, err = r.parse(remoteExt(src), data)
	default:
		table, err = r.readLocal(src)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.toPurchaseOrders(table)
	if err != nil {
		return nil, err
	}
	r.log.Info("match: reference loaded",
		zap.Int("rows", len(rows)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return rows, nil
}

func (r *TableReference) download(ctx context.Context, src string) ([]byte, error) {
	var body io.ReadCloser
	if strings.HasPrefix(strings.ToLower(src), "ftp://") {
		rc, err := r.ftp.Download(ctx, src)
		if err != nil {
			return nil, err
		}
		body = rc
	} else {
		etag := ""
		if r.rows != nil {
			etag = r.etag
		}
		rc, newETag, changed, err := r.http.DownloadIfChanged(ctx, src, etag)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
		r.etag = newETag
		body = rc
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "match: read reference body"), 0)
	}
	return data, nil
}

func (r *TableReference) readLocal(path string) ([][]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNoReference, "match: %s not found", path)
		}
		return nil, eris.Wrapf(err, "match: stat %s", path)
	}
	if isXLSX(path) {
		return fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: r.cfg.Sheet})
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "match: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return fetcher.ReadCSV(f, fetcher.CSVOptions{})
}

func (r *TableReference) parse(ext string, data []byte) ([][]string, error) {
	if isXLSX(ext) {
		return fetcher.ReadXLSXBytes(data, fetcher.XLSXOptions{SheetName: r.cfg.Sheet})
	}
	return fetcher.ReadCSV(bytes.NewReader(data), fetcher.CSVOptions{})
}

func (r *TableReference) toPurchaseOrders(table [][]string) ([]model.PurchaseOrder, error) {
	if len(table) == 0 {
		return nil, ErrNoReference
	}
	vendorIdx, poIdx := -1, -1
	for i, h := range table[0] {
		switch {
		case strings.EqualFold(strings.TrimSpace(h), r.cfg.VendorColumn):
			vendorIdx = i
		case strings.EqualFold(strings.TrimSpace(h), r.cfg.POColumn):
			poIdx = i
		}
	}
	if vendorIdx < 0 || poIdx < 0 {
		return nil, eris.Errorf("match: PO table missing required columns %q and %q", r.cfg.VendorColumn, r.cfg.POColumn)
	}

	rows := make([]model.PurchaseOrder, 0, len(table)-1)
	for _, row := range table[1:] {
		if vendorIdx >= len(row) || poIdx >= len(row) {
			continue
		}
		vendor, po := strings.TrimSpace(row[vendorIdx]), strings.TrimSpace(row[poIdx])
		if vendor == "" {
			continue
		}
		rows = append(rows, model.PurchaseOrder{VendorName: vendor, PONumber: po})
	}
	return rows, nil
}

func isXLSX(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

func remoteExt(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}
