package match

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-cli/internal/fetcher"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

const poCSV = "vendor name,Approved PO List,Region\nAcme Limited,PO-1001,UK\nGlobex Corporation,PO-2002,US\n,PO-3003,UK\n"

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approved_pos.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RatePerHost: rate.Inf})
}

func TestTableReference_LocalCSV(t *testing.T) {
	ref := NewTableReference(TableConfig{Source: writeCSV(t, poCSV)}, nil, nil)
	pos, err := ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.PurchaseOrder{
		{VendorName: "Acme Limited", PONumber: "PO-1001"},
		{VendorName: "Globex Corporation", PONumber: "PO-2002"},
	}, pos)
}

func TestTableReference_LocalXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Approved")
	require.NoError(t, err)
	for _, r := range [][]string{{"Vendor Name", "Approved PO List"}, {"Acme Limited", "PO-1001"}} {
		row := sheet.AddRow()
		for _, c := range r {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "pos.xlsx")
	require.NoError(t, f.Save(path))

	ref := NewTableReference(TableConfig{Source: path, Sheet: "Approved"}, nil, nil)
	pos, err := ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.PurchaseOrder{{VendorName: "Acme Limited", PONumber: "PO-1001"}}, pos)
}

func TestTableReference_Unavailable(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		noRef    bool
		contains string
	}{
		{name: "missing file", source: filepath.Join(t.TempDir(), "nope.csv"), noRef: true},
		{name: "empty source", source: "", noRef: true},
		{name: "header only", source: writeCSV(t, "Vendor Name,Approved PO List\n"), noRef: true},
		{name: "empty file", source: writeCSV(t, ""), noRef: true},
		{name: "missing columns", source: writeCSV(t, "Vendor,PO\nAcme,PO-1\n"), contains: "missing required columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTableReference(TableConfig{Source: tt.source}, nil, nil).PurchaseOrders(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.noRef, eris.Is(err, ErrNoReference))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestTableReference_HTTPCacheAndETag(t *testing.T) {
	var hits, notModified atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(poCSV)) //nolint:errcheck
	}))
	defer ts.Close()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ref := NewTableReference(TableConfig{Source: ts.URL + "/pos.csv", TTL: time.Minute}, testFetcher(), nil)
	ref.now = func() time.Time { return now }

	pos, err := ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, pos, 2)

	_, err = ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	pos, err = ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, pos, 2)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestTableReference_TransientErrorAndStaleCache(t *testing.T) {
	var fail atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(poCSV)) //nolint:errcheck
	}))
	defer ts.Close()

	fail.Store(true)
	ref := NewTableReference(TableConfig{Source: ts.URL + "/pos.csv"}, testFetcher(), nil)
	_, err := ref.PurchaseOrders(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	fail.Store(false)
	pos, err := ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, pos, 2)

	fail.Store(true)
	pos, err = ref.PurchaseOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, pos, 2)
}

func TestTableConfigDefaults(t *testing.T) {
	ref := NewTableReference(TableConfig{}, nil, nil)
	assert.Equal(t, "Vendor Name", ref.cfg.VendorColumn)
	assert.Equal(t, "Approved PO List", ref.cfg.POColumn)
}
