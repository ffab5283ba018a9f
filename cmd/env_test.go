package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/monitoring"
	"github.com/sells-group/invoice-cli/internal/review"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "invoices.db")},
		OCR:        config.OCRConfig{Provider: "auto"},
		Extraction: config.ExtractionConfig{Method: "regex", Currency: "GBP", SimilarityThreshold: 0.9},
		Review:     config.ReviewConfig{ConfidenceThreshold: 0.9},
		Matching:   config.MatchingConfig{Reference: "approved_pos.csv", SimilarityThreshold: 0.85},
		Pipeline:   config.PipelineConfig{RetryMaxAttempts: 1, DLQMaxRetries: 3},
		Batch:      config.BatchConfig{MaxConcurrent: 2},
		Server:     config.ServerConfig{Port: 8080, UploadDir: t.TempDir()},
		Log:        config.LogConfig{Level: "info", Format: "json"},
	}
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitStore_Drivers(t *testing.T) {
	withConfig(t, testConfig(t))

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg.Store.Driver = "mysql"
	_, err = initStore(context.Background())
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestOpenStore_ValidatesMode(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)

	st, err := openStore(context.Background(), "inspect")
	require.NoError(t, err)
	require.NoError(t, st.Ping(context.Background()))
	require.NoError(t, st.Close())

	_, err = openStore(context.Background(), "review-sync")
	assert.ErrorContains(t, err, "notion.token is required")
}

func TestInitEnv_Regex(t *testing.T) {
	withConfig(t, testConfig(t))

	env, err := initEnv(context.Background(), "process")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Orchestrator)
	assert.NotNil(t, env.Desk)
	assert.Nil(t, env.Notion)
}

func TestInitEnv_NotionQueue(t *testing.T) {
	c := testConfig(t)
	c.Notion = config.NotionConfig{Token: "secret", ReviewDB: "db-1"}
	withConfig(t, c)

	env, err := initEnv(context.Background(), "process")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Notion)
}

func TestBuildStages_Errors(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)
	st, err := openStore(context.Background(), "inspect")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	bad := *c
	bad.OCR.Provider = "carrier-pigeon"
	_, err = buildStages(context.Background(), &bad, st)
	assert.ErrorContains(t, err, "init ocr")

	llm := *c
	llm.Extraction.Method = "llm"
	_, err = buildStages(context.Background(), &llm, st)
	assert.ErrorContains(t, err, "requires an oracle")

	missing := *c
	missing.Extraction.KnownErrors = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = buildStages(context.Background(), &missing, st)
	assert.ErrorContains(t, err, "read known errors")
}

func TestNewServeHandler_Health(t *testing.T) {
	withConfig(t, testConfig(t))
	st, err := openStore(context.Background(), "serve")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	env := &appEnv{Store: st, Desk: review.NewDesk(st)}
	srv := httptest.NewServer(newServeHandler(env, monitoring.NewCollector(st)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestParseFieldSets(t *testing.T) {
	fields, err := parseFieldSets([]string{"total_amount=120.00", "vendor_name=Acme Ltd", "po_number="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"total_amount": "120.00",
		"vendor_name":  "Acme Ltd",
		"po_number":    "",
	}, fields)

	_, err = parseFieldSets([]string{"no-equals"})
	assert.Error(t, err)
	_, err = parseFieldSets([]string{"=value"})
	assert.Error(t, err)
}
