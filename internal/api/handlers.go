package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/review"
	"github.com/sells-group/invoice-cli/internal/store"
)

var uploadExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".tiff": true,
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("api: encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps domain errors to status codes.
func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case eris.Is(err, review.ErrInvalidStatus), eris.Is(err, review.ErrInvalidField):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("api: request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]string{"status": status})
}

// --- Upload ---

func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close() //nolint:errcheck

	name := filepath.Base(header.Filename)
	if !uploadExtensions[strings.ToLower(filepath.Ext(name))] {
		h.writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		h.writeStoreError(w, eris.Wrap(err, "api: create upload dir"))
		return
	}
	dst := filepath.Join(h.cfg.UploadDir, uuid.NewString()+"_"+name)
	out, err := os.Create(dst)
	if err != nil {
		h.writeStoreError(w, eris.Wrap(err, "api: create upload"))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		h.writeStoreError(w, eris.Wrap(err, "api: write upload"))
		return
	}
	if err := out.Close(); err != nil {
		h.writeStoreError(w, eris.Wrap(err, "api: close upload"))
		return
	}

	res, err := h.deps.Processor.Process(r.Context(), dst)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// --- ProcessAll ---

func (h *Handlers) ProcessAll(w http.ResponseWriter, r *http.Request) {
	paths, err := pipeline.CollectInputs(h.cfg.InputDir, h.cfg.Patterns, parseIntDefault(r.URL.Query().Get("limit"), 0))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	sum := pipeline.RunBatch(r.Context(), h.deps.Processor, paths, h.cfg.Concurrency)
	h.writeJSON(w, http.StatusOK, sum)
}

// --- Invoices ---

func (h *Handlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InvoiceFilter{
		Status:       model.PipelineStatus(q.Get("status")),
		ReviewStatus: model.ReviewStatus(q.Get("review_status")),
		Limit:        parseIntDefault(q.Get("limit"), 50),
		Offset:       parseIntDefault(q.Get("offset"), 0),
	}
	results, err := h.deps.Store.ListInvoices(r.Context(), filter)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if results == nil {
		results = []model.PipelineResult{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoices": results,
		"count":    len(results),
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Store.GetInvoice(r.Context(), urlParam(r, "key"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type updateRequest struct {
	Fields     map[string]string  `json:"fields"`
	Status     model.ReviewStatus `json:"review_status"`
	Notes      string             `json:"notes"`
	ReviewedBy string             `json:"reviewed_by"`
}

func (h *Handlers) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Fields) == 0 && req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "fields or review_status is required")
		return
	}
	res, err := h.deps.Desk.Update(r.Context(), urlParam(r, "key"), review.Update{
		Fields: req.Fields,
		Status: req.Status,
		Notes:  req.Notes,
		By:     req.ReviewedBy,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type correctionRequest struct {
	Field       string `json:"field"`
	NewValue    string `json:"new_value"`
	Notes       string `json:"notes"`
	CorrectedBy string `json:"corrected_by"`
}

func (h *Handlers) AddCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.deps.Desk.Correct(r.Context(), urlParam(r, "key"), model.Correction{
		Field:       req.Field,
		NewValue:    req.NewValue,
		Notes:       req.Notes,
		CorrectedBy: req.CorrectedBy,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) Document(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Store.GetInvoice(r.Context(), urlParam(r, "key"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	f, err := os.Open(res.Invoice.DocumentPath)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	http.ServeContent(w, r, filepath.Base(res.Invoice.DocumentPath), info.ModTime(), f)
}

// --- Anomalies ---

func (h *Handlers) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unresolved, _ := strconv.ParseBool(q.Get("unresolved"))
	records, err := h.deps.Store.ListAnomalies(r.Context(), store.AnomalyFilter{
		UnresolvedOnly: unresolved,
		Severity:       model.Severity(q.Get("severity")),
		Limit:          parseIntDefault(q.Get("limit"), 100),
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []model.AnomalyRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"anomalies": records, "count": len(records)})
}

func (h *Handlers) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	number := urlParam(r, "invoice_number")
	if err := h.deps.Store.ResolveAnomaly(r.Context(), number, req.Notes); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoice_number": number,
		"resolved":       true,
		"resolved_at":    time.Now().UTC(),
	})
}

// --- Metrics ---

func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	lookback := parseIntDefault(r.URL.Query().Get("lookback"), h.cfg.LookbackHours)
	snap, err := h.deps.Metrics.Collect(r.Context(), lookback)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}
