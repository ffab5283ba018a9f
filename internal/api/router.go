// Package api exposes processed invoices, the review desk and metrics over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/monitoring"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/review"
	"github.com/sells-group/invoice-cli/internal/store"
)

// Store is the read side of persistence the API serves.
type Store interface {
	GetInvoice(ctx context.Context, key string) (*model.PipelineResult, error)
	ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]model.PipelineResult, error)
	ListAnomalies(ctx context.Context, filter store.AnomalyFilter) ([]model.AnomalyRecord, error)
	ResolveAnomaly(ctx context.Context, invoiceNumber, notes string) error
	Ping(ctx context.Context) error
}

// Desk applies human review edits.
type Desk interface {
	Update(ctx context.Context, key string, u review.Update) (*model.PipelineResult, error)
	Correct(ctx context.Context, key string, c model.Correction) (*model.PipelineResult, error)
}

// Metrics produces monitoring snapshots.
type Metrics interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Processor pipeline.Processor
	Store     Store
	Desk      Desk
	Metrics   Metrics
}

// Config configures uploads, batch runs and CORS.
type Config struct {
	UploadDir     string
	MaxUploadMB   int64
	CORSOrigins   []string
	InputDir      string
	Patterns      []string
	Concurrency   int
	LookbackHours int
}

// NewRouter creates the chi router with all API routes mounted.
func NewRouter(deps Deps, cfg Config) http.Handler {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LookbackHours <= 0 {
		cfg.LookbackHours = 24
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &Handlers{deps: deps, cfg: cfg, log: zap.L().With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/upload", h.Upload)
			r.Post("/process-all", h.ProcessAll)
			r.Get("/{key}", h.GetInvoice)
			r.Put("/{key}", h.UpdateInvoice)
			r.Post("/{key}/corrections", h.AddCorrection)
			r.Get("/{key}/document", h.Document)
		})

		r.Get("/anomalies", h.ListAnomalies)
		r.Post("/anomalies/{invoice_number}/resolve", h.ResolveAnomaly)

		r.Get("/metrics", h.Metrics)
	})

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}
