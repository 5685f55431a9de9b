// Package api exposes the job store over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/merge"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/query"
)

// Ingester runs a candidate batch through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, candidates []map[string]any, chunkSize int) *model.IngestionBatch
}

// Reader serves list, count and stats queries.
type Reader interface {
	List(ctx context.Context, f query.Filter) ([]model.JobRecord, error)
	Count(ctx context.Context, f query.Filter) (int64, error)
	Stats(ctx context.Context, window time.Duration) (*query.Stats, error)
}

// Merger runs one merge pass.
type Merger interface {
	Run(ctx context.Context) (*merge.PassResult, error)
}

// Records is the single-record surface of the store.
type Records interface {
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) (*model.JobRecord, error)
	DeleteJob(ctx context.Context, id string) (int64, error)
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call.
type Deps struct {
	Records   Records
	Ingester  Ingester
	Reader    Reader
	Merger    Merger
	ChunkSize int
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	StatsWindow time.Duration // default window for /v1/jobs/stats
	MaxBodySize int64
}

const (
	defaultStatsWindow = 7 * 24 * time.Hour
	defaultMaxBody     = 32 << 20
)

type handlers struct {
	deps Deps
	opts Options
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(deps Deps, opts Options) http.Handler {
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = defaultStatsWindow
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBody
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	h := &handlers{deps: deps, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Get("/count", h.countJobs)
		r.Get("/stats", h.stats)
		r.Post("/ingest", h.ingest)
		r.Post("/merge", h.runMerge)
		r.Get("/{id}", h.getJob)
		r.Patch("/{id}", h.patchJob)
		r.Delete("/{id}", h.deleteJob)
	})

	return r
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
