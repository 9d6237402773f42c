package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cpi_pulse/config"
	"cpi_pulse/ingest"
	"cpi_pulse/models"
	"cpi_pulse/services"
)

const (
	headerAdminKey  = "X-ADMIN-KEY"
	headerUploadKey = "X-UPLOAD-KEY"
)

type Refresher interface {
	Submit(ctx context.Context, src ingest.Source) (*models.RefreshJob, error)
}

type JobReader interface {
	Get(ctx context.Context, id string) (*models.RefreshJob, error)
}

type Server struct {
	auth        config.AuthConfig
	analytics   *services.AnalyticsService
	catalog     *services.CatalogService
	jobs        JobReader
	refresher   Refresher
	source      ingest.Source
	defaultLang string
	maxUpload   int64
}

// NewServer wires the handlers. source is the configured download source
// for admin refreshes and may be nil.
func NewServer(auth config.AuthConfig, analytics *services.AnalyticsService, catalog *services.CatalogService,
	jobs JobReader, refresher Refresher, source ingest.Source, defaultLang string) *Server {
	return &Server{
		auth:        auth,
		analytics:   analytics,
		catalog:     catalog,
		jobs:        jobs,
		refresher:   refresher,
		source:      source,
		defaultLang: defaultLang,
		maxUpload:   maxUploadSize,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", headerAdminKey, headerUploadKey},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/classifiers", s.listClassifiers)
		r.Get("/kpi", s.kpi)
		r.Get("/series", s.series)
		r.Get("/table", s.table)
		r.Get("/meta", s.meta)

		r.Route("/admin", func(r chi.Router) {
			r.With(requireKey(headerAdminKey, s.auth.AdminKey)).Post("/refresh", s.refresh)
			r.With(requireKey(headerUploadKey, s.auth.UploadKey)).Post("/upload", s.upload)
			r.Get("/refresh/{jobId}", s.jobStatus)
		})
	})
	return r
}
