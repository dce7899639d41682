package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	// Health backs /healthz; nil always reports healthy.
	Health func(ctx context.Context) error
	Logger zerolog.Logger
}

func NewRouter(files *FileHandler, directories *DirectoryHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/files", files.CreateFile)
		r.Get("/files", files.FindFiles)

		r.Route("/files/{id}", func(r chi.Router) {
			r.Get("/", files.GetFile)
			r.Delete("/", files.DeleteFile)
			r.Put("/rename", files.RenameFile)
			r.Put("/move", files.MoveFile)
			r.Get("/download", files.Download)
			r.Get("/versions", files.ListVersions)
			r.Post("/versions", files.AddVersion)
			r.Delete("/versions/{versionID}", files.DeleteVersion)
		})

		r.Post("/directories", directories.CreateDirectory)
		r.Get("/directories/{id}", directories.GetDirectory)
		r.Put("/directories/{id}/move", directories.MoveDirectory)
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("duration", time.Since(start)).
					Msg("request handled")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
