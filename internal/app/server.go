package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Lumina/internal/api/middlewares"
	"github.com/markdave123-py/Lumina/internal/config"
	"github.com/markdave123-py/Lumina/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	docs *services.DocumentService,
	images *services.ImageService,
	retriever handlers.Retriever,
	keys handlers.KeyLister,
	logger *zap.Logger,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, docs, images, retriever, keys, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter mounts /metrics, /healthz and the JWT-protected /api group.
func NewRouter(
	cfg *config.Config,
	docs *services.DocumentService,
	images *services.ImageService,
	retriever handlers.Retriever,
	keys handlers.KeyLister,
	logger *zap.Logger,
) http.Handler {
	docHandler := handlers.NewDocumentHandler(docs, logger)
	imageHandler := handlers.NewImageHandler(images, logger)
	searchHandler := handlers.NewSearchHandler(retriever, keys, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret)))

		api.Post("/documents/upload", docHandler.UploadDocument)
		api.Get("/documents", docHandler.GetDocuments)
		api.Get("/documents/{id}/status", docHandler.GetStatus)
		api.Post("/documents/{id}/retry", docHandler.RetryDocument)
		api.Delete("/documents/{id}", docHandler.DeleteDocument)

		api.Post("/images/upload", imageHandler.UploadImage)
		api.Post("/images/{id}/caption", imageHandler.SubmitCaption)

		api.Post("/search", searchHandler.Search)
		api.Get("/metadata/keys", searchHandler.MetadataKeys)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
