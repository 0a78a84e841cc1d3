// Package server provides the HTTP API for semret.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/semret/internal/config"
	"github.com/hyperjump/semret/internal/indexer"
	"github.com/hyperjump/semret/internal/ingest"
	"github.com/hyperjump/semret/internal/search"
)

// WatchService is the subset of the directory watcher the API manages.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the semret API.
type Server struct {
	search  *search.Service
	indexer *indexer.Indexer
	pair    *ingest.Transaction
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server

	watch         WatchService // nil when watching is disabled
	configPath    string       // watch directory changes are saved here when set
	watchConfigMu sync.Mutex
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	svc *search.Service,
	idx *indexer.Indexer,
	pair *ingest.Transaction,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		search:     svc,
		indexer:    idx,
		pair:       pair,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
	}
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleIngest)
		r.Delete("/files", s.handleDeleteFile)
		r.Post("/reconcile", s.handleReconcile)
		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs one line per request through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
