// Package server provides the HTTP API for pricematch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/catalog"
	"github.com/costwise/pricematch/internal/config"
	"github.com/costwise/pricematch/internal/job"
	"github.com/costwise/pricematch/internal/storage"
)

// Server is the HTTP server for the pricematch API.
type Server struct {
	processor *job.Processor
	storage   storage.Storage
	catalog   *catalog.Index
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	processor *job.Processor,
	store storage.Storage,
	cat *catalog.Index,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		processor: processor,
		storage:   store,
		catalog:   cat,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the chi router. Split out from Start so tests can drive the
// handlers through httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/jobs", s.handleSubmitJob)
	r.Post("/api/v1/jobs/batch", s.handleSubmitBatch)
	r.Get("/api/v1/jobs", s.handleListJobs)
	r.Get("/api/v1/jobs/{id}", s.handleGetJob)
	r.Delete("/api/v1/jobs/{id}", s.handleCancelJob)
	r.Get("/api/v1/jobs/{id}/export", s.handleExportJob)
	r.Get("/api/v1/jobs/{id}/stream", s.handleStreamJob)
	r.Get("/api/v1/batches/{id}", s.handleGetBatch)
	r.Post("/api/v1/pricelist", s.handleReplacePriceList)
	r.Get("/api/v1/pricelist/search", s.handleSearchPriceList)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
