// Package server exposes the Folio operation status API over HTTP.
//
// The API is a read-and-control surface for operations: clients create,
// inspect, list and cancel them here, while the work itself runs inside the
// process that embeds the ops.Runner. There is no push channel; clients poll.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/foliolabs/folio/config"
	"github.com/foliolabs/folio/logger"
	"github.com/foliolabs/folio/ops"
)

// HTTP server timeouts
const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
)

// FolioServer serves the operation status API
type FolioServer struct {
	manager *ops.Manager
	port    int
	log     *zap.SugaredLogger

	httpServer *http.Server
}

// NewServer creates a status API server around the operation manager
func NewServer(manager *ops.Manager, cfg *config.ServerConfig, log *zap.SugaredLogger) *FolioServer {
	if log == nil {
		log = logger.Logger
	}

	port := config.DefaultServerPort
	if cfg != nil && cfg.Port != 0 {
		port = cfg.Port
	}

	s := &FolioServer{
		manager: manager,
		port:    port,
		log:     log.Named("server"),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return s
}

// Routes builds the API mux. Exposed for tests.
func (s *FolioServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/operations", s.HandleOperations)
	mux.HandleFunc("/api/operations/", s.HandleOperation)
	return mux
}

// Port returns the port the server binds to
func (s *FolioServer) Port() int {
	return s.port
}

// Start binds the listener and serves until Shutdown is called
func (s *FolioServer) Start() error {
	s.log.Infow("Starting operation status API",
		"addr", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener
func (s *FolioServer) Shutdown(ctx context.Context) error {
	s.log.Infow("Shutting down operation status API")
	return s.httpServer.Shutdown(ctx)
}
