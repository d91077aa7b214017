// Package gateway implements the websocket protocol layer of Synapse: the
// per-connection action dispatcher, the streaming aggregator that turns
// agent runtime events into wire messages, and the poll-based ingestion
// watch. One goroutine owns each connection; the only state shared across
// connections lives in the cancellation and ingestion stores.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synapsehq/synapse/internal/agent"
	"github.com/synapsehq/synapse/internal/cancel"
	"github.com/synapsehq/synapse/internal/ingestion"
	"github.com/synapsehq/synapse/internal/observability"
	"github.com/synapsehq/synapse/internal/threads"
	"github.com/synapsehq/synapse/pkg/models"
)

// TokenVerifier validates a bearer token and returns the identity it
// carries.
type TokenVerifier interface {
	Verify(token string) (*models.User, error)
}

// Options wires the server's collaborators. Verifier, Directory, Cancels,
// Jobs and Runtime are required.
type Options struct {
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Verifier     TokenVerifier
	Directory    threads.Directory
	Cancels      cancel.Store
	Jobs         ingestion.Store
	Runtime      agent.Runtime
	PollInterval time.Duration
}

// Server accepts websocket connections and spawns one connection handler
// per socket.
type Server struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	verifier     TokenVerifier
	directory    threads.Directory
	cancels      cancel.Store
	jobs         ingestion.Store
	runtime      agent.Runtime
	pollInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds a gateway server from its collaborators.
func NewServer(opts Options) (*Server, error) {
	if opts.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("thread directory is required")
	}
	if opts.Cancels == nil {
		return nil, errors.New("cancellation store is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("ingestion store is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("agent runtime is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Server{
		logger:       logger,
		metrics:      opts.Metrics,
		verifier:     opts.Verifier,
		directory:    opts.Directory,
		cancels:      opts.Cancels,
		jobs:         opts.Jobs,
		runtime:      opts.Runtime,
		pollInterval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}, nil
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.newConnection(r.Context(), ws).run()
}

// Handler returns the full HTTP surface: the websocket endpoint, metrics
// and a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
