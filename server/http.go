// Package server is the HTTP and WebSocket surface: flow registration,
// status reads, client-sourced stage appends and the per-flow status
// fan-out.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"cosmossdk.io/log"

	"github.com/stablepath/flowtrack/config"
	"github.com/stablepath/flowtrack/events"
	"github.com/stablepath/flowtrack/queue"
	"github.com/stablepath/flowtrack/store"
)

const (
	httpTimeout     = 30 * time.Second
	httpIdleTimeout = 120 * time.Second
)

// Server wires the API handlers over their collaborators.
type Server struct {
	store    store.Store
	queue    queue.Queue
	bus      *events.Bus
	registry config.ChainRegistry
	logger   log.Logger
	cors     []string
}

// New builds a server.
func New(
	st store.Store,
	q queue.Queue,
	bus *events.Bus,
	registry config.ChainRegistry,
	corsOrigins []string,
	logger log.Logger,
) *Server {
	return &Server{
		store:    st,
		queue:    q,
		bus:      bus,
		registry: registry,
		logger:   logger.With(log.ModuleKey, "http"),
		cors:     corsOrigins,
	}
}

// Router assembles the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/track/flow", s.handleTrackFlow).Methods(http.MethodPost)
	api.HandleFunc("/flow/by-hash/{chain}/{hash}", s.handleFlowByHash).Methods(http.MethodGet)
	api.HandleFunc("/flow/{id}", s.handleGetFlow).Methods(http.MethodGet)
	api.HandleFunc("/flow/{id}/status", s.handleFlowStatus).Methods(http.MethodGet)
	api.HandleFunc("/flow/{id}/logs", s.handleFlowLogs).Methods(http.MethodGet)
	api.HandleFunc("/flow/{id}/job", s.handleFlowJob).Methods(http.MethodGet)
	api.HandleFunc("/flow/{id}/stage", s.handleClientStage).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWebsocket)
	return r
}

// Start serves the API on addr until ctx is cancelled, shutting down
// gracefully.
func (s *Server) Start(ctx context.Context, g *errgroup.Group, addr string) *http.Server {
	handlerWithCors := cors.AllowAll()
	if len(s.cors) > 0 {
		handlerWithCors = cors.New(cors.Options{
			AllowedOrigins: s.cors,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		})
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handlerWithCors.Handler(s.Router()),
		ReadHeaderTimeout: httpTimeout,
		ReadTimeout:       httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	g.Go(func() error {
		s.logger.Info("starting HTTP server", "address", addr)
		errCh := make(chan error)
		go func() {
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			s.logger.Info("stopping HTTP server...", "address", addr)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("failed to shutdown HTTP server", "error", err.Error())
			}
			return nil

		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			s.logger.Error("failed to start HTTP server", "error", err.Error())
			return err
		}
	})

	return httpSrv
}

// writeJSON renders a response body; encoding failures surface in the log
// only, the status line is already gone.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}

// writeError renders a plain error body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}

// writeValidationError renders field-level validation detail.
func (s *Server) writeValidationError(w http.ResponseWriter, fields map[string]string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}
