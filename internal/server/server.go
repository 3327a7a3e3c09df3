package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/filevault/filevault/internal/acl"
	"github.com/filevault/filevault/internal/config"
	"github.com/filevault/filevault/internal/media"
	"github.com/filevault/filevault/internal/metrics"
	"github.com/filevault/filevault/internal/storage"
	"github.com/filevault/filevault/internal/variant"
)

// Server is the FileVault HTTP server.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	store      *media.Store
	checker    acl.Checker
}

// New creates the server: storage backend from configuration, presets,
// media store, routes.
func New(cfg *config.Config) (*Server, error) {
	backend, err := storage.NewBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	presets, err := variant.PresetsFromConfig(cfg.Presets)
	if err != nil {
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}

	server := &Server{
		config:  cfg,
		store:   media.New(backend, presets),
		checker: acl.NewChecker(cfg.ACL),
		httpServer: &http.Server{
			Addr:         cfg.Listen,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	handler := handlers.RecoveryHandler()(server.Routes())
	if cfg.Metrics.Enable {
		handler = metrics.Instrument(handler)
	}
	server.httpServer.Handler = handler

	return server, nil
}

// Routes builds the router. Exposed so tests can drive the handlers
// through httptest without binding a port.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	list := r.PathPrefix("/storage/list").Subrouter()
	list.HandleFunc("/{account}", s.handleList).Methods(http.MethodGet)
	list.HandleFunc("/{account}/{path:.*}", s.handleList).Methods(http.MethodGet)
	list.HandleFunc("/{account}", s.handleCreateFolder).Methods(http.MethodPut, http.MethodPost)
	list.HandleFunc("/{account}/{path:.*}", s.handleCreateFolder).Methods(http.MethodPut, http.MethodPost)
	list.HandleFunc("/{account}", s.handleDeletePrefix).Methods(http.MethodDelete)
	list.HandleFunc("/{account}/{path:.*}", s.handleDeletePrefix).Methods(http.MethodDelete)

	item := r.PathPrefix("/storage/item").Subrouter()
	item.HandleFunc("/meta/{path:.*}", s.handleGetMeta).Methods(http.MethodGet)
	item.HandleFunc("/rotate/{path:.*}", s.handleRotate).Methods(http.MethodPost)
	item.HandleFunc("/{path:.*}", s.handleGetItem).Methods(http.MethodGet)
	item.HandleFunc("/{path:.*}", s.handleCreateItem).Methods(http.MethodPost)
	item.HandleFunc("/{path:.*}", s.handlePutItem).Methods(http.MethodPut)
	item.HandleFunc("/{path:.*}", s.handleDeleteItem).Methods(http.MethodDelete)

	if s.config.Metrics.Enable {
		r.Handle(s.config.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	return r
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address": s.config.Listen,
		"backend": s.config.Storage.Backend,
	}).Info("Starting FileVault server")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown HTTP server")
	}

	if err := s.store.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close storage backend")
		return err
	}
	return nil
}

// actor identifies the requesting user for provenance stamping. A real
// deployment puts an authenticating proxy in front; absent that, the
// caller-declared header is taken at face value.
func actor(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logrus.WithError(err).Error("Failed to encode response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
