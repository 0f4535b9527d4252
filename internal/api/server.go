// Package api exposes queue inspection and control over HTTP for the
// surfaces that render the offline badge and the pending list.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/models"
	"offlinesync/internal/network"
	"offlinesync/internal/queue"
	"offlinesync/internal/syncer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Engine is the part of the sync engine the API drives.
type Engine interface {
	EnqueueAndMaybeSync(ctx context.Context, op models.SyncOperation) (models.SyncOperation, error)
	SyncNow(ctx context.Context) (syncer.Result, error)
	ClearQueue(ctx context.Context) error
	RemoveItem(ctx context.Context, id string) error
	QueueSnapshot(ctx context.Context) []models.SyncOperation
	Stats(ctx context.Context) models.QueueStats
	Draining() bool
}

// HTTPServer serves the admin API.
type HTTPServer struct {
	cfg     config.APIConfig
	engine  Engine
	network network.Source
	server  *http.Server
	auth    *HTTPAuth
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, engine Engine, source network.Source, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:     cfg,
		engine:  engine,
		network: source,
		auth:    NewHTTPAuth(cfg),
		logger:  logger,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)

		r.Get("/queue", s.handleListQueue)
		r.Get("/queue/stats", s.handleStats)
		r.Post("/queue", s.handleEnqueue)
		r.Delete("/queue", s.handleClear)
		r.Delete("/queue/{id}", s.handleRemove)
		r.Post("/sync", s.handleSync)
		r.Get("/network", s.handleNetwork)
	})
	return r
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"online":   s.network.Current().Online(),
		"draining": s.engine.Draining(),
	})
}

func (s *HTTPServer) handleListQueue(w http.ResponseWriter, r *http.Request) {
	ops := s.engine.QueueSnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops, "count": len(ops)})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats(r.Context()))
}

type enqueueRequest struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload"`
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	op, err := s.engine.EnqueueAndMaybeSync(r.Context(), models.SyncOperation{
		ID:           body.ID,
		Kind:         models.OperationKind(body.Kind),
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		Payload:      body.Payload,
	})
	switch {
	case errors.Is(err, models.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to enqueue operation")
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearQueue(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.RemoveItem(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove operation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	// a dropped client must not cut the pass short mid-item
	res, err := s.engine.SyncNow(context.WithoutCancel(r.Context()))
	if errors.Is(err, syncer.ErrDrainInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	status := s.network.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"online": status.Online(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
