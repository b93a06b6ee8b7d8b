// Package http exposes a dialogue engine over REST, with a server-sent event
// stream of committed frames for observers. The operations are described by
// the embedded openapi.yaml, served at /openapi.yaml.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/mermaid"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/replication"
)

// Engine is the operation set the server drives.
type Engine interface {
	ports.DialogueEngine
	RestoreInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error)
	Participants(records []domain.ParticipantRecord) []domain.Participant
	ReleaseActor(actorID string) bool
}

// Catalog lists published graphs.
type Catalog interface {
	List() []*graph.Graph
	Latest(id string) (*graph.Graph, error)
}

// FrameSource streams the committed frames of an instance.
type FrameSource interface {
	Subscribe(instanceID string, since uint64) (*replication.Subscription, error)
}

// Server implements ServerInterface.
type Server struct {
	Engine    Engine
	Catalog   Catalog
	Frames    FrameSource
	logger    *slog.Logger
	metrics   http.Handler
	keepAlive time.Duration
}

var _ ServerInterface = (*Server)(nil)

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts h at /metrics, typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithKeepAlive sets how often idle event streams receive a ping comment.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, catalog Catalog, frames FrameSource, opts ...Option) http.Handler {
	server := &Server{
		Engine:    engine,
		Catalog:   catalog,
		Frames:    frames,
		logger:    logging.NewNop(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(Spec())
	})
	if server.metrics != nil {
		r.Handle("/metrics", server.metrics)
	}

	return handlerFromMux(server, r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GraphInfo summarizes a published graph.
type GraphInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Revision int    `json:"revision"`
	Start    string `json:"start"`
}

// StartInstanceRequest is the body of POST /instances.
type StartInstanceRequest struct {
	GraphID      string                     `json:"graph_id"`
	Participants []domain.ParticipantRecord `json:"participants"`
	EntryNodeID  string                     `json:"entry_node_id,omitempty"`
	Vars         map[string]any             `json:"vars,omitempty"`
}

// AdvanceRequest is the body of POST /instances/{id}/advance.
type AdvanceRequest struct {
	Choice string `json:"choice,omitempty"`
}

// AbortRequest is the body of POST /instances/{id}/abort.
type AbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is returned by every failed operation. Snapshot is set when
// the operation committed a state change before failing, e.g. an abort.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Reason   string           `json:"reason,omitempty"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListGraphs handles GET /graphs.
func (s *Server) ListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs := s.Catalog.List()
	out := make([]GraphInfo, 0, len(graphs))
	for _, g := range graphs {
		out = append(out, GraphInfo{ID: g.ID(), Version: g.Version(), Revision: g.Revision(), Start: g.StartNodeID()})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetGraph handles GET /graphs/{graphID}.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request, graphID string, params GetGraphParams) {
	g, err := s.Catalog.Latest(graphID)
	if err != nil {
		s.fail(w, "get graph", err, nil)
		return
	}
	if params.Format != nil && *params.Format == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(mermaid.Generate(g, nil)))
		return
	}
	writeJSON(w, http.StatusOK, g.Draft())
}

// StartInstance handles POST /instances.
func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	var body StartInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "", nil)
		s.logger.Warn("start: invalid request body", "error", err)
		return
	}
	if body.GraphID == "" {
		writeError(w, http.StatusBadRequest, "graph_id is required", "", nil)
		return
	}

	snap, err := s.Engine.StartInstance(r.Context(), ports.StartRequest{
		GraphID:      body.GraphID,
		Participants: s.Engine.Participants(body.Participants),
		EntryNodeID:  body.EntryNodeID,
		Vars:         body.Vars,
	})
	if err != nil {
		s.fail(w, "start", err, snap)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetSnapshot handles GET /instances/{instanceID}.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request, instanceID string) {
	s.reply(w, "snapshot")(s.Engine.Snapshot(r.Context(), instanceID))
}

// AdvanceInstance handles POST /instances/{instanceID}/advance.
func (s *Server) AdvanceInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	var body AdvanceRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	choice, err := SanitizeInput(body.Choice)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid choice: %v", err), "", nil)
		s.logger.Warn("advance: choice rejected", "instance_id", instanceID, "error", err, "size", len(body.Choice))
		return
	}
	s.reply(w, "advance")(s.Engine.AdvanceInstance(r.Context(), instanceID, choice))
}

// ResumeInstance handles POST /instances/{instanceID}/resume.
func (s *Server) ResumeInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	s.reply(w, "resume")(s.Engine.ResumeInstance(r.Context(), instanceID))
}

// PauseInstance handles POST /instances/{instanceID}/pause.
func (s *Server) PauseInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	s.reply(w, "pause")(s.Engine.PauseInstance(r.Context(), instanceID))
}

// AbortInstance handles POST /instances/{instanceID}/abort.
func (s *Server) AbortInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	var body AbortRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	reason, err := SanitizeInput(body.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid reason: %v", err), "", nil)
		return
	}
	s.reply(w, "abort")(s.Engine.AbortInstance(r.Context(), instanceID, reason))
}

// RestoreInstance handles POST /instances/{instanceID}/restore.
func (s *Server) RestoreInstance(w http.ResponseWriter, r *http.Request, instanceID string) {
	s.reply(w, "restore")(s.Engine.RestoreInstance(r.Context(), instanceID))
}

// ReleaseActor handles DELETE /actors/{actorID}.
func (s *Server) ReleaseActor(w http.ResponseWriter, r *http.Request, actorID string) {
	if !s.Engine.ReleaseActor(actorID) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("actor %q not found", actorID), "", nil)
		return
	}
	s.logger.Info("actor released", "actor_id", actorID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reply(w http.ResponseWriter, op string) func(*domain.Snapshot, error) {
	return func(snap *domain.Snapshot, err error) {
		if err != nil {
			s.fail(w, op, err, snap)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error, snap *domain.Snapshot) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	} else {
		s.logger.Debug(op+" rejected", "error", err)
	}
	writeError(w, status, err.Error(), string(domain.ReasonOf(err)), snap)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrGraphNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInstanceEnded):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalidParticipants),
		errors.Is(err, domain.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	// The instance committed an abort or a pause on the way.
	var ie *domain.InstanceError
	if errors.As(err, &ie) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, reason string, snap *domain.Snapshot) {
	writeJSON(w, status, ErrorResponse{Error: msg, Reason: reason, Snapshot: snap})
}
