// Package mcp exposes a dialogue engine to Model Context Protocol clients.
// Every dialogue operation is a tool; published graphs are resources.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/mermaid"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
)

const graphsURI = "parley://graphs"

// Engine is the operation set the tools drive.
type Engine interface {
	ports.DialogueEngine
	RestoreInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error)
	Participants(records []domain.ParticipantRecord) []domain.Participant
}

// Catalog lists published graphs.
type Catalog interface {
	List() []*graph.Graph
	Latest(id string) (*graph.Graph, error)
}

// InstanceResponse is the structured result of every instance tool.
type InstanceResponse struct {
	Snapshot *domain.Snapshot `json:"snapshot" jsonschema_description:"The instance state after the operation"`
	Choices  []domain.Choice  `json:"choices,omitempty" jsonschema_description:"Edges to pick from when the instance awaits a choice"`
	Terminal bool             `json:"terminal" jsonschema_description:"Indicates the instance has completed or aborted"`
}

// GraphInfo summarizes a published graph.
type GraphInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Revision int    `json:"revision"`
	Start    string `json:"start"`
}

// GraphList is the structured result of list_graphs.
type GraphList struct {
	Graphs []GraphInfo `json:"graphs"`
}

type startArgs struct {
	GraphID      string                     `json:"graph_id"`
	Participants []domain.ParticipantRecord `json:"participants"`
	EntryNodeID  string                     `json:"entry_node_id,omitempty"`
	Vars         map[string]any             `json:"vars,omitempty"`
}

type instanceArgs struct {
	InstanceID string `json:"instance_id"`
	Choice     string `json:"choice,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Server wraps a dialogue engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	catalog   Catalog
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, catalog Catalog, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		catalog: catalog,
		logger:  logging.NewNop(),
		mcpServer: server.NewMCPServer("parley", parley.Version,
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func instanceIDParam() mcp.ToolOption {
	return mcp.WithString("instance_id", mcp.Required(), mcp.Description("The dialogue instance id"))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_graphs",
		mcp.WithDescription("List the published dialogue graphs."),
		mcp.WithOutputSchema[GraphList](),
	), mcp.NewStructuredToolHandler(s.handleListGraphs))

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the latest published version of a graph, as JSON or as a Mermaid diagram."),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("The graph id")),
		mcp.WithString("format", mcp.Description("json (default) or mermaid"), mcp.Enum("json", "mermaid")),
	), s.handleGetGraph)

	s.mcpServer.AddTool(mcp.NewTool("start_instance",
		mcp.WithDescription("Start a dialogue instance on the latest version of a graph."),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("The graph id")),
		mcp.WithArray("participants", mcp.Required(),
			mcp.Description("One initiator, at least one responder and any number of observers"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":          map[string]any{"type": "string", "enum": []string{"initiator", "responder", "observer"}},
					"actor_id":      map[string]any{"type": "string"},
					"authoritative": map[string]any{"type": "boolean"},
				},
				"required": []string{"role", "actor_id"},
			}),
		),
		mcp.WithString("entry_node_id", mcp.Description("Start from this node instead of the graph's start node")),
		mcp.WithObject("vars", mcp.Description("Initial instance variables")),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("advance_instance",
		mcp.WithDescription("Move a running instance along one edge. At a branch, pass the edge id or target node as choice."),
		instanceIDParam(),
		mcp.WithString("choice", mcp.Description("Edge id or target node id")),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.instanceTool("advance", func(ctx context.Context, a instanceArgs) (*domain.Snapshot, error) {
		return s.engine.AdvanceInstance(ctx, a.InstanceID, a.Choice)
	})))

	s.mcpServer.AddTool(mcp.NewTool("resume_instance",
		mcp.WithDescription("Resume a paused instance."),
		instanceIDParam(),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.instanceTool("resume", func(ctx context.Context, a instanceArgs) (*domain.Snapshot, error) {
		return s.engine.ResumeInstance(ctx, a.InstanceID)
	})))

	s.mcpServer.AddTool(mcp.NewTool("pause_instance",
		mcp.WithDescription("Pause a running instance."),
		instanceIDParam(),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.instanceTool("pause", func(ctx context.Context, a instanceArgs) (*domain.Snapshot, error) {
		return s.engine.PauseInstance(ctx, a.InstanceID)
	})))

	s.mcpServer.AddTool(mcp.NewTool("abort_instance",
		mcp.WithDescription("Abort an instance. Aborted instances cannot be resumed."),
		instanceIDParam(),
		mcp.WithString("reason", mcp.Description("Free-form reason recorded in the logs")),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.instanceTool("abort", func(ctx context.Context, a instanceArgs) (*domain.Snapshot, error) {
		return s.engine.AbortInstance(ctx, a.InstanceID, a.Reason)
	})))

	s.mcpServer.AddTool(mcp.NewTool("get_snapshot",
		mcp.WithDescription("Get the current state of an instance."),
		instanceIDParam(),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.instanceTool("snapshot", func(ctx context.Context, a instanceArgs) (*domain.Snapshot, error) {
		return s.engine.Snapshot(ctx, a.InstanceID)
	})))

	s.mcpServer.AddTool(mcp.NewTool("restore_instance",
		mcp.WithDescription("Reload a saved instance from the snapshot store."),
		instanceIDParam(),
		mcp.WithOutputSchema[InstanceResponse](),
	), mcp.NewStructuredToolHandler(s.instanceTool("restore", func(ctx context.Context, a instanceArgs) (*domain.Snapshot, error) {
		return s.engine.RestoreInstance(ctx, a.InstanceID)
	})))
}

func (s *Server) handleListGraphs(_ context.Context, _ mcp.CallToolRequest, _ map[string]any) (GraphList, error) {
	return GraphList{Graphs: s.graphInfos()}, nil
}

func (s *Server) graphInfos() []GraphInfo {
	graphs := s.catalog.List()
	out := make([]GraphInfo, 0, len(graphs))
	for _, g := range graphs {
		out = append(out, GraphInfo{ID: g.ID(), Version: g.Version(), Revision: g.Revision(), Start: g.StartNodeID()})
	}
	return out
}

func (s *Server) handleGetGraph(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, err := s.catalog.Latest(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if request.GetString("format", "json") == "mermaid" {
		return mcp.NewToolResultText(mermaid.Generate(g, nil)), nil
	}
	data, err := json.Marshal(g.Draft())
	if err != nil {
		return nil, fmt.Errorf("encode graph %s: %w", id, err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args startArgs) (InstanceResponse, error) {
	if args.GraphID == "" {
		return InstanceResponse{}, errors.New("graph_id is required")
	}
	snap, err := s.engine.StartInstance(ctx, ports.StartRequest{
		GraphID:      args.GraphID,
		Participants: s.engine.Participants(args.Participants),
		EntryNodeID:  args.EntryNodeID,
		Vars:         args.Vars,
	})
	if err != nil {
		s.logger.Warn("MCP start failed", "graph_id", args.GraphID, "error", err)
		return InstanceResponse{}, describe(err)
	}
	return newInstanceResponse(snap), nil
}

func (s *Server) instanceTool(op string, call func(context.Context, instanceArgs) (*domain.Snapshot, error)) mcp.StructuredToolHandlerFunc[instanceArgs, InstanceResponse] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args instanceArgs) (InstanceResponse, error) {
		if args.InstanceID == "" {
			return InstanceResponse{}, errors.New("instance_id is required")
		}
		snap, err := call(ctx, args)
		if err != nil {
			s.logger.Warn("MCP "+op+" failed", "instance_id", args.InstanceID, "error", err)
			return InstanceResponse{}, describe(err)
		}
		return newInstanceResponse(snap), nil
	}
}

func newInstanceResponse(snap *domain.Snapshot) InstanceResponse {
	resp := InstanceResponse{Snapshot: snap, Terminal: snap.Status.Terminal()}
	if snap.Pause != nil {
		resp.Choices = snap.Pause.Choices
	}
	return resp
}

// describe prefixes the reason code so agents can branch on it.
func describe(err error) error {
	if reason := domain.ReasonOf(err); reason != "" {
		return fmt.Errorf("%s: %w", reason, err)
	}
	return err
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(graphsURI, "Published Graphs",
		mcp.WithResourceDescription("Every published dialogue graph with its version and revision"),
		mcp.WithMIMEType("application/json"),
	), func(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.graphInfos())
		if err != nil {
			return nil, fmt.Errorf("failed to encode graphs: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
