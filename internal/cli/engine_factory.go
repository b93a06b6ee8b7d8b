package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
)

const (
	// DefaultActor is the initiator of interactive sessions.
	DefaultActor = "player"
	// DefaultStoreDir holds the snapshots of named sessions.
	DefaultStoreDir = ".parley/sessions"

	fallbackResponder = "narrator"
)

// preferredGraphs are tried, in order, when a source holds several graphs.
var preferredGraphs = []string{"start", "main", "index"}

// createEngine initializes an engine with standard CLI conventions.
// Named sessions get a file-backed session manager and their id doubles
// as the instance id, so the snapshot file is found again on the next run.
func createEngine(ctx context.Context, opts RunOptions, logger *slog.Logger, sink ports.FrameSink) (*parley.Engine, error) {
	loader, err := parley.PathsLoader(opts.Paths...)
	if err != nil {
		return nil, err
	}

	engineOpts := []parley.Option{
		parley.WithLoader(loader),
		parley.WithLogger(logger),
		parley.WithFrameSink(sink),
	}
	if opts.Debug {
		engineOpts = append(engineOpts, parley.WithLifecycleHooks(createDebugHooks(logger)))
	}
	if opts.SessionID != "" {
		manager := session.NewManager(file.New(opts.StoreDir), session.WithLogger(logger))
		id := opts.SessionID
		engineOpts = append(engineOpts,
			parley.WithSessionManager(manager),
			parley.WithIDGenerator(func() string { return id }),
		)
	}

	engine, err := parley.New(ctx, opts.Paths[0], engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, nil
}

// determineGraph picks the graph to run when none was requested: the only
// graph, a conventional entry graph, or the graph named after the source.
func determineGraph(catalog *graph.Catalog, requested, source string) (*graph.Graph, error) {
	if requested != "" {
		return catalog.Latest(requested)
	}
	graphs := catalog.List()
	switch len(graphs) {
	case 0:
		return nil, fmt.Errorf("no graphs found in %s", source)
	case 1:
		return graphs[0], nil
	}

	candidates := append(slices.Clone(preferredGraphs), strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)))
	for _, id := range candidates {
		if g, err := catalog.Latest(id); err == nil {
			return g, nil
		}
	}

	ids := make([]string, 0, len(graphs))
	for _, g := range graphs {
		ids = append(ids, g.ID())
	}
	return nil, fmt.Errorf("%d graphs found, pick one with --graph: %s", len(graphs), strings.Join(ids, ", "))
}

// castFor makes actor the initiator and every other speaker of g a responder.
func castFor(g *graph.Graph, actor string) []domain.ParticipantRecord {
	records := []domain.ParticipantRecord{{Role: domain.RoleInitiator, ActorID: actor, Authoritative: true}}
	seen := map[string]bool{actor: true}
	for _, n := range g.Nodes() {
		speaker := n.Payload.Speaker
		if speaker == "" || seen[speaker] {
			continue
		}
		seen[speaker] = true
		records = append(records, domain.ParticipantRecord{Role: domain.RoleResponder, ActorID: speaker})
	}
	if len(records) == 1 {
		records = append(records, domain.ParticipantRecord{Role: domain.RoleResponder, ActorID: fallbackResponder})
	}
	return records
}
