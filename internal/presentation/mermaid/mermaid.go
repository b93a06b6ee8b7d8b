package mermaid

import (
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
)

// Overlay contains dynamic state data to visualize on the graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFrom builds an overlay from an instance snapshot.
func OverlayFrom(snap *domain.Snapshot) *Overlay {
	if snap == nil {
		return nil
	}
	return &Overlay{
		VisitedNodes: append([]string(nil), snap.History...),
		CurrentNode:  snap.CurrentNodeID,
	}
}

// Generate produces a Mermaid flowchart for a published graph.
// It applies semantic styling:
// - Start: ((Circle))
// - End: (((Double circle)))
// - Branch: {Rhombus}
// - Event: [[Subroutine]]
// - Line: [Rectangle]
// Edges show their label, priority and condition decorators; edges carrying
// actions are dotted. Overlay styles are applied if provided.
func Generate(g *graph.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes() {
		safeID := sanitizeID(node.ID)

		opener, closer := "[", "]"
		switch node.Kind {
		case domain.NodeStart:
			opener, closer = "((", "))"
		case domain.NodeEnd:
			opener, closer = "(((", ")))"
		case domain.NodeBranch:
			opener, closer = "{", "}"
		case domain.NodeEvent:
			opener, closer = "[[", "]]"
		}

		text := node.ID
		if node.Payload.Speaker != "" {
			text = fmt.Sprintf("%s <br/> %s", node.ID, escape(node.Payload.Speaker))
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, text, closer)

		for _, e := range g.Outgoing(node.ID) {
			fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow(g, e), sanitizeID(e.To))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visited := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeID(id)
			if !visited[safeID] && safeID != "" {
				visited[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func arrow(g *graph.Graph, e domain.Edge) string {
	var parts []string
	if e.Label != "" {
		parts = append(parts, escape(e.Label))
	}
	if e.Priority != 0 {
		parts = append(parts, fmt.Sprintf("p%d", e.Priority))
	}
	for _, d := range g.EdgeConditions(e.ID) {
		parts = append(parts, "["+d.Type+"]")
	}

	dotted := len(g.EdgeActions(e.ID)) > 0
	if len(parts) == 0 {
		if dotted {
			return "-.->"
		}
		return "-->"
	}
	label := strings.Join(parts, " ")
	if dotted {
		return fmt.Sprintf("-. \"%s\" .->", label)
	}
	return fmt.Sprintf("-- \"%s\" -->", label)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
