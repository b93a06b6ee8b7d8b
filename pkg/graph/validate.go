package graph

import (
	"fmt"

	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
)

type validation struct {
	registry *decorator.Registry
	draft    *Draft

	nodes    map[string]*domain.Node
	edgeIDs  map[string]bool
	outgoing map[string]int
	start    string

	problems []Problem
	warnings []Problem
}

func (v *validation) fail(p Problem) { v.problems = append(v.problems, p) }
func (v *validation) warn(p Problem) { v.warnings = append(v.warnings, p) }

func (v *validation) run() {
	if v.draft.ID == "" {
		v.fail(Problem{Code: ProblemMissingID, Message: "graph id is required"})
	}
	v.checkNodes()
	v.checkEdges()
	v.checkStart()
	v.checkDecorators()
	v.checkDeadEnds()
	if v.start != "" {
		v.checkReachability()
	}
}

func (v *validation) checkNodes() {
	v.nodes = make(map[string]*domain.Node, len(v.draft.Nodes))
	for i := range v.draft.Nodes {
		n := &v.draft.Nodes[i]
		if n.ID == "" {
			v.fail(Problem{Code: ProblemMissingID, Message: fmt.Sprintf("node #%d has no id", i)})
			continue
		}
		if !n.Kind.Valid() {
			v.fail(Problem{Code: ProblemUnknownKind, NodeID: n.ID, Message: fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind)})
		}
		if _, dup := v.nodes[n.ID]; dup {
			v.fail(Problem{Code: ProblemDuplicateNode, NodeID: n.ID, Message: fmt.Sprintf("duplicate node id %q", n.ID)})
			continue
		}
		v.nodes[n.ID] = n
	}
}

func (v *validation) checkEdges() {
	v.edgeIDs = make(map[string]bool, len(v.draft.Edges))
	v.outgoing = make(map[string]int)

	// Explicit ids are claimed first so generated ids never shadow them.
	for _, e := range v.draft.Edges {
		if e.ID != "" && v.edgeIDs[e.ID] {
			v.fail(Problem{Code: ProblemDuplicateEdge, EdgeID: e.ID, Message: fmt.Sprintf("duplicate edge id %q", e.ID)})
		}
		if e.ID != "" {
			v.edgeIDs[e.ID] = true
		}
	}

	for i := range v.draft.Edges {
		e := &v.draft.Edges[i]
		if e.ID == "" {
			e.ID = v.generateEdgeID(e.From, e.To)
			v.edgeIDs[e.ID] = true
		}
		if _, ok := v.nodes[e.From]; !ok {
			v.fail(Problem{Code: ProblemMissingSource, EdgeID: e.ID, Message: fmt.Sprintf("edge %q starts at missing node %q", e.ID, e.From)})
		}
		if _, ok := v.nodes[e.To]; !ok {
			v.fail(Problem{Code: ProblemMissingTarget, EdgeID: e.ID, Message: fmt.Sprintf("edge %q targets missing node %q", e.ID, e.To)})
		}
		if e.From == e.To && !e.AllowSelfLoop {
			v.fail(Problem{Code: ProblemSelfLoop, EdgeID: e.ID, NodeID: e.From, Message: fmt.Sprintf("edge %q is a self-loop on %q without allow_self_loop", e.ID, e.From)})
		}
		v.outgoing[e.From]++
	}
}

func (v *validation) generateEdgeID(from, to string) string {
	base := fmt.Sprintf("%s->%s", from, to)
	id := base
	for n := 2; v.edgeIDs[id]; n++ {
		id = fmt.Sprintf("%s#%d", base, n)
	}
	return id
}

func (v *validation) checkStart() {
	var starts []string
	for _, n := range v.draft.Nodes {
		if n.Kind == domain.NodeStart && n.ID != "" {
			starts = append(starts, n.ID)
		}
	}

	switch {
	case len(starts) == 0:
		v.fail(Problem{Code: ProblemStartNode, Message: "graph has no start node"})
		return
	case len(starts) > 1:
		v.fail(Problem{Code: ProblemStartNode, Message: fmt.Sprintf("graph has %d start nodes %v, want exactly one", len(starts), starts)})
		return
	}

	if v.draft.StartNodeID != "" && v.draft.StartNodeID != starts[0] {
		v.fail(Problem{Code: ProblemStartNode, NodeID: v.draft.StartNodeID, Message: fmt.Sprintf("declared start %q is not the start node %q", v.draft.StartNodeID, starts[0])})
		return
	}
	v.start = starts[0]
}

func (v *validation) checkDecorators() {
	seen := make(map[string]bool)
	check := func(owner string, ds []domain.Decorator, node, edge string) {
		for i := range ds {
			d := &ds[i]
			if d.ID == "" {
				d.ID = fmt.Sprintf("%s/%s#%d", owner, d.Type, i)
			}
			if seen[d.ID] {
				v.fail(Problem{Code: ProblemDuplicateDecorator, NodeID: node, EdgeID: edge, DecoratorID: d.ID, Message: fmt.Sprintf("duplicate decorator id %q", d.ID)})
				continue
			}
			seen[d.ID] = true

			kind, err := v.registry.Resolve(*d)
			if err != nil {
				v.fail(Problem{Code: ProblemDecorator, NodeID: node, EdgeID: edge, DecoratorID: d.ID, Message: err.Error()})
				continue
			}
			d.Kind = kind
		}
	}

	check("graph", v.draft.Decorators, "", "")
	for i := range v.draft.Nodes {
		n := &v.draft.Nodes[i]
		check("node:"+n.ID, n.Decorators, n.ID, "")
	}
	for i := range v.draft.Edges {
		e := &v.draft.Edges[i]
		check("edge:"+e.ID, e.Decorators, "", e.ID)
	}
}

func (v *validation) checkDeadEnds() {
	for _, n := range v.draft.Nodes {
		if n.ID == "" {
			continue
		}
		count := v.outgoing[n.ID]
		switch {
		case n.Kind != domain.NodeEnd && count == 0:
			v.fail(Problem{Code: ProblemDeadEnd, NodeID: n.ID, Message: fmt.Sprintf("node %q (%s) has no outgoing edge", n.ID, n.Kind)})
		case n.Kind == domain.NodeEnd && count > 0:
			v.warn(Problem{Code: ProblemEndHasEdges, NodeID: n.ID, Message: fmt.Sprintf("end node %q has %d outgoing edges that are never taken", n.ID, count)})
		}
	}
}

// checkReachability crawls the graph breadth-first from the start node.
func (v *validation) checkReachability() {
	adjacency := make(map[string][]string)
	for _, e := range v.draft.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	visited := map[string]bool{v.start: true}
	queue := []string{v.start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, n := range v.draft.Nodes {
		if n.ID != "" && !visited[n.ID] {
			v.warn(Problem{Code: ProblemUnreachable, NodeID: n.ID, Message: fmt.Sprintf("node %q is unreachable from start %q", n.ID, v.start)})
		}
	}
}
