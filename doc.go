/*
Package parley runs branching dialogues between a fixed set of participants.

A dialogue is a directed graph of nodes (lines, branches, events) joined by
prioritized edges. Small reusable behaviors called decorators are attached to
graphs, nodes and edges: conditions gate which edges are eligible, events emit
gameplay commands and modifiers write per-instance variables. The graph is
validated and frozen when published; every running instance owns its own
state and is driven by a single worker, so the same graph can serve any
number of concurrent conversations.

# Concept

The engine is authoritative. Every committed operation produces one frame
(a state diff plus the events it caused) with a strictly increasing sequence
number. Observers in other processes or on other machines follow an instance
by applying frames in order through a replication.Mirror; when a frame is
missing they ask the authority for a full snapshot instead of re-deriving the
state themselves.

# Graph sources

Graphs can be built in Go with pkg/dsl, or read from YAML/JSON documents,
HCL files or a Loam repository of markdown node documents (see DetectLoader).

# Usage

	eng, err := parley.New(ctx, "./dialogues")
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(ctx)

	snap, err := eng.StartInstance(ctx, ports.StartRequest{
		GraphID:      "tavern",
		Participants: eng.Participants(records),
	})

	// One step per call; branches pause until a choice is given.
	snap, err = eng.AdvanceInstance(ctx, snap.InstanceID, "")
	snap, err = eng.AdvanceInstance(ctx, snap.InstanceID, "ale")
*/
package parley
