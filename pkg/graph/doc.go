/*
Package graph turns authored dialogue drafts into validated, immutable graphs.

A Draft is the mutable description produced by authoring tools (the dsl
package, YAML/HCL documents, a Loam directory). Publish validates it and
returns a *Graph that is never modified again: any edit goes through a new
Publish call and yields a new version stamp, so running instances keep the
version they started with.

# Validation

Publish rejects a draft (wrapping domain.ErrInvalidGraph) when it finds:

  - duplicate node, edge or decorator ids;
  - anything other than exactly one start node;
  - edges whose source or target is missing;
  - self-loops that are not flagged with AllowSelfLoop;
  - non-end nodes without outgoing edges;
  - decorators of unknown type, mismatching kind or invalid config.

Unreachable nodes and end nodes with outgoing edges are reported as warnings.
*/
package graph
