/*
Package domain contains the core domain models of the Parley dialogue runtime.

It defines the entities shared by the graph model, the traversal engine and the
replication layer. This package is kept pure and free of external dependencies
like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Node: A point in a dialogue graph (start, line, branch, event or end).
  - Edge: A prioritized, decorator-gated connection between two nodes.
  - Decorator: A {kind, type, config} record resolved through a registry at runtime.
  - Participant: A role bound to an externally owned actor.
  - Snapshot: The serializable state of one dialogue instance.
  - Frame: One sequenced, committed state change mirrored to observers.
*/
package domain
