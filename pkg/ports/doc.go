/*
Package ports defines the driven ports (interfaces) for the Parley runtime.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, graph sources and transports.

# Key Interfaces

  - GraphLoader: Produces graph drafts from an authoring source (files, Loam, HCL).
  - SnapshotStore: Persists and loads instance snapshots for save/resume.
  - DistributedLocker: Coordinates snapshot access across replicas.
  - FrameSink: Receives committed frames in commit order for replication.
  - Checkpointer: Persists the state behind every committed frame.
  - DialogueEngine: The operation set driven by transports (HTTP, MCP, CLI).
*/
package ports
