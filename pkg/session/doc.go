/*
Package session implements snapshot persistence orchestration for dialogue instances.

The Manager is the engine's checkpointer: every committed snapshot passes through it
on its way to a ports.SnapshotStore. Writes for one instance are serialized locally
and, when a ports.DistributedLocker is configured, across replicas. Stale snapshots
never overwrite newer ones, and finished instances are removed unless retention is
requested.
*/
package session
