/*
Package observability provides tools for monitoring dialogue instances.

It includes Prometheus metrics fed by lifecycle hooks and committed frames, and
audit hooks that log every lifecycle event through slog.
*/
package observability
