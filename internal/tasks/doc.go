// Package tasks runs bulk share operations with real-time progress reporting.
//
// # Health Check
//
// [Checker.CheckOwner] resolves the token of every share an owner created:
//
//   - Lists the owner's shares from the store
//   - Feeds share codes to a bounded worker pool behind a rate limiter
//   - Each worker runs the full token lifecycle (liveness check, refresh, persist)
//   - Returns a [CheckReport] with per-share outcomes, in listing order
//
// A share that fails does not stop the others. Only a failure to list the shares
// is returned as an error.
//
// # Progress Reporting
//
// # All operations use non-blocking channels for progress updates
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
package tasks
