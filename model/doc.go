// Package model defines the core data types shared across the driftline
// sync engine: pagination cursors and queries, the entity rows cached in
// the local store, the remote view payloads those rows are normalized
// from, and the incremental log entry union.
//
// The types here are plain data. Behavior lives in the packages that
// consume them:
//
//   - store normalizes remote views into entity rows
//   - tile merges cached and fetched pages into tiled sequences
//   - logsync folds log entries into cursor advances and entity batches
//
// Remote view types mirror the wire payloads of the remote service but are
// deliberately decoupled from any concrete wire format; the remote package
// owns (de)serialization.
package model
