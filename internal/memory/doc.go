// Package memory provides tiered storage for long-lived behavioral inferences
// about learners.
//
// Observations about a subject enter the engine as short-lived ephemeral
// records, harden into hypotheses awaiting validation, and graduate to stable
// records treated as durable traits. The package owns the record model, the
// promotion state machine, and the maintenance sweeps; producers (inference
// pipelines) and consumers (content planners) live elsewhere.
//
// # Record Identity
//
// Records are keyed by (subject, layer, key). A second write to the same
// triple merges into the existing record instead of creating a duplicate:
// content and confidence are overwritten, and the evidence count increments
// by exactly one as a single atomic store operation. Records are never
// hard-deleted; the resolved and expired statuses are soft terminal markers
// that preserve the audit trail.
//
// # Tiers
//
//   - ephemeral: raw observation with a sliding TTL, refreshed on every write
//   - hypothesis: promoted observation awaiting validation (status suspected)
//   - stable: validated trait, exempt from decay and expiry
//
// Promotion only ever advances one tier at a time and mutates the record in
// place, so a record keeps its identity for its whole lifetime.
//
// # Sweeps
//
// Two maintenance sweeps keep the working set honest. Decay steps the
// confidence of stale hypotheses down one rung per staleness window and
// resolves them once they bottom out at low. Expiration marks overdue
// ephemeral records expired across all subjects. Both are plain methods on
// the service, safe to run concurrently with writes: every sweep mutation is
// a single conditional update keyed by record ID and expected prior state.
//
// # Storage
//
// The service is stateless and talks to storage through the Store interface.
// InMemoryStore backs unit tests and dev mode; the SQLite implementation in
// internal/recordstore is the production default.
package memory
