// Package store provides SQLite-backed durable storage for reconciliation
// tasks.
//
// The store is the agent's checkpoint between ticks: every pipeline stage
// reads the tasks in the status it owns and advances them one step. Nothing
// else carries state across a restart, so a crash at any point resumes from
// the last committed status.
//
// # Guarantees
//
//   - Idempotent ingest: INSERT ... ON CONFLICT DO NOTHING on both the
//     cloud id and the order number. A re-delivered order never resets
//     progress.
//   - Monotonic status: Advance is a single conditional UPDATE keyed on the
//     predecessor status, so a task can neither skip nor regress a stage.
//   - Write-once invoice: COALESCE keeps the first invoice number recorded.
//   - No deletes: the table is the audit trail.
//
// # Database Configuration
//
//   - WAL mode: status endpoint reads do not block the loop's writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Failures that leave the database unusable (corrupt file, disk full,
// read-only, I/O error) are wrapped with task.ErrStoreFatal.
package store
