// Package engine implements the reconciliation loop.
//
// A tick runs four stages in a fixed order, each scanning the task store for
// the one status it owns:
//
//	ingest   cloud pending orders  -> PENDING
//	export   PENDING   -> write IMPORT_ORDER_<n>.csv      -> PROCESSED
//	confirm  PROCESSED -> read BILLED_<n>.txt (invoice)   -> BILLED
//	sync     BILLED    -> POST /billing/confirm           -> SYNCED
//
// The store is the checkpoint between stages and between ticks, so the loop
// can be killed at any point and resumes from the last persisted status.
// Every side effect happens before the status update that records it, which
// gives at-least-once delivery: a crash between the two repeats the side
// effect on the next tick instead of losing the order.
//
// Single worker: Run executes ticks one at a time from one goroutine. A
// scheduler signal that arrives during a tick is held (at most one) and the
// next tick starts when the current one returns; signals never stack.
//
// Failure isolation: a failure while handling one task is logged, counted
// against the task's retry counter and the stage moves on to the next task.
// Store errors abort the tick. Errors wrapping task.ErrStoreFatal also stop
// Run.
package engine
