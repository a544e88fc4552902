// Package task defines the reconciliation task, the only entity the agent
// persists.
//
// A task tracks one cloud order through the billing handoff:
//
//	PENDING -> PROCESSED -> BILLED -> SYNCED
//
// Status only moves forward, one step at a time. Each stage of the
// reconciliation loop is the single writer of its own transition, and a task
// is never deleted: the table doubles as the audit trail of every order the
// shop has billed.
package task
