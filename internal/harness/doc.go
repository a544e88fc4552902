// Package harness runs YAML reconciliation scenarios against the real engine.
//
// Each scenario gets a fresh in-memory SQLite store, an in-memory handoff
// directory and a fake cloud. Steps drive the engine one tick (or one stage)
// at a time and play the other parties: the cloud listing orders or failing,
// the billing terminal dropping confirmation files.
//
// # Scenario Format
//
//	name: happy_path
//	description: "One order travels PENDING to SYNCED"
//	orders:
//	  - id: o1
//	    order_number: ORD-100
//	    items:
//	      - { name: Red Dress, size: M, price: 100, qty: 1 }
//	    total_amount: 100
//	steps:
//	  - do: tick
//	  - do: bill
//	    order_number: ORD-100
//	    invoice: INV-555
//	  - do: tick
//	    times: 2
//	assertions:
//	  - type: task_status
//	    order_number: ORD-100
//	    status: SYNCED
//	    invoice: INV-555
//
// # Step Kinds
//
//   - tick: run a full tick (times repeats it)
//   - stage: run a single stage
//   - bill: write the confirmation for an order and remove its export
//   - write_file: write raw content into the handoff directory
//   - terminal: let the terminal simulator bill every waiting export
//   - set_orders: replace the orders the cloud lists
//   - fail_fetch: make listing fail; an empty error clears it
//   - fail_push: make confirming one order fail; an empty error clears it
//   - fail_writes: make directory writes fail; an empty error clears it
//
// # Assertion Types
//
//   - task_status: a task's status, and optionally invoice and retry count
//   - task_absent: no task exists for the order number
//   - task_count: number of tasks in a status
//   - file_exists / file_absent: a name in the handoff directory
//   - pushed: successful confirmations pushed for a cloud order id
//
// # Deterministic Testing
//
// Tick ids count up (tick-1, tick-2, ...), both clocks step by a millisecond
// and the terminal simulator numbers invoices INV-1, INV-2, ... so traces can
// be compared against golden files in testdata/golden.
package harness
