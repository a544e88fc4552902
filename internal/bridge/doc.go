// Package bridge implements the file protocol between the agent and the
// in-store billing terminal.
//
// The terminal only reads and writes files in one shared directory, so the
// protocol is two messages whose transport is a file name pattern:
//
//	OrderExport          agent -> terminal   IMPORT_ORDER_<orderNumber>.csv
//	BillingConfirmation  terminal -> agent   BILLED_<orderNumber>.txt
//
// Export artifacts are written to a temporary name and renamed into place so
// the terminal never observes a partial file. Confirmation artifacts belong
// to the terminal until the agent has recorded the invoice; only then are
// they renamed to BILLED_<orderNumber>.txt.processed, which keeps them on disk
// as an audit trail while taking them out of the scan.
//
// File access goes through the Dir interface so the protocol can be tested
// against MemDir without touching the filesystem.
package bridge
