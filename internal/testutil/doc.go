// Package testutil provides deterministic test doubles shared by the engine,
// status and harness tests: a stepping clock, a counting id generator, an
// in-memory task store and a recording cloud gateway.
package testutil
