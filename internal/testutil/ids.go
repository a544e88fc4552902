package testutil

import (
	"fmt"
	"sync"
)

// CountingIDGenerator returns prefix-1, prefix-2, ... without limit.
//
// Unlike engine.FixedGenerator, which panics once its list is used up, this
// suits scenarios whose tick count is data driven.
//
// Thread-safety: safe for concurrent use via internal mutex.
type CountingIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingIDGenerator creates a generator. An empty prefix means "tick".
func NewCountingIDGenerator(prefix string) *CountingIDGenerator {
	if prefix == "" {
		prefix = "tick"
	}
	return &CountingIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator interface.
func (g *CountingIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
