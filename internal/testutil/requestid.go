package testutil

import (
	"fmt"
	"sync"
)

// SequentialRequestIDs hands out "<prefix>-1", "<prefix>-2", ...
//
// It satisfies engine.RequestIDGenerator and keeps positions recorded by
// tests and golden snapshots stable.
type SequentialRequestIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRequestIDs creates a generator. An empty prefix means "req".
func NewSequentialRequestIDs(prefix string) *SequentialRequestIDs {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialRequestIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialRequestIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
