package testfixtures

import (
	"strconv"
	"sync/atomic"
)

// IDGenerator hands out sequential slot identifiers ("slot-1", "slot-2", ...)
// so assertions can name the records a scenario creates.
type IDGenerator struct {
	prefix string
	issued atomic.Uint64
}

// NewIDGenerator returns a generator for prefix; empty selects "slot".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "slot"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) format(n uint64) string {
	return g.prefix + "-" + strconv.FormatUint(n, 10)
}

// Next issues the next identifier.
func (g *IDGenerator) Next() string {
	return g.format(g.issued.Add(1))
}

// NextFunc adapts Next for stores that take an ID source. A nil generator
// yields empty IDs.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Last returns the most recently issued identifier, or "" before the first.
func (g *IDGenerator) Last() string {
	n := g.issued.Load()
	if n == 0 {
		return ""
	}
	return g.format(n)
}

// Reset restarts the sequence at 1.
func (g *IDGenerator) Reset() {
	g.issued.Store(0)
}
