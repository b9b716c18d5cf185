package pipeline

import (
	"sync"

	"github.com/veilcall/morph/internal/domain"
)

// Gate enforces strictly increasing sequence numbers on the receiving
// side of a stream. Duplicates and out-of-order frames are rejected, so a
// cancelled job's late result can never be rendered.
type Gate struct {
	mu   sync.Mutex
	last map[domain.StreamKind]uint64
	seen map[domain.StreamKind]bool
}

func NewGate() *Gate {
	return &Gate{
		last: make(map[domain.StreamKind]uint64),
		seen: make(map[domain.StreamKind]bool),
	}
}

// Admit reports whether a frame with the given sequence number may be
// delivered, and records it if so.
func (g *Gate) Admit(stream domain.StreamKind, seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[stream] && seq <= g.last[stream] {
		return false
	}
	g.seen[stream] = true
	g.last[stream] = seq
	return true
}
