package queue

import (
	"github.com/enigma-engine/enigma-go/engine/command"
	"github.com/enigma-engine/enigma-go/engine/phase"
)

// phaseBuffer is one side of the double buffer: a fixed phase-indexed array
// of command buckets. Buckets stay nil until the first submission to their
// phase and keep their capacity across clears, so steady-state frames do not
// reallocate.
type phaseBuffer struct {
	buckets [phase.Count][]command.RenderCommand
}

func (b *phaseBuffer) count(p phase.Phase) int {
	return len(b.buckets[p])
}

func (b *phaseBuffer) total() int {
	n := 0
	for i := range b.buckets {
		n += len(b.buckets[i])
	}
	return n
}

func (b *phaseBuffer) clearPhase(p phase.Phase) {
	if b.buckets[p] != nil {
		b.buckets[p] = b.buckets[p][:0]
	}
}

func (b *phaseBuffer) clear() {
	for i := range b.buckets {
		if b.buckets[i] != nil {
			b.buckets[i] = b.buckets[i][:0]
		}
	}
}
