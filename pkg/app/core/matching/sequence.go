package matching

import "sync/atomic"

// Sequencer hands out strictly increasing sequence numbers. Orders take one on
// acceptance, which fixes their time priority; trades and events take one on commit.
type Sequencer struct {
	next atomic.Uint64
}

func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
