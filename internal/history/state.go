package history

import "fmt"

// State is a copy of a pool's complete persistent state, sufficient to
// rebuild an identical pool. Slices are copies; mutating them does not
// affect the pool they came from.
type State struct {
	StoreCount  int
	BufferCount int
	Policy      string

	// Words holds StoreCount level words per buffer, buffer-contiguous.
	Words []uint64

	// Boundaries holds StoreCount-1 packed boundary bytes per buffer.
	Boundaries []uint8

	// Updates holds the lifetime observation count per buffer.
	Updates []uint64
}

// State snapshots the pool's persistent state.
func (p *Pool) State() State {
	s := State{
		StoreCount:  p.stores,
		BufferCount: p.buffers,
		Policy:      p.policy.Name(),
		Words:       make([]uint64, len(p.words)),
		Boundaries:  make([]uint8, len(p.boundaries)),
		Updates:     make([]uint64, len(p.updates)),
	}
	copy(s.Words, p.words)
	copy(s.Boundaries, p.boundaries)
	copy(s.Updates, p.updates)
	return s
}

// RestorePool rebuilds a pool from a previously captured state.
func RestorePool(s State) (*Pool, error) {
	policy, err := ParsePolicy(s.Policy)
	if err != nil {
		return nil, err
	}
	p, err := NewPoolWithPolicy(s.StoreCount, s.BufferCount, policy)
	if err != nil {
		return nil, err
	}
	if len(s.Words) != len(p.words) {
		return nil, fmt.Errorf("%w: %d level words for %d buffers of %d stores",
			ErrInvalidState, len(s.Words), s.BufferCount, s.StoreCount)
	}
	if len(s.Boundaries) != len(p.boundaries) {
		return nil, fmt.Errorf("%w: %d boundary bytes for %d buffers of %d stores",
			ErrInvalidState, len(s.Boundaries), s.BufferCount, s.StoreCount)
	}
	if len(s.Updates) != len(p.updates) {
		return nil, fmt.Errorf("%w: %d update counters for %d buffers",
			ErrInvalidState, len(s.Updates), s.BufferCount)
	}
	copy(p.words, s.Words)
	copy(p.boundaries, s.Boundaries)
	copy(p.updates, s.Updates)
	return p, nil
}
