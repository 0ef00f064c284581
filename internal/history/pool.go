package history

import "fmt"

// Boundary state is packed into one byte per boundary:
// bit 0 = carry, bit 1 = hold, bit 2 = hold valid.
const (
	boundaryCarry     = 0x1
	boundaryHold      = 0x2
	boundaryHoldValid = 0x4
)

// MaxStoreCount caps the level count so that the top level's weighted
// span, 64 * 2^(S-1), still fits in a uint64.
const MaxStoreCount = 58

// Pool is a homogeneous collection of compressed history buffers.
// Storage is a flat arena: each buffer owns a contiguous run of level
// words, so buffers share no state and concurrent updates to distinct
// indices need no coordination. Updates to the same index are a
// multi-level read-modify-write and require external serialization.
type Pool struct {
	stores  int
	buffers int
	policy  TransferPolicy

	// words holds stores level words per buffer, buffer-contiguous.
	// Bit 0 of a word is the most recent bit at that level.
	words []uint64

	// boundaries holds stores-1 packed boundary bytes per buffer.
	boundaries []uint8

	// updates counts total observations per buffer.
	updates []uint64
}

// NewPool creates a pool of bufferCount zeroed buffers with storeCount
// levels each, using the full-adder transfer policy.
func NewPool(storeCount, bufferCount int) (*Pool, error) {
	return NewPoolWithPolicy(storeCount, bufferCount, FullAdder{})
}

// NewPoolWithPolicy creates a pool with an explicit transfer policy.
func NewPoolWithPolicy(storeCount, bufferCount int, policy TransferPolicy) (*Pool, error) {
	if storeCount < 1 || storeCount > MaxStoreCount {
		return nil, fmt.Errorf("store count %d: %w", storeCount, ErrInvalidStoreCount)
	}
	if bufferCount < 1 {
		return nil, fmt.Errorf("buffer count %d: %w", bufferCount, ErrInvalidBufferCount)
	}
	if policy == nil {
		policy = FullAdder{}
	}
	return &Pool{
		stores:     storeCount,
		buffers:    bufferCount,
		policy:     policy,
		words:      make([]uint64, storeCount*bufferCount),
		boundaries: make([]uint8, (storeCount-1)*bufferCount),
		updates:    make([]uint64, bufferCount),
	}, nil
}

// StoreCount returns the number of levels per buffer.
func (p *Pool) StoreCount() int { return p.stores }

// BufferCount returns the number of buffers in the pool.
func (p *Pool) BufferCount() int { return p.buffers }

// Policy returns the pool's transfer policy.
func (p *Pool) Policy() TransferPolicy { return p.policy }

func (p *Pool) checkIndex(i int) error {
	if i < 0 || i >= p.buffers {
		return fmt.Errorf("index %d of %d: %w", i, p.buffers, ErrIndexOutOfRange)
	}
	return nil
}

// wordBase returns the offset of buffer i's level 0 word.
func (p *Pool) wordBase(i int) int { return i * p.stores }

// boundaryBase returns the offset of buffer i's first boundary byte.
func (p *Pool) boundaryBase(i int) int { return i * (p.stores - 1) }

// Update records one new observation as the most recent bit of buffer
// i and cascades evicted bits toward the higher levels. The cascade
// stops at the first boundary still waiting for the second bit of a
// pair; a bit evicted from the top level is discarded. Cost is O(S).
func (p *Pool) Update(i int, bit uint64) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	if bit > 1 {
		return fmt.Errorf("bit %d: %w", bit, ErrInvalidBit)
	}

	base := p.wordBase(i)
	evicted := p.words[base] >> 63
	p.words[base] = p.words[base]<<1 | bit
	p.updates[i]++

	bbase := p.boundaryBase(i)
	for n := 0; n < p.stores-1; n++ {
		st := p.boundaries[bbase+n]
		if st&boundaryHoldValid == 0 {
			// First of a pair: park it and stop.
			st = st&boundaryCarry | boundaryHoldValid
			if evicted != 0 {
				st |= boundaryHold
			}
			p.boundaries[bbase+n] = st
			return nil
		}

		hold := uint64(st&boundaryHold) >> 1
		carry := uint64(st & boundaryCarry)
		out, newCarry := p.policy.Merge(hold, evicted, carry)
		p.boundaries[bbase+n] = uint8(newCarry & boundaryCarry)

		w := p.words[base+n+1]
		evicted = w >> 63
		p.words[base+n+1] = w<<1 | out
	}
	return nil
}

// Record is Update with a bool observation.
func (p *Pool) Record(i int, hit bool) error {
	var bit uint64
	if hit {
		bit = 1
	}
	return p.Update(i, bit)
}

// Get returns the most recently recorded bit of buffer i. A fresh
// buffer returns 0.
func (p *Pool) Get(i int) (uint64, error) {
	if err := p.checkIndex(i); err != nil {
		return 0, err
	}
	return p.words[p.wordBase(i)] & 1, nil
}

// UpdateCount returns the total number of observations ever recorded
// for buffer i.
func (p *Pool) UpdateCount(i int) (uint64, error) {
	if err := p.checkIndex(i); err != nil {
		return 0, err
	}
	return p.updates[i], nil
}

// Reset clears buffer i back to its initial empty state: all level
// words, boundary state, and the update counter.
func (p *Pool) Reset(i int) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	base := p.wordBase(i)
	for n := 0; n < p.stores; n++ {
		p.words[base+n] = 0
	}
	bbase := p.boundaryBase(i)
	for n := 0; n < p.stores-1; n++ {
		p.boundaries[bbase+n] = 0
	}
	p.updates[i] = 0
	return nil
}

// Ratios returns the lifetime hit ratio estimate for every buffer in
// the pool, indexed by buffer.
func (p *Pool) Ratios() []float64 {
	ratios := make([]float64, p.buffers)
	for i := range ratios {
		t, _ := p.Totals(i)
		ratios[i] = t.Ratio
	}
	return ratios
}

var _ BitHistory = (*Pool)(nil)
