package history

import (
	"fmt"
	"math/bits"
)

// RawPool is the full-fidelity variant of Pool: the same interface
// backed by a plain shift register of storeCount words per buffer
// with no compression. Every stored bit has fidelity 1, updates are a
// pure shift with no boundary state, and all queries are exact within
// the stored span. Lifetime hit and update counters make Totals exact
// even after bits age out.
type RawPool struct {
	stores  int
	buffers int

	// words holds stores words per buffer, buffer-contiguous. Word 0
	// bit 0 is the most recent observation; a bit evicted from word n
	// becomes bit 0 of word n+1.
	words []uint64

	hits    []uint64
	updates []uint64
}

// NewRawPool creates a pool of bufferCount zeroed full-fidelity
// buffers storing 64*storeCount raw bits each.
func NewRawPool(storeCount, bufferCount int) (*RawPool, error) {
	if storeCount < 1 {
		return nil, fmt.Errorf("store count %d: %w", storeCount, ErrInvalidStoreCount)
	}
	if bufferCount < 1 {
		return nil, fmt.Errorf("buffer count %d: %w", bufferCount, ErrInvalidBufferCount)
	}
	return &RawPool{
		stores:  storeCount,
		buffers: bufferCount,
		words:   make([]uint64, storeCount*bufferCount),
		hits:    make([]uint64, bufferCount),
		updates: make([]uint64, bufferCount),
	}, nil
}

// StoreCount returns the number of words per buffer.
func (p *RawPool) StoreCount() int { return p.stores }

// BufferCount returns the number of buffers.
func (p *RawPool) BufferCount() int { return p.buffers }

// Capacity returns the raw bit capacity of each buffer.
func (p *RawPool) Capacity() uint64 { return uint64(p.stores) * 64 }

func (p *RawPool) checkIndex(i int) error {
	if i < 0 || i >= p.buffers {
		return fmt.Errorf("index %d of %d: %w", i, p.buffers, ErrIndexOutOfRange)
	}
	return nil
}

// Update records one new observation bit for buffer i. The oldest
// stored bit falls off the end; history beyond capacity is lost but
// stays counted in the lifetime totals.
func (p *RawPool) Update(i int, bit uint64) error {
	if err := p.checkIndex(i); err != nil {
		return err
	}
	if bit > 1 {
		return fmt.Errorf("bit %d: %w", bit, ErrInvalidBit)
	}

	base := i * p.stores
	carry := bit
	for n := 0; n < p.stores; n++ {
		next := p.words[base+n] >> 63
		p.words[base+n] = p.words[base+n]<<1 | carry
		carry = next
	}
	p.updates[i]++
	p.hits[i] += bit
	return nil
}

// Record is Update with a bool observation.
func (p *RawPool) Record(i int, hit bool) error {
	var bit uint64
	if hit {
		bit = 1
	}
	return p.Update(i, bit)
}

// Get returns the most recently recorded bit of buffer i.
func (p *RawPool) Get(i int) (uint64, error) {
	if err := p.checkIndex(i); err != nil {
		return 0, err
	}
	return p.words[i*p.stores] & 1, nil
}

// Totals returns exact lifetime statistics for buffer i.
func (p *RawPool) Totals(i int) (Totals, error) {
	if err := p.checkIndex(i); err != nil {
		return Totals{}, err
	}
	hits := float64(p.hits[i])
	return Totals{Hits: hits, Updates: p.updates[i], Ratio: ratioOf(hits, p.updates[i])}, nil
}

// History returns up to length stored bits of buffer i, most recent
// first, capped at capacity and at the number of observations.
func (p *RawPool) History(i, length int) ([]uint8, error) {
	if err := p.checkIndex(i); err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, fmt.Errorf("length %d: %w", length, ErrNegativeLength)
	}

	want := uint64(length)
	if c := p.Capacity(); want > c {
		want = c
	}
	if want > p.updates[i] {
		want = p.updates[i]
	}

	out := make([]uint8, 0, want)
	base := i * p.stores
	for pos := uint64(0); pos < want; pos++ {
		w := p.words[base+int(pos>>6)]
		out = append(out, uint8(w>>(pos&63)&1))
	}
	return out, nil
}

// HistoryTotals returns exact statistics over the trailing length
// observations of buffer i, restricted to the stored span.
func (p *RawPool) HistoryTotals(i, length int) (Totals, error) {
	if err := p.checkIndex(i); err != nil {
		return Totals{}, err
	}
	if length < 0 {
		return Totals{}, fmt.Errorf("length %d: %w", length, ErrNegativeLength)
	}
	if length == 0 {
		return Totals{}, nil
	}

	updates := p.updates[i]
	if uint64(length) < updates {
		updates = uint64(length)
	}

	span := updates
	if c := p.Capacity(); span > c {
		span = c
	}

	base := i * p.stores
	var hits uint64
	for n := 0; uint64(n)*64 < span; n++ {
		w := p.words[base+n]
		rem := span - uint64(n)*64
		if rem < 64 {
			w &= uint64(1)<<rem - 1
		}
		hits += uint64(bits.OnesCount64(w))
	}

	return Totals{Hits: float64(hits), Updates: updates, Ratio: ratioOf(float64(hits), updates)}, nil
}

var _ BitHistory = (*RawPool)(nil)
