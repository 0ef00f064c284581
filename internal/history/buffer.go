package history

// Buffer is a view of a single pool entry with the pool's operations
// bound to one index. It holds no state of its own; copies share the
// underlying buffer.
type Buffer struct {
	pool *Pool
	idx  int
}

// Buffer returns a view of buffer i.
func (p *Pool) Buffer(i int) (Buffer, error) {
	if err := p.checkIndex(i); err != nil {
		return Buffer{}, err
	}
	return Buffer{pool: p, idx: i}, nil
}

// Index returns the buffer's index within its pool.
func (b Buffer) Index() int { return b.idx }

// Update records one new observation bit.
func (b Buffer) Update(bit uint64) error { return b.pool.Update(b.idx, bit) }

// Record records one new observation.
func (b Buffer) Record(hit bool) error { return b.pool.Record(b.idx, hit) }

// Get returns the most recently recorded bit.
func (b Buffer) Get() (uint64, error) { return b.pool.Get(b.idx) }

// Totals returns lifetime statistics.
func (b Buffer) Totals() (Totals, error) { return b.pool.Totals(b.idx) }

// History returns up to length raw history bits, most recent first.
func (b Buffer) History(length int) ([]uint8, error) {
	return b.pool.History(b.idx, length)
}

// HistoryTotals returns statistics over the trailing length
// observations.
func (b Buffer) HistoryTotals(length int) (Totals, error) {
	return b.pool.HistoryTotals(b.idx, length)
}
