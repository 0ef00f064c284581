package history

import "strings"

// BitHistory is the operation set shared by the compressed Pool and
// the full-fidelity RawPool. All operations address one buffer by
// index; buffers never interact.
type BitHistory interface {
	// Update records one new observation bit for buffer i.
	Update(i int, bit uint64) error

	// Record is Update with a bool observation.
	Record(i int, hit bool) error

	// Get returns the most recently recorded bit for buffer i.
	Get(i int) (uint64, error)

	// Totals returns lifetime hit/update statistics for buffer i.
	Totals(i int) (Totals, error)

	// History returns up to length raw history bits for buffer i,
	// most recent first.
	History(i, length int) ([]uint8, error)

	// HistoryTotals returns hit/update statistics restricted to the
	// trailing length observations of buffer i.
	HistoryTotals(i, length int) (Totals, error)

	// StoreCount returns the number of levels per buffer.
	StoreCount() int

	// BufferCount returns the number of buffers.
	BufferCount() int
}

// Totals holds aggregate statistics for a buffer or a trailing window
// of one. Updates is always exact. Hits is exact while the history
// fits in level 0 and a bounded-error estimate beyond that, so it is
// reported as a float.
type Totals struct {
	Hits    float64
	Updates uint64
	Ratio   float64
}

// ratioOf computes hits/updates clamped to [0, 1]. Boundary carry
// mass can push an estimate slightly past the update count.
func ratioOf(hits float64, updates uint64) float64 {
	if updates == 0 {
		return 0
	}
	r := hits / float64(updates)
	if r > 1 {
		return 1
	}
	return r
}

// FormatBits renders a bit sequence as a string, most recent bit
// leftmost, matching the order History returns.
func FormatBits(bits []uint8) string {
	var sb strings.Builder
	sb.Grow(len(bits))
	for _, b := range bits {
		if b != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseBits parses a string of '0' and '1' runes into a bit sequence.
// Any other rune is rejected.
func ParseBits(s string) ([]uint8, error) {
	bits := make([]uint8, 0, len(s))
	for _, r := range s {
		switch r {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		default:
			return nil, ErrInvalidBit
		}
	}
	return bits, nil
}
