package history

import (
	"fmt"
	"math/bits"
)

// Totals returns lifetime statistics for buffer i. Updates is the
// exact observation count. Hits weights each stored bit by its level's
// fidelity and adds each boundary's pending hold bit and resident
// carry at boundary weight: the hold is an observed bit not yet
// committed upward and the carry is hit mass rounded out of a merge.
func (p *Pool) Totals(i int) (Totals, error) {
	if err := p.checkIndex(i); err != nil {
		return Totals{}, err
	}

	base := p.wordBase(i)
	var hits float64
	for n := 0; n < p.stores; n++ {
		fid := uint64(1) << n
		hits += float64(bits.OnesCount64(p.words[base+n])) * float64(fid)
	}

	bbase := p.boundaryBase(i)
	for n := 0; n < p.stores-1; n++ {
		st := p.boundaries[bbase+n]
		fid := float64(uint64(1) << n)
		if st&boundaryHoldValid != 0 && st&boundaryHold != 0 {
			hits += fid
		}
		if st&boundaryCarry != 0 {
			hits += fid
		}
	}

	updates := p.updates[i]
	return Totals{Hits: hits, Updates: updates, Ratio: ratioOf(hits, updates)}, nil
}

// Span returns the number of raw history positions currently
// representable for buffer i: 64 word bits per level at that level's
// fidelity, plus each pending hold bit at its boundary's fidelity.
// Carries occupy no raw position.
func (p *Pool) Span(i int) (uint64, error) {
	if err := p.checkIndex(i); err != nil {
		return 0, err
	}
	span := uint64(64) * ((uint64(1) << p.stores) - 1)
	bbase := p.boundaryBase(i)
	for n := 0; n < p.stores-1; n++ {
		if p.boundaries[bbase+n]&boundaryHoldValid != 0 {
			span += uint64(1) << n
		}
	}
	return span, nil
}

// History reconstructs up to length raw history bits for buffer i,
// most recent first. Bits inside level 0 are exact. A bit stored at
// level n expands to 2^n copies of itself, the engine's best single
// estimate for that span. A pending hold bit sits in its
// chronological slot: older than all of its level's word, newer than
// everything above. The result is capped at the stored span and at
// the number of observations actually recorded.
func (p *Pool) History(i, length int) ([]uint8, error) {
	if err := p.checkIndex(i); err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, fmt.Errorf("length %d: %w", length, ErrNegativeLength)
	}

	want := uint64(length)
	if span, _ := p.Span(i); want > span {
		want = span
	}
	if want > p.updates[i] {
		want = p.updates[i]
	}
	if want == 0 {
		return []uint8{}, nil
	}

	out := make([]uint8, 0, want)
	base := p.wordBase(i)
	bbase := p.boundaryBase(i)

	for n := 0; n < p.stores && uint64(len(out)) < want; n++ {
		fid := uint64(1) << n
		w := p.words[base+n]
		for pos := 0; pos < 64 && uint64(len(out)) < want; pos++ {
			b := uint8(w >> pos & 1)
			for k := uint64(0); k < fid && uint64(len(out)) < want; k++ {
				out = append(out, b)
			}
		}
		if n < p.stores-1 && uint64(len(out)) < want {
			st := p.boundaries[bbase+n]
			if st&boundaryHoldValid != 0 {
				b := uint8(st&boundaryHold) >> 1
				for k := uint64(0); k < fid && uint64(len(out)) < want; k++ {
					out = append(out, b)
				}
			}
		}
	}
	return out, nil
}

// HistoryTotals returns statistics restricted to the trailing length
// observations of buffer i. Updates is min(length, observations so
// far), exact. Hits is exact for the part of the window inside level
// 0 and a fidelity-weighted estimate beyond it; each boundary the
// window crosses contributes its pending hold at face value and its
// carry as uncertain hit mass, bounding the absolute error by the sum
// of the crossed boundaries' fidelities.
func (p *Pool) HistoryTotals(i, length int) (Totals, error) {
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

	base := p.wordBase(i)
	bbase := p.boundaryBase(i)
	remaining := updates
	var hits float64

	for n := 0; n < p.stores && remaining > 0; n++ {
		fid := uint64(1) << n
		levelSpan := fid << 6
		w := p.words[base+n]

		if remaining >= levelSpan {
			hits += float64(bits.OnesCount64(w)) * float64(fid)
			remaining -= levelSpan
		} else {
			// Window ends inside this level: full stored bits first,
			// then the fractional share of the next one.
			full := remaining / fid
			frac := remaining % fid
			if full > 0 {
				mask := uint64(1)<<full - 1
				hits += float64(bits.OnesCount64(w&mask)) * float64(fid)
			}
			if frac > 0 {
				hits += float64(w>>full&1) * float64(frac)
			}
			remaining = 0
		}

		if n < p.stores-1 && remaining > 0 {
			st := p.boundaries[bbase+n]
			if st&boundaryCarry != 0 {
				take := fid
				if remaining < take {
					take = remaining
				}
				hits += float64(take)
			}
			if st&boundaryHoldValid != 0 {
				take := fid
				if remaining < take {
					take = remaining
				}
				if st&boundaryHold != 0 {
					hits += float64(take)
				}
				remaining -= take
			}
		}
	}

	return Totals{Hits: hits, Updates: updates, Ratio: ratioOf(hits, updates)}, nil
}
