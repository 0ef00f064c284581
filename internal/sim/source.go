package sim

import "math/rand"

// BurstSource generates a bursty hit/miss stream: a two-state Markov
// chain whose runs of identical bits have geometric length with the
// configured mean. The stationary hit fraction equals the configured
// hit probability, so long streams still average out to it.
type BurstSource struct {
	rng *rand.Rand

	state    uint64
	exitHit  float64
	exitMiss float64
}

// NewBurstSource creates a source with the given stationary hit
// probability and mean burst length. meanBurst below 1 is treated
// as 1, which degenerates to independent draws.
func NewBurstSource(seed int64, hitProbability, meanBurst float64) *BurstSource {
	if meanBurst < 1 {
		meanBurst = 1
	}
	// Mean hit-run length is meanBurst; the miss-run length follows
	// from the stationary distribution p/(1-p).
	exitHit := 1 / meanBurst
	exitMiss := exitHit
	if hitProbability > 0 && hitProbability < 1 {
		exitMiss = exitHit * hitProbability / (1 - hitProbability)
		if exitMiss > 1 {
			exitMiss = 1
		}
	}

	rng := rand.New(rand.NewSource(seed))
	s := &BurstSource{
		rng:      rng,
		exitHit:  exitHit,
		exitMiss: exitMiss,
	}
	if rng.Float64() < hitProbability {
		s.state = 1
	}

	// Degenerate probabilities pin the state.
	if hitProbability <= 0 {
		s.state = 0
		s.exitMiss = 0
	}
	if hitProbability >= 1 {
		s.state = 1
		s.exitHit = 0
	}
	return s
}

// Next returns the next bit of the stream.
func (s *BurstSource) Next() uint64 {
	bit := s.state
	switch s.state {
	case 1:
		if s.rng.Float64() < s.exitHit {
			s.state = 0
		}
	default:
		if s.rng.Float64() < s.exitMiss {
			s.state = 1
		}
	}
	return bit
}
