package history

import "fmt"

// TransferPolicy decides how two bits evicted from a level, together
// with the boundary's resident carry, collapse into the single bit
// inserted into the level above. Implementations must be stateless;
// all persistent state lives in the boundary itself.
type TransferPolicy interface {
	// Merge combines the held bit a, the newly evicted bit b and the
	// resident carry. It returns the bit to insert into the next level
	// and the new resident carry. All values are 0 or 1.
	Merge(a, b, carry uint64) (out, newCarry uint64)

	// Name returns the policy identifier used in configuration and
	// snapshots.
	Name() string
}

// FullAdder is the standard transfer policy: a one-bit full adder
// where the carry-out (the majority of the three inputs) is the bit
// promoted to the next level and the sum's parity stays behind as the
// resident carry. Weighted hit mass is conserved across the merge.
type FullAdder struct{}

// Merge implements TransferPolicy.
func (FullAdder) Merge(a, b, carry uint64) (out, newCarry uint64) {
	sum := a + b + carry
	return sum >> 1, sum & 1
}

// Name implements TransferPolicy.
func (FullAdder) Name() string { return PolicyFullAdder }

// Policy identifiers.
const (
	PolicyFullAdder = "full-adder"
)

// ParsePolicy resolves a policy name to its implementation. An empty
// name selects the full adder.
func ParsePolicy(name string) (TransferPolicy, error) {
	switch name {
	case "", PolicyFullAdder:
		return FullAdder{}, nil
	default:
		return nil, fmt.Errorf("policy %q: %w", name, ErrUnknownPolicy)
	}
}
