package history

import "errors"

// Sentinel errors returned by pool construction and operations.
var (
	// Construction errors
	ErrInvalidStoreCount  = errors.New("store count must be at least 1")
	ErrInvalidBufferCount = errors.New("buffer count must be at least 1")
	ErrUnknownPolicy      = errors.New("unknown transfer policy")

	// Operation errors
	ErrIndexOutOfRange = errors.New("buffer index out of range")
	ErrInvalidBit      = errors.New("bit must be 0 or 1")
	ErrNegativeLength  = errors.New("window length must be non-negative")

	// ErrInvalidState marks a captured pool state whose dimensions do
	// not agree with its own store and buffer counts.
	ErrInvalidState = errors.New("inconsistent pool state")
)
