// Package history implements a compressing multi-resolution history of
// a binary outcome stream.
//
// A buffer stores its history in S levels of one 64-bit word each.
// Level 0 holds the 64 most recent observations losslessly. When a bit
// ages out of a level it is paired with the next evicted bit and the
// pair is merged into a single bit for the level above, so level n
// stores 64 bits that each stand for 2^n raw observations. Total
// capacity is 64*(2^S - 1) raw bits in S*8 bytes of storage.
//
// Merging is done by a one-bit full adder: the carry-out (majority)
// becomes the stored bit and the parity is retained as a resident
// carry at the boundary between the two levels. Queries over windows
// that stay inside level 0 are exact; wider windows are estimates with
// an absolute error bounded by the sum of the fidelities of the
// boundaries the window crosses.
//
// A Pool tracks many independent buffers under one configuration in a
// flat arena, addressed by index. RawPool is the uncompressed variant
// of the same interface: a plain shift register with exact counts.
package history
