package audio

import (
	"fmt"
)

// RingStore is a preallocated, fixed-capacity PCM sample store. A recording
// session appends blocks into it; appends past capacity are silently
// truncated so the store can never overflow, and the write index only resets
// when a new session begins. The store has exactly one writer at a time.
type RingStore struct {
	samples    []int16
	writeIndex int
}

// tryAlloc attempts one buffer allocation. Tests stub this to exercise the
// fallback ladder; on hosted targets make() does not fail recoverably.
var tryAlloc = func(capacity int) []int16 {
	return make([]int16, capacity)
}

// NewRingStore creates a store holding exactly capacity samples.
func NewRingStore(capacity int) (*RingStore, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ring store capacity must be at least 1 sample, got %d", capacity)
	}

	buf := tryAlloc(capacity)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate ring store of %d samples", capacity)
	}

	return &RingStore{samples: buf}, nil
}

// AllocateRingStore allocates the largest store it can, starting from
// desired samples and halving on failure, clamped so floor itself is the
// last rung tried. It returns an error only when even the floor allocation
// fails, in which case the recording feature is disabled rather than
// crashing the device.
func AllocateRingStore(desired, floor int) (*RingStore, error) {
	if floor < 1 || desired < floor {
		return nil, fmt.Errorf("invalid capacity range: desired=%d floor=%d", desired, floor)
	}

	capacity := desired
	for capacity > floor {
		if buf := tryAlloc(capacity); buf != nil {
			return &RingStore{samples: buf}, nil
		}
		capacity /= 2
		if capacity < floor {
			capacity = floor
		}
	}

	if buf := tryAlloc(capacity); buf != nil {
		return &RingStore{samples: buf}, nil
	}

	return nil, fmt.Errorf("failed to allocate ring store: even %d samples unavailable", floor)
}

// Reset rewinds the write index. Only the start of a new recording session
// calls this; the stored capacity never changes.
func (r *RingStore) Reset() {
	r.writeIndex = 0
}

// Append copies as much of block as still fits and advances the write
// index. Once the store is full further appends are a silent no-op, not an
// error: recording may continue a few ticks past its stop condition due to
// scheduling jitter and must not overflow.
func (r *RingStore) Append(block Block) int {
	free := len(r.samples) - r.writeIndex
	if free <= 0 {
		return 0
	}

	n := len(block)
	if n > free {
		n = free
	}

	copy(r.samples[r.writeIndex:], block[:n])
	r.writeIndex += n

	return n
}

// Len returns the number of samples written so far.
func (r *RingStore) Len() int {
	return r.writeIndex
}

// Capacity returns the fixed sample capacity.
func (r *RingStore) Capacity() int {
	return len(r.samples)
}

// Full reports whether the store has no room left.
func (r *RingStore) Full() bool {
	return r.writeIndex >= len(r.samples)
}

// Samples returns the written portion of the store. The slice aliases the
// store's buffer and is only stable until the next Reset.
func (r *RingStore) Samples() []int16 {
	return r.samples[:r.writeIndex]
}

// Bytes returns the written samples as little-endian PCM-16 bytes. This is
// the byte stream the transport framer chunks onto the link.
func (r *RingStore) Bytes() []byte {
	return BlockToBytes(Block(r.samples[:r.writeIndex]))
}
