package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte ring buffer. It backs the synthesis
// playout path, where the producer (a network stream) can run far ahead
// of the paced consumer and must be bounded.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a ring buffer holding up to size-1 bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, stopping when the buffer is full. Returns the
// number of bytes written.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, b := range data {
		if (rb.write+1)%rb.size == rb.read {
			break
		}
		rb.buffer[rb.write] = b
		rb.write = (rb.write + 1) % rb.size
		written++
	}
	return written
}

// WriteOver appends data, discarding the oldest buffered bytes when the
// buffer is full. All of data is always accepted. Returns the number of
// old bytes discarded so the caller can log the overflow.
func (rb *RingBuffer) WriteOver(data []byte) (dropped int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, b := range data {
		if (rb.write+1)%rb.size == rb.read {
			// Full: advance the read cursor, losing the oldest byte.
			rb.read = (rb.read + 1) % rb.size
			dropped++
		}
		rb.buffer[rb.write] = b
		rb.write = (rb.write + 1) % rb.size
	}
	return dropped
}

// Read fills data with buffered bytes and returns the count read.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := range data {
		if rb.read == rb.write {
			break
		}
		data[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		read++
	}
	return read
}

// Available returns the number of bytes buffered for reading.
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.available()
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of bytes writable before Write starts
// rejecting (or WriteOver starts discarding).
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size - rb.available() - 1
}

// Clear discards all buffered bytes.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

// IsEmpty reports whether the buffer holds no bytes.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}
