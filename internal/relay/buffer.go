package relay

import "fmt"

const (
	// DefaultBufferSize is the capacity of each direction buffer
	DefaultBufferSize = 1024

	// MaxBufferSize bounds the configurable capacity
	MaxBufferSize = 1 << 20
)

// Buffer is a fixed-capacity byte buffer with a produced and a consumed cursor.
// It always satisfies 0 <= consumed <= produced <= capacity, and both cursors
// return to zero as soon as every produced byte has been consumed.
type Buffer struct {
	data     []byte
	produced int
	consumed int
}

// NewBuffer creates an empty buffer of the given capacity
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("relay: buffer capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer capacity
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of produced bytes not yet consumed
func (b *Buffer) Len() int {
	return b.produced - b.consumed
}

// Empty reports whether every produced byte has been consumed
func (b *Buffer) Empty() bool {
	return b.consumed == b.produced
}

// HasRoom reports whether more bytes can be produced
func (b *Buffer) HasRoom() bool {
	return b.produced < len(b.data)
}

// Free returns the region new bytes are read into
func (b *Buffer) Free() []byte {
	return b.data[b.produced:]
}

// Pending returns the produced bytes waiting to be written out
func (b *Buffer) Pending() []byte {
	return b.data[b.consumed:b.produced]
}

// Cursors returns the produced and consumed offsets
func (b *Buffer) Cursors() (produced, consumed int) {
	return b.produced, b.consumed
}

// Produce records that n bytes were read into the free region
func (b *Buffer) Produce(n int) {
	if n < 0 || n > len(b.data)-b.produced {
		panic(fmt.Sprintf("relay: produce %d bytes with %d free", n, len(b.data)-b.produced))
	}
	b.produced += n
}

// Consume records that n pending bytes were written out and reports whether
// the buffer drained. A drained buffer rewinds to offset zero.
func (b *Buffer) Consume(n int) bool {
	if n < 0 || n > b.produced-b.consumed {
		panic(fmt.Sprintf("relay: consume %d bytes with %d pending", n, b.produced-b.consumed))
	}
	b.consumed += n
	if b.consumed == b.produced {
		b.produced = 0
		b.consumed = 0
		return true
	}
	return false
}
