// Package packet defines the unit of transfer between the dataset backend,
// the precaching engines, and the archive backend.
package packet

import "fmt"

// Packet is an opaque binary blob with enough shape metadata to describe an
// image frame. Packets are immutable once produced; callers never mutate
// the returned bytes (I5).
type Packet struct {
	// Bytes is the contiguous payload. A nil or zero-length Bytes marks an
	// empty packet (end-of-stream or transient absence, see §7).
	Bytes []byte

	Width    int
	Height   int
	ElemSize int
	Channels int

	// Transposed marks a packet whose width/height axes are swapped
	// relative to its declared orientation; the loader facade's transform
	// capability consumes this before the packet reaches the cache.
	Transposed bool
}

// Empty reports whether p carries no payload. An empty Packet signals
// end-of-stream or transient absence and must never be enqueued by a
// Precacher worker.
func (p Packet) Empty() bool {
	return len(p.Bytes) == 0
}

// Len returns the byte length of the payload, the unit the Precacher and
// Writer use to bound memory (not packet count).
func (p Packet) Len() int {
	return len(p.Bytes)
}

// Clone returns a deep copy of p, decoupling the returned Packet's bytes
// from whatever buffer p.Bytes currently points into.
func (p Packet) Clone() Packet {
	if p.Empty() {
		return Packet{Width: p.Width, Height: p.Height, ElemSize: p.ElemSize, Channels: p.Channels, Transposed: p.Transposed}
	}
	b := make([]byte, len(p.Bytes))
	copy(b, p.Bytes)
	p.Bytes = b
	return p
}

// String renders a compact description for logging, in the same spirit as
// the teacher's Object.String/Handle.String receivers.
func (p Packet) String() string {
	return fmt.Sprintf("packet(%dx%dx%d, elem=%d, %dB)", p.Width, p.Height, p.Channels, p.ElemSize, len(p.Bytes))
}
