// Package transform implements the loader facade's normalising capability
// object (§4.3, §9 "Required re-architecture"): transpose, channel padding,
// and nearest-neighbour resampling, abstracted away from any
// image-processing library so the Precacher only ever sees raw bytes.
package transform

import "github.com/evalpipe/evalpipe/packet"

// Spec describes the shape a packet must have once it leaves the
// transform, as declared by the surrounding dataset code (§4.3).
type Spec struct {
	Width, Height, Channels int
	// Align is the target byte alignment. Only Align == 4 pads, and only a
	// 3-channel packet (to 4 channels, §4.3); any other value, including 0,
	// leaves the channel count unchanged.
	Align int
}

// Capability is the small object the loader facade's collaborator supplies
// (§9: "the normalising transforms live behind a small capability object
// provided by the surrounding dataset code"). Apply runs before the packet
// reaches the Precacher's scratch buffer so cached bytes are already final.
type Capability struct {
	spec Spec
}

// New builds a Capability from the declared target shape.
func New(spec Spec) Capability { return Capability{spec: spec} }

// Apply returns p normalised against the capability's declared shape:
// transpose first (if tagged), then channel-pad, then resample. Each step
// writes into a new byte slice, so p.Bytes is never modified. An empty
// packet passes through untouched (end-of-stream must never be
// transformed, §7).
func (c Capability) Apply(p packet.Packet) packet.Packet {
	if p.Empty() {
		return p
	}
	if p.Transposed {
		p = transpose(p)
	}
	if c.spec.Align > 0 && p.Channels == 3 && c.spec.Align == 4 {
		p = padChannel(p, 4)
	}
	if c.spec.Width > 0 && c.spec.Height > 0 && (p.Width != c.spec.Width || p.Height != c.spec.Height) {
		p = resampleNearest(p, c.spec.Width, c.spec.Height)
	}
	return p
}

// transpose swaps the width/height axes of p, reordering bytes row-major
// per element (§4.3 "if the packet is tagged as transposed, swap axes").
func transpose(p packet.Packet) packet.Packet {
	stride := p.ElemSize * p.Channels
	out := make([]byte, len(p.Bytes))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			srcOff := (y*p.Width + x) * stride
			dstOff := (x*p.Height + y) * stride
			copy(out[dstOff:dstOff+stride], p.Bytes[srcOff:srcOff+stride])
		}
	}
	p.Bytes = out
	p.Width, p.Height = p.Height, p.Width
	p.Transposed = false
	return p
}

// padChannel pads p's pixel stride from its current channel count up to
// target channels, filling new channels with zero (§4.3 "pad to 4
// channels").
func padChannel(p packet.Packet, target int) packet.Packet {
	if p.Channels >= target {
		return p
	}
	srcStride := p.ElemSize * p.Channels
	dstStride := p.ElemSize * target
	out := make([]byte, p.Width*p.Height*dstStride)
	for i := 0; i < p.Width*p.Height; i++ {
		copy(out[i*dstStride:i*dstStride+srcStride], p.Bytes[i*srcStride:i*srcStride+srcStride])
	}
	p.Bytes = out
	p.Channels = target
	return p
}

// resampleNearest resamples p to (dstW, dstH) using nearest-neighbour
// interpolation (§4.3 "resample using nearest-neighbour interpolation").
func resampleNearest(p packet.Packet, dstW, dstH int) packet.Packet {
	stride := p.ElemSize * p.Channels
	out := make([]byte, dstW*dstH*stride)
	for y := 0; y < dstH; y++ {
		srcY := y * p.Height / dstH
		for x := 0; x < dstW; x++ {
			srcX := x * p.Width / dstW
			srcOff := (srcY*p.Width + srcX) * stride
			dstOff := (y*dstW + x) * stride
			copy(out[dstOff:dstOff+stride], p.Bytes[srcOff:srcOff+stride])
		}
	}
	p.Bytes = out
	p.Width, p.Height = dstW, dstH
	return p
}
