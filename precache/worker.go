package precache

import (
	"context"
	"time"

	"github.com/evalpipe/evalpipe/internal/plog"
	"github.com/evalpipe/evalpipe/packet"
)

// workerLoop is the Precacher's single worker goroutine (§4.1 Worker
// loop / state machine). It prefills, then alternates between serving
// requests and opportunistic filling until told to shut down.
func (p *Precacher) workerLoop(ctx context.Context) {
	defer p.workerWG.Done()
	p.prefill(ctx)

	for {
		p.mu.Lock()
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		if p.pendingGen == p.replyGen {
			// no fresh request published; wait up to p.queryTimeout.
			if !timedWait(p.reqCond, &p.mu, p.queryTimeout) {
				// timeout: opportunistic fill if usage is low.
				if p.shutdown {
					p.mu.Unlock()
					return
				}
				if p.occupiedLocked() < p.scratchCap/4 {
					p.mu.Unlock()
					p.fillBudgeted(ctx, 10)
					continue
				}
				p.mu.Unlock()
				continue
			}
			if p.shutdown {
				p.mu.Unlock()
				return
			}
			if p.pendingGen == p.replyGen {
				// spurious wake with nothing new to serve.
				p.mu.Unlock()
				continue
			}
		}
		r := p.pendingIdx
		gen := p.pendingGen
		p.mu.Unlock()
		p.serve(ctx, r, gen)
	}
}

// prefill is the best-effort warm-up pass (§4.1 Prefill): enqueue packets
// from index 0 until the scratch is full, the callback returns empty, or
// p.prefillTimeout elapses.
func (p *Precacher) prefill(ctx context.Context) {
	deadline := time.Now().Add(p.prefillTimeout)
	for {
		if time.Now().After(deadline) {
			plog.Debugf(p, "prefill stopped: timeout")
			return
		}
		p.mu.Lock()
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		ok, empty := p.fillOne(ctx)
		if empty {
			plog.Debugf(p, "prefill stopped: end of stream")
			return
		}
		if !ok {
			plog.Debugf(p, "prefill stopped: scratch full")
			return
		}
	}
}

// fillBudgeted performs the steady-state opportunistic fill (§4.1
// Filling): up to max packets, stopping early on overflow or an empty
// packet.
func (p *Precacher) fillBudgeted(ctx context.Context, max int) {
	for i := 0; i < max; i++ {
		p.mu.Lock()
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		ok, empty := p.fillOne(ctx)
		if empty || !ok {
			return
		}
	}
}

// fillOne loads the next packet to precache and places it in the ring if
// it fits. It returns ok=false when the ring has no room for it (fill
// budget effectively exhausted for now) and empty=true when the callback
// reports end-of-stream.
func (p *Precacher) fillOne(ctx context.Context) (ok bool, empty bool) {
	p.mu.Lock()
	idx := p.nextPrecache
	p.mu.Unlock()

	pkt, err := p.load(ctx, idx)
	if err != nil {
		plog.Errorf(p, "prefetch load(%d) failed: %v", idx, err)
		return false, false
	}
	if pkt.Empty() {
		return false, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	offset, placeable := p.tryPlaceLocked(pkt.Len())
	if !placeable {
		return false, false
	}
	copy(p.scratch[offset:offset+pkt.Len()], pkt.Bytes)
	p.queue = append(p.queue, slot{
		idx: idx, offset: offset, length: pkt.Len(),
		width: pkt.Width, height: pkt.Height, elemSize: pkt.ElemSize,
		channels: pkt.Channels, transposed: pkt.Transposed,
	})
	p.nextPrecache++
	p.mx.SetQueueDepth(float64(len(p.queue)))
	p.mx.SetUsedBytes(float64(p.occupiedLocked()))
	return true, false
}

// occupiedLocked returns the current occupied byte count (I2). Must be
// called with mu held.
func (p *Precacher) occupiedLocked() int {
	if p.isEmpty {
		return 0
	}
	o := ((p.tail - p.head) + p.scratchCap) % p.scratchCap
	if o == 0 {
		return p.scratchCap
	}
	return o
}

// tryPlaceLocked decides where a packet of length bytes can be written at
// the current tail without straddling the wrap boundary (I3) or
// overwriting a live packet (I2). Must be called with mu held; on success
// it updates tail/isEmpty/head bookkeeping for the caller to append a slot.
func (p *Precacher) tryPlaceLocked(length int) (offset int, ok bool) {
	if length > p.scratchCap {
		return 0, false
	}
	free := p.scratchCap - p.occupiedLocked()
	if length > free {
		return 0, false
	}
	if p.isEmpty {
		p.head, p.tail = 0, length
		p.isEmpty = false
		return 0, true
	}
	if p.tail+length <= p.scratchCap {
		off := p.tail
		p.tail = (p.tail + length) % p.scratchCap
		return off, true
	}
	// would straddle the end of the array; wrap to 0 if the prefix is free.
	if length <= p.head {
		p.tail = length
		return 0, true
	}
	return 0, false
}

// serve handles one published request (§4.1 "Request arrived"). r==-1
// cannot reach here since a publish always sets a non-negative index.
func (p *Precacher) serve(ctx context.Context, r int64, gen uint64) {
	idx := uint64(r)

	p.mu.Lock()
	switch {
	case p.lastDeliveredSet && idx+1 == p.nextExpected:
		// repeat of the packet just delivered: republish the same slot.
		p.publishReply(gen, p.lastDelivered, nil)
		p.mu.Unlock()
		return

	case idx >= p.nextExpected && idx < p.nextPrecache && len(p.queue) > 0:
		pos := int(idx - p.nextExpected)
		// discard skipped-over entries; advancing head to the delivered
		// slot's offset keeps its bytes occupied (and so un-overwritable)
		// until the next request moves head again.
		discarded := p.queue[:pos]
		found := p.queue[pos]
		p.head = found.offset
		p.queue = append([]slot(nil), p.queue[pos+1:]...)
		p.nextExpected = idx + 1
		pkt := p.packetFromSlot(found)
		p.lastDelivered, p.lastDeliveredSet = pkt, true
		p.mx.SetQueueDepth(float64(len(p.queue)))
		_ = discarded
		p.publishReply(gen, pkt, nil)
		p.mu.Unlock()
		return
	}

	// gap, backward jump, or empty queue: flush and reload synchronously.
	p.queue = nil
	p.isEmpty = true
	p.head, p.tail = 0, 0
	p.mx.SetQueueDepth(0)
	p.mx.IncFlushed()
	p.mu.Unlock()

	pkt, err := p.load(ctx, idx)

	p.mu.Lock()
	p.nextExpected = idx + 1
	p.nextPrecache = idx + 1
	p.lastDelivered, p.lastDeliveredSet = pkt, true
	p.publishReply(gen, pkt, err)
	p.mu.Unlock()
}

// packetFromSlot builds the Packet view handed to the consumer for a
// ring-resident slot. Must be called with mu held.
func (p *Precacher) packetFromSlot(s slot) packet.Packet {
	return packet.Packet{
		Bytes:      p.scratch[s.offset : s.offset+s.length : s.offset+s.length],
		Width:      s.width,
		Height:     s.height,
		ElemSize:   s.elemSize,
		Channels:   s.channels,
		Transposed: s.transposed,
	}
}

// publishReply hands pkt/err to the waiting caller. Must be called with
// mu held.
func (p *Precacher) publishReply(gen uint64, pkt packet.Packet, err error) {
	p.replyPkt, p.replyErr = pkt, err
	p.replyGen = gen
	p.replyCond.Broadcast()
}
