package writer

import (
	"container/heap"

	"github.com/evalpipe/evalpipe/packet"
)

// entry is one element of the pending set (§3 "Writer state"): an index
// and the packet most recently accepted for it.
type entry struct {
	idx uint64
	pkt packet.Packet
}

// indexedHeap is a min-heap over entry.idx that also tracks each index's
// current slot, so an existing index can be overwritten in place (W3's
// last-write-wins rule) without a linear scan. This is the spec's own
// sanctioned fallback for the ordered "pending" map (§9: "a binary heap
// also suffices because duplicate-index overwrite is rare") — see
// DESIGN.md for why no third-party ordered-map from the retrieved pack
// fit better.
type indexedHeap struct {
	h   []entry
	pos map[uint64]int // idx -> position in h
}

func newIndexedHeap() *indexedHeap {
	return &indexedHeap{pos: make(map[uint64]int)}
}

func (q *indexedHeap) Len() int           { return len(q.h) }
func (q *indexedHeap) Less(i, j int) bool { return q.h[i].idx < q.h[j].idx }
func (q *indexedHeap) Swap(i, j int) {
	q.h[i], q.h[j] = q.h[j], q.h[i]
	q.pos[q.h[i].idx] = i
	q.pos[q.h[j].idx] = j
}
func (q *indexedHeap) Push(x interface{}) {
	e := x.(entry)
	q.pos[e.idx] = len(q.h)
	q.h = append(q.h, e)
}
func (q *indexedHeap) Pop() interface{} {
	n := len(q.h)
	e := q.h[n-1]
	q.h = q.h[:n-1]
	delete(q.pos, e.idx)
	return e
}

// Upsert inserts idx/pkt, or overwrites the packet already queued at idx
// (W3: "overwrites the prior packet's bytes").
func (q *indexedHeap) Upsert(idx uint64, pkt packet.Packet) {
	if i, ok := q.pos[idx]; ok {
		q.h[i].pkt = pkt
		return
	}
	heap.Push(q, entry{idx: idx, pkt: pkt})
}

// PopMin removes and returns the entry with the smallest index (W2).
func (q *indexedHeap) PopMin() entry {
	return heap.Pop(q).(entry)
}

// Size reports the number of pending entries.
func (q *indexedHeap) Size() int { return len(q.h) }
