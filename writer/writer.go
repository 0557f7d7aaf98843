// Package writer implements the multi-worker packet writer (§4.2): it
// accepts out-of-order output packets under a byte-bounded queue, applies
// a backpressure or drop overflow policy, and drains them in ascending
// index order to a user-supplied sink.
package writer

import (
	"context"
	"errors"
	"sync"

	"github.com/evalpipe/evalpipe/internal/assert"
	"github.com/evalpipe/evalpipe/internal/metrics"
	"github.com/evalpipe/evalpipe/internal/plog"
	"github.com/evalpipe/evalpipe/packet"
)

// ErrDropped is the sentinel Push returns when drop_on_full is enabled and
// the packet was dropped for lack of room (§4.2, P6).
var ErrDropped = errors.New("writer: packet dropped, queue full")

// Writer accepts push(packet, idx) calls from the algorithm and persists
// every accepted packet through a sink callback, bounding in-flight memory
// to maxBytes (§4.2).
type Writer struct {
	name string
	sink packet.SinkCallback
	mx   *metrics.Set

	mu          sync.Mutex
	nonEmpty    *sync.Cond
	hasSpace    *sync.Cond
	pending     *indexedHeap
	queuedBytes int64

	maxBytes   int64
	dropOnFull bool
	active     bool
	workers    sync.WaitGroup
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithName sets the subject name used in logs and metrics labels.
func WithName(name string) Option {
	return func(w *Writer) { w.name = name }
}

// WithMetrics attaches a metrics.Set; pass nil (the default) to disable
// instrumentation.
func WithMetrics(mx *metrics.Set) Option {
	return func(w *Writer) { w.mx = mx }
}

// New builds a Writer around a sink callback.
func New(sink packet.SinkCallback, opts ...Option) *Writer {
	assert.Require(sink != nil, "writer.New: sink callback is nil")
	w := &Writer{sink: sink, name: "writer", pending: newIndexedHeap()}
	for _, opt := range opts {
		opt(w)
	}
	w.nonEmpty = sync.NewCond(&w.mu)
	w.hasSpace = sync.NewCond(&w.mu)
	return w
}

// String implements fmt.Stringer for plog.
func (w *Writer) String() string { return w.name }

// Start records the overflow policy, clears state, and spawns nWorkers
// drain goroutines (§4.2 Lifecycle).
func (w *Writer) Start(ctx context.Context, maxBytes int64, dropOnFull bool, nWorkers int) {
	assert.Require(nWorkers >= 1, "writer.Start: n_workers must be >= 1, got %d", nWorkers)
	w.mu.Lock()
	w.maxBytes = maxBytes
	w.dropOnFull = dropOnFull
	w.pending = newIndexedHeap()
	w.queuedBytes = 0
	w.active = true
	w.mu.Unlock()

	for i := 0; i < nWorkers; i++ {
		w.workers.Add(1)
		go w.drainLoop(ctx)
	}
}

// Stop sets active=false, wakes every worker, and joins them. Workers
// drain all remaining pending entries before exiting even though active is
// already false (§4.2 Lifecycle).
func (w *Writer) Stop() {
	w.mu.Lock()
	w.active = false
	w.nonEmpty.Broadcast()
	w.mu.Unlock()

	w.workers.Wait()
}

// Push accepts packet p at index idx (§4.2 "push contract"). When the
// Writer is not active it calls sink synchronously. When active and
// accepting p would not exceed maxBytes it copies p's bytes, stores it,
// and returns its position in the ordered map (its index, since that is
// what determines drain order). On overflow it either blocks
// (drop_on_full == false) or drops the packet and returns ErrDropped
// (drop_on_full == true).
func (w *Writer) Push(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return w.sink(ctx, p, idx)
	}

	cp := p.Clone()
	length := int64(cp.Len())

	for w.queuedBytes+length > w.maxBytes {
		if w.dropOnFull {
			w.mu.Unlock()
			w.mx.IncDropped()
			plog.Debugf(w, "dropped idx=%d len=%d (queue full)", idx, length)
			return 0, ErrDropped
		}
		w.hasSpace.Wait()
		if !w.active {
			w.mu.Unlock()
			return w.sink(ctx, p, idx)
		}
	}

	w.upsertLocked(idx, cp, length)
	w.nonEmpty.Broadcast()
	w.mu.Unlock()
	return idx, nil
}

// upsertLocked inserts or overwrites the entry at idx (W3 last-write-wins)
// and keeps queuedBytes consistent with the sum of pending lengths (W1).
// Must be called with mu held.
func (w *Writer) upsertLocked(idx uint64, p packet.Packet, newLen int64) {
	if i, ok := w.pending.pos[idx]; ok {
		w.queuedBytes -= int64(w.pending.h[i].pkt.Len())
	}
	w.pending.Upsert(idx, p)
	w.queuedBytes += newLen
	w.mx.SetQueuedBytes(float64(w.queuedBytes))
	w.mx.SetQueueDepth(float64(w.pending.Size()))
}

// drainLoop is one Writer worker (§4.2 "Worker loop"). Each worker takes
// the smallest pending index, releases the mutex, calls sink, then
// signals has-space before looping.
func (w *Writer) drainLoop(ctx context.Context) {
	defer w.workers.Done()
	for {
		w.mu.Lock()
		for w.pending.Size() == 0 && w.active {
			w.nonEmpty.Wait()
		}
		if w.pending.Size() == 0 {
			w.mu.Unlock()
			return
		}
		e := w.pending.PopMin()
		w.queuedBytes -= int64(e.pkt.Len())
		w.mx.SetQueuedBytes(float64(w.queuedBytes))
		w.mx.SetQueueDepth(float64(w.pending.Size()))
		w.mu.Unlock()

		if _, err := w.sink(ctx, e.pkt, e.idx); err != nil {
			// sink errors are the sink's own responsibility (§7); the
			// Writer neither retries nor requeues.
			plog.Errorf(w, "sink(%d) returned error: %v", e.idx, err)
		}
		w.mx.IncServed()

		w.mu.Lock()
		w.hasSpace.Broadcast()
		w.mu.Unlock()
	}
}
