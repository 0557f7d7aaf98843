// Package precache implements the single-producer packet precacher
// (§4.1): a bounded in-memory ring of pre-decoded packets ahead of the
// consumer's current position, repaired on out-of-order access, served
// through a synchronous request/reply rendezvous with a single worker
// goroutine.
package precache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/evalpipe/evalpipe/internal/assert"
	"github.com/evalpipe/evalpipe/internal/bufpool"
	"github.com/evalpipe/evalpipe/internal/metrics"
	"github.com/evalpipe/evalpipe/internal/retry"
	"github.com/evalpipe/evalpipe/packet"
)

// slot is a cache slot (§3): a byte region inside scratch holding one
// packet's bytes, plus the index it belongs to.
type slot struct {
	idx    uint64
	offset int
	length int

	// shape metadata travels with the slot since the ring only stores raw
	// bytes; see Packet for field meaning.
	width, height, elemSize, channels int
	transposed                        bool
}

// Precacher serves GetPacket(i) in O(1) amortised time when i tracks close
// to the previous request, keeping at most C bytes of prefetched data in
// memory. Build one with New; the zero value has no loader callback or
// condition variables and is not usable.
type Precacher struct {
	name string
	load packet.LoaderCallback
	mx   *metrics.Set

	// polling cadences (§4.1, §5); overridable via WithTimeouts, otherwise
	// the package defaults in timing.go.
	requestTimeout time.Duration
	queryTimeout   time.Duration
	prefillTimeout time.Duration

	mu        sync.Mutex
	reqCond   *sync.Cond
	replyCond *sync.Cond

	// scratch / ring state, protected by mu. See §3 "Cache state".
	pool       *bufpool.Pool
	scratch    []byte
	scratchCap int
	queue      []slot // live, not-yet-delivered packets; [nextExpected, nextPrecache)
	head, tail int
	isEmpty    bool // dedicated empty flag (§9 open question) instead of overloading head==tail

	nextExpected uint64
	nextPrecache uint64

	lastDelivered    packet.Packet
	lastDeliveredSet bool

	// request/reply rendezvous
	pendingIdx int64
	pendingGen uint64
	replyGen   uint64
	replyPkt   packet.Packet
	replyErr   error

	started  bool
	shutdown bool
	workerWG sync.WaitGroup

	// bypass-mode memoisation (unstarted fast path, §4.1)
	bypassIdx   uint64
	bypassSet   bool
	bypassPkt   packet.Packet
}

// Option configures a Precacher at construction time.
type Option func(*Precacher)

// WithName sets the subject name used in logs and metrics labels.
func WithName(name string) Option {
	return func(p *Precacher) { p.name = name }
}

// WithMetrics attaches a metrics.Set; pass nil (the default) to disable
// instrumentation.
func WithMetrics(mx *metrics.Set) Option {
	return func(p *Precacher) { p.mx = mx }
}

// WithTimeouts overrides the request/query/prefill polling cadences (§4.1,
// §5) that would otherwise default to DefaultRequestTimeout/
// DefaultQueryTimeout/DefaultPrefillTimeout. A zero duration leaves the
// corresponding default in place, so config.Precacher's zero-valued fields
// (an undecoded YAML document) don't clobber the documented defaults.
func WithTimeouts(request, query, prefill time.Duration) Option {
	return func(p *Precacher) {
		if request > 0 {
			p.requestTimeout = request
		}
		if query > 0 {
			p.queryTimeout = query
		}
		if prefill > 0 {
			p.prefillTimeout = prefill
		}
	}
}

// WithRetry wraps the loader callback in retry.Loader(load, b) so transient
// backend errors (§7 "Backend error") are retried under b's policy before
// propagating out of GetPacket. Surrounding dataset code that knows a
// backend can be transiently unavailable opts into this; the Precacher
// itself still just sees a LoaderCallback (§11.4).
func WithRetry(b backoff.BackOff) Option {
	return func(p *Precacher) { p.load = retry.Loader(p.load, b) }
}

// New builds a Precacher around a loader callback. load must be
// deterministic (§6) and must not call back into the Precacher.
func New(load packet.LoaderCallback, opts ...Option) *Precacher {
	assert.Require(load != nil, "precache.New: load callback is nil")
	p := &Precacher{
		load:           load,
		name:           "precacher",
		pendingIdx:     -1,
		requestTimeout: DefaultRequestTimeout,
		queryTimeout:   DefaultQueryTimeout,
		prefillTimeout: DefaultPrefillTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.reqCond = sync.NewCond(&p.mu)
	p.replyCond = sync.NewCond(&p.mu)
	return p
}

// String implements fmt.Stringer so plog can use a Precacher as a log
// subject, in the shape of the teacher's Handle.String.
func (p *Precacher) String() string { return p.name }

// Start allocates the scratch buffer (capacity clamped per §6), resets
// state, and spawns the single worker goroutine (§4.1 Lifecycle).
func (p *Precacher) Start(ctx context.Context, bufferBytes int64) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	cap64 := clampScratch(bufferBytes)
	p.scratchCap = int(cap64)
	p.pool = bufpool.New(time.Minute, p.scratchCap, 1)
	p.scratch = p.pool.Get()
	p.isEmpty = true
	p.queue = nil
	p.head, p.tail = 0, 0
	p.nextExpected = 0
	p.nextPrecache = 0
	p.lastDelivered, p.lastDeliveredSet = packet.Packet{}, false
	p.pendingIdx = -1
	p.shutdown = false
	p.started = true
	p.mu.Unlock()

	p.workerWG.Add(1)
	go p.workerLoop(ctx)
}

// Stop sets the shutdown flag, wakes the worker, joins it, and releases
// the scratch buffer (§4.1 Lifecycle). Safe to call on an unstarted or
// already-stopped Precacher. The returned error aggregates any failure
// releasing the scratch buffer back to its pool (§10.3).
func (p *Precacher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	p.reqCond.Broadcast()
	p.mu.Unlock()

	p.workerWG.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.scratch != nil {
		p.pool.Put(p.scratch)
		err = p.pool.Flush()
		p.scratch = nil
	}
	p.started = false
	return err
}

// GetPacket serves index idx (§4.1). When the Precacher is not started it
// bypasses the cache and calls load directly, memoising the result so a
// repeat of the same index does not re-enter the callback (P7). When
// started it publishes idx to the worker and blocks until a reply arrives,
// retrying the wait forever across internal requestTimeout ticks.
func (p *Precacher) GetPacket(ctx context.Context, idx uint64) (packet.Packet, error) {
	p.mu.Lock()
	if !p.started {
		if p.bypassSet && p.bypassIdx == idx {
			pkt := p.bypassPkt
			p.mu.Unlock()
			return pkt, nil
		}
		p.mu.Unlock()
		pkt, err := p.load(ctx, idx)
		p.mu.Lock()
		p.bypassIdx, p.bypassPkt, p.bypassSet = idx, pkt, true
		p.mu.Unlock()
		return pkt, err
	}

	p.pendingGen++
	myGen := p.pendingGen
	p.pendingIdx = int64(idx)
	p.reqCond.Broadcast()

	for p.replyGen != myGen {
		if !p.timedWaitReply(p.requestTimeout) {
			// timed out: re-notify and re-wait, per §4.1.
			p.reqCond.Broadcast()
		}
	}
	pkt, err := p.replyPkt, p.replyErr
	p.mu.Unlock()

	p.mx.IncServed()
	return pkt, err
}

// timedWaitReply waits on replyCond for at most d, returning false on
// timeout. Must be called with mu held; re-acquires mu before returning,
// matching sync.Cond.Wait's contract.
func (p *Precacher) timedWaitReply(d time.Duration) bool {
	return timedWait(p.replyCond, &p.mu, d)
}

// timedWait waits on cond for at most d. A background timer broadcasts on
// cond if d elapses before a real signal arrives, letting Wait return
// either way; the caller distinguishes timeout from signal by re-checking
// its condition afterwards.
func timedWait(cond *sync.Cond, mu *sync.Mutex, d time.Duration) (signalled bool) {
	fired := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		mu.Lock()
		close(fired)
		cond.Broadcast()
		mu.Unlock()
	})
	cond.Wait()
	stopped := timer.Stop()
	if stopped {
		return true
	}
	select {
	case <-fired:
		return false
	default:
		return true
	}
}

var _ fmt.Stringer = (*Precacher)(nil)
