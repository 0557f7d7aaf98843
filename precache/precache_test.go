package precache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalpipe/evalpipe/packet"
)

// fixedLoader serves n packets of size chunk bytes, each filled with
// byte(i%256), and an empty Packet for i>=n (scenario 3, end-of-stream).
func fixedLoader(n int, chunk int) (packet.LoaderCallback, *int64) {
	var calls int64
	return func(ctx context.Context, idx uint64) (packet.Packet, error) {
		atomic.AddInt64(&calls, 1)
		if idx >= uint64(n) {
			return packet.Packet{}, nil
		}
		b := bytes.Repeat([]byte{byte(idx % 256)}, chunk)
		return packet.Packet{Bytes: b, Width: chunk, Height: 1, ElemSize: 1, Channels: 1}, nil
	}, &calls
}

// TestSequentialDrain covers scenario 1 and P1 under sequential access.
func TestSequentialDrain(t *testing.T) {
	const chunk = 64 * 1024
	load, calls := fixedLoader(64, chunk)
	p := New(load, WithName("seq"))
	p.Start(context.Background(), 1<<20) // 1 MiB
	defer p.Stop()

	for i := uint64(0); i < 32; i++ {
		got, err := p.GetPacket(context.Background(), i)
		require.NoError(t, err)
		want := bytes.Repeat([]byte{byte(i % 256)}, chunk)
		assert.True(t, bytes.Equal(got.Bytes, want), "index %d mismatch", i)
	}
	// 16 extra packets from prefill beyond the 32 requested (C/64KiB=16),
	// plus 4 slack: fillOne loads a packet before checking that it fits, so
	// the load that finds the ring full is counted too
	assert.LessOrEqual(t, atomic.LoadInt64(calls), int64(32+16+4))
}

// TestBackwardJump covers scenario 2: after sequential access the cache
// flushes and refills correctly on a backward request.
func TestBackwardJump(t *testing.T) {
	const chunk = 64 * 1024
	load, _ := fixedLoader(64, chunk)
	p := New(load, WithName("back"))
	p.Start(context.Background(), 1<<20)
	defer p.Stop()

	for i := uint64(0); i < 8; i++ {
		_, err := p.GetPacket(context.Background(), i)
		require.NoError(t, err)
	}

	got, err := p.GetPacket(context.Background(), 2)
	require.NoError(t, err)
	want := bytes.Repeat([]byte{2}, chunk)
	assert.True(t, bytes.Equal(got.Bytes, want))
}

// TestEndOfStream covers scenario 3: indices past the end return empty
// packets and the worker keeps responding afterwards.
func TestEndOfStream(t *testing.T) {
	load, _ := fixedLoader(10, 4096)
	p := New(load, WithName("eos"))
	p.Start(context.Background(), 1<<20)
	defer p.Stop()

	for i := uint64(0); i < 10; i++ {
		got, err := p.GetPacket(context.Background(), i)
		require.NoError(t, err)
		assert.False(t, got.Empty())
	}
	for i := uint64(10); i < 13; i++ {
		got, err := p.GetPacket(context.Background(), i)
		require.NoError(t, err)
		assert.True(t, got.Empty(), "index %d should be past end of stream", i)
	}
}

// TestRandomAccessRoundTrip covers P1 under random access.
func TestRandomAccessRoundTrip(t *testing.T) {
	const n = 40
	load, _ := fixedLoader(n, 4096)
	p := New(load, WithName("rand"))
	p.Start(context.Background(), 256*1024)
	defer p.Stop()

	order := []int{5, 30, 2, 29, 31, 0, 39, 1, 20}
	for _, i := range order {
		got, err := p.GetPacket(context.Background(), uint64(i))
		require.NoError(t, err)
		want := bytes.Repeat([]byte{byte(i % 256)}, 4096)
		assert.True(t, bytes.Equal(got.Bytes, want), "index %d mismatch", i)
	}
}

// TestBypassWithoutStart covers P1/P7 with precaching disabled (the fast
// path): repeated requests for the same index must not re-enter load.
func TestBypassWithoutStart(t *testing.T) {
	load, calls := fixedLoader(10, 128)
	p := New(load, WithName("bypass"))

	got1, err := p.GetPacket(context.Background(), 3)
	require.NoError(t, err)
	afterFirst := atomic.LoadInt64(calls)

	got2, err := p.GetPacket(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, atomic.LoadInt64(calls), "repeat request must not re-invoke the loader")
	assert.True(t, bytes.Equal(got1.Bytes, got2.Bytes))
}

// TestRepeatRequestAsync covers P7 in started mode: asking twice for the
// last delivered index republishes the same slot without advancing state.
func TestRepeatRequestAsync(t *testing.T) {
	load, calls := fixedLoader(10, 128)
	p := New(load, WithName("repeat"))
	p.Start(context.Background(), 64*1024)
	defer p.Stop()

	_, err := p.GetPacket(context.Background(), 4)
	require.NoError(t, err)
	before := atomic.LoadInt64(calls)

	got2, err := p.GetPacket(context.Background(), 4)
	require.NoError(t, err)
	after := atomic.LoadInt64(calls)

	assert.Equal(t, before, after, "repeated request must not call load again")
	want := bytes.Repeat([]byte{4}, 128)
	assert.True(t, bytes.Equal(got2.Bytes, want))
}

// TestQueueContiguity covers P3/I1: after a sequence of operations the
// live queue indices form a contiguous range starting at nextExpected.
func TestQueueContiguity(t *testing.T) {
	load, _ := fixedLoader(100, 1024)
	p := New(load, WithName("contig"))
	p.Start(context.Background(), 32*1024)
	defer p.Stop()

	for i := uint64(0); i < 20; i++ {
		_, err := p.GetPacket(context.Background(), i)
		require.NoError(t, err)

		p.mu.Lock()
		for j, s := range p.queue {
			assert.Equal(t, p.nextExpected+uint64(j), s.idx)
		}
		if len(p.queue) > 0 {
			assert.Equal(t, p.nextExpected, p.queue[0].idx)
			assert.Equal(t, p.nextPrecache, p.queue[len(p.queue)-1].idx+1)
		}
		p.mu.Unlock()
	}
}

// TestBoundedMemory covers P2: occupied bytes never exceed C.
func TestBoundedMemory(t *testing.T) {
	load, _ := fixedLoader(200, 2048)
	p := New(load, WithName("bound"))
	const cap = 16 * 1024
	p.Start(context.Background(), cap)
	defer p.Stop()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.mu.Lock()
				occ := p.occupiedLocked()
				p.mu.Unlock()
				assert.LessOrEqual(t, occ, cap)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := uint64(0); i < 150; i++ {
		_, err := p.GetPacket(context.Background(), i)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

// TestWithTimeoutsOverridesDefaults covers comment #1's fix: a Precacher
// built with WithTimeouts must actually poll on the given cadences instead
// of the package defaults.
func TestWithTimeoutsOverridesDefaults(t *testing.T) {
	load, _ := fixedLoader(4, 16)
	p := New(load, WithName("timeouts"),
		WithTimeouts(2*time.Millisecond, 3*time.Millisecond, 20*time.Millisecond))
	assert.Equal(t, 2*time.Millisecond, p.requestTimeout)
	assert.Equal(t, 3*time.Millisecond, p.queryTimeout)
	assert.Equal(t, 20*time.Millisecond, p.prefillTimeout)

	p.Start(context.Background(), 1024)
	defer p.Stop()
	got, err := p.GetPacket(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 16, got.Len())
}

// TestWithTimeoutsZeroLeavesDefault ensures a zero-valued config.Precacher
// field (e.g. from an undecoded YAML document) doesn't clobber the package
// default, only a genuinely positive override does.
func TestWithTimeoutsZeroLeavesDefault(t *testing.T) {
	load, _ := fixedLoader(4, 16)
	p := New(load, WithTimeouts(0, 0, 0))
	assert.Equal(t, DefaultRequestTimeout, p.requestTimeout)
	assert.Equal(t, DefaultQueryTimeout, p.queryTimeout)
	assert.Equal(t, DefaultPrefillTimeout, p.prefillTimeout)
}

// TestWithRetryRetriesTransientLoadErrors covers comment #4's fix: WithRetry
// must wrap the loader callback so a transient error is retried before
// GetPacket ever sees it.
func TestWithRetryRetriesTransientLoadErrors(t *testing.T) {
	var attempts int64
	load := func(ctx context.Context, idx uint64) (packet.Packet, error) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return packet.Packet{}, fmt.Errorf("backend not ready yet")
		}
		return packet.Packet{Bytes: []byte{1, 2, 3, 4}}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	p := New(load, WithRetry(b))
	p.Start(context.Background(), 1024)
	defer p.Stop()

	got, err := p.GetPacket(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.Bytes)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&attempts), int64(3))
}

func ExamplePrecacher_GetPacket() {
	load, _ := fixedLoader(3, 4)
	p := New(load)
	p.Start(context.Background(), 1024)
	defer p.Stop()

	pkt, _ := p.GetPacket(context.Background(), 0)
	fmt.Println(pkt.Len())
	// Output: 4
}
