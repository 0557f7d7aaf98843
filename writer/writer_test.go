package writer

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalpipe/evalpipe/packet"
)

func mkPacket(n int, b byte) packet.Packet {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return packet.Packet{Bytes: buf}
}

// TestOrderingSingleWorker covers P4: with one worker, sink is invoked in
// strictly ascending index order regardless of push order.
func TestOrderingSingleWorker(t *testing.T) {
	var mu sync.Mutex
	var order []uint64
	done := make(chan struct{})

	sink := func(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
		mu.Lock()
		order = append(order, idx)
		n := len(order)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
		return idx, nil
	}

	w := New(sink)
	w.Start(context.Background(), 1<<20, false, 1)

	for _, idx := range []uint64{4, 2, 0, 3, 1} {
		_, err := w.Push(context.Background(), mkPacket(16, byte(idx)), idx)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain")
	}
	w.Stop()

	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, order)
}

// TestBackpressure covers scenario 4: a full queue with drop_on_full=false
// blocks Push until a sink call completes, and every packet is eventually
// sunk.
func TestBackpressure(t *testing.T) {
	var mu sync.Mutex
	var order []uint64

	sink := func(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, idx)
		mu.Unlock()
		return idx, nil
	}

	w := New(sink)
	w.Start(context.Background(), 4*1024, false, 1)

	for idx := uint64(0); idx < 4; idx++ {
		_, err := w.Push(context.Background(), mkPacket(1024, byte(idx)), idx)
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := w.Push(context.Background(), mkPacket(1024, 4), 4)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond, "fifth push should have blocked for space")

	w.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, order)
}

// TestDropPolicy covers scenario 5 and P6: with drop_on_full=true, Push
// never blocks, and every non-dropped index is sunk exactly once in
// ascending order.
func TestDropPolicy(t *testing.T) {
	var mu sync.Mutex
	var order []uint64

	sink := func(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		order = append(order, idx)
		mu.Unlock()
		return idx, nil
	}

	w := New(sink)
	w.Start(context.Background(), 4*1024, true, 1)

	var dropped int
	for idx := uint64(0); idx < 100; idx++ {
		start := time.Now()
		_, err := w.Push(context.Background(), mkPacket(1024, byte(idx)), idx)
		assert.Less(t, time.Since(start), 50*time.Millisecond, "push must never block under drop_on_full")
		if err == ErrDropped {
			dropped++
		}
	}
	assert.Greater(t, dropped, 0, "expected some drops under fast pushing against a slow sink")

	w.Stop()
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i])
	}
}

// goroutineID returns the runtime's id of the calling goroutine, parsed
// from the "goroutine N [...]" header of its stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}

// TestConcurrentWorkers covers scenario 6: every index observed exactly
// once, and sink calls made by the same drain worker see ascending indices.
func TestConcurrentWorkers(t *testing.T) {
	const n = 1000
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	lastByThread := make(map[uint64]uint64)
	lastByThreadOK := make(map[uint64]bool)

	sink := func(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
		tid := goroutineID() // the drain worker running this call
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, seen[idx], "index %d sunk twice", idx)
		seen[idx] = true
		if lastByThreadOK[tid] {
			assert.Less(t, lastByThread[tid], idx)
		}
		lastByThread[tid] = idx
		lastByThreadOK[tid] = true
		return idx, nil
	}

	w := New(sink)
	w.Start(context.Background(), 1<<20, false, 4)

	for idx := uint64(0); idx < n; idx++ {
		_, _ = w.Push(context.Background(), mkPacket(1024, byte(idx)), idx)
	}
	w.Stop()

	assert.Len(t, seen, n)
}

// TestInactivePushIsSynchronous covers the "not active" branch of the push
// contract.
func TestInactivePushIsSynchronous(t *testing.T) {
	called := false
	sink := func(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
		called = true
		return 42, nil
	}
	w := New(sink)
	got, err := w.Push(context.Background(), mkPacket(16, 1), 7)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, uint64(42), got)
}

// TestOverwriteLastWriteWins covers the W3 overwrite rule: pushing the
// same index twice keeps byte accounting consistent with the newest
// payload.
func TestOverwriteLastWriteWins(t *testing.T) {
	release := make(chan struct{})
	var got packet.Packet
	sink := func(ctx context.Context, p packet.Packet, idx uint64) (uint64, error) {
		<-release
		got = p
		return idx, nil
	}
	w := New(sink)
	w.Start(context.Background(), 1<<20, false, 1)

	_, err := w.Push(context.Background(), mkPacket(8, 1), 0)
	require.NoError(t, err)
	_, err = w.Push(context.Background(), mkPacket(16, 2), 0)
	require.NoError(t, err)

	w.mu.Lock()
	assert.Equal(t, int64(16), w.queuedBytes)
	assert.Equal(t, 1, w.pending.Size())
	w.mu.Unlock()

	close(release)
	w.Stop()
	assert.Equal(t, 16, got.Len())
}
