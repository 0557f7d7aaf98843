package packet

import "context"

// LoaderCallback loads the packet at index idx. It must be deterministic:
// repeated calls for the same idx return byte-identical results. It may
// return an empty Packet to signal end-of-stream or transient absence, and
// must never call back into the Precacher that invokes it.
type LoaderCallback func(ctx context.Context, idx uint64) (Packet, error)

// SinkCallback persists packet at index idx. It must tolerate being called
// concurrently for distinct indices. Its return value is forwarded verbatim
// as the synchronous-path result of Writer.Push.
type SinkCallback func(ctx context.Context, p Packet, idx uint64) (uint64, error)
