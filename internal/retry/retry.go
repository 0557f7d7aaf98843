// Package retry offers an opt-in backoff decorator for LoaderCallback
// (§11.4): surrounding dataset code that knows a backend can be
// transiently unavailable (e.g. a lazily-materialising video container)
// may wrap its load callback in Loader so the Precacher never has to care.
// The core Precacher itself is never aware of this decorator — from its
// point of view load is still just a deterministic, possibly-empty
// function (§4.1, §7).
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"github.com/evalpipe/evalpipe/packet"
)

// Loader wraps load so that a non-nil error triggers b's backoff policy
// before giving up and propagating the last error. An empty Packet
// returned without error is end-of-stream, not transient absence (§7), and
// is never retried.
func Loader(load packet.LoaderCallback, b backoff.BackOff) packet.LoaderCallback {
	return func(ctx context.Context, idx uint64) (packet.Packet, error) {
		return backoff.Retry(ctx, func() (packet.Packet, error) {
			return load(ctx, idx)
		}, backoff.WithBackOff(b))
	}
}
