// Package loader implements the thin per-batch facade (§4.3): it pairs two
// Precachers, one for algorithm inputs and one for ground truth, and
// applies the transform capability object to every packet before it
// reaches either cache so cached bytes are already in their final shape.
package loader

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"

	"github.com/evalpipe/evalpipe/config"
	"github.com/evalpipe/evalpipe/internal/assert"
	"github.com/evalpipe/evalpipe/internal/metrics"
	"github.com/evalpipe/evalpipe/packet"
	"github.com/evalpipe/evalpipe/precache"
	"github.com/evalpipe/evalpipe/transform"
)

// Loader exposes GetInput(i) / GetGT(i) to the algorithm, backed by one
// Precacher per stream (§2 "Loader facade").
type Loader struct {
	input *precache.Precacher
	gt    *precache.Precacher
}

// Option configures New.
type Option func(*options)

type options struct {
	inputOpts []precache.Option
	gtOpts    []precache.Option
	inputCap  transform.Capability
	gtCap     transform.Capability
}

// WithInputShape sets the transform capability applied to every input
// packet before it reaches the input Precacher (§4.3).
func WithInputShape(spec transform.Spec) Option {
	return func(o *options) { o.inputCap = transform.New(spec) }
}

// WithGTShape sets the transform capability applied to every ground-truth
// packet before it reaches the ground-truth Precacher (§4.3).
func WithGTShape(spec transform.Spec) Option {
	return func(o *options) { o.gtCap = transform.New(spec) }
}

// WithMetrics attaches distinct metrics.Sets to the input and
// ground-truth Precachers.
func WithMetrics(input, gt *metrics.Set) Option {
	return func(o *options) {
		o.inputOpts = append(o.inputOpts, precache.WithMetrics(input))
		o.gtOpts = append(o.gtOpts, precache.WithMetrics(gt))
	}
}

// WithInputRetry wraps the input loader callback in retry.Loader(load, b)
// (§11.4), for input backends whose load can fail transiently with an
// error. An empty packet returned without error is not retried.
func WithInputRetry(b backoff.BackOff) Option {
	return func(o *options) { o.inputOpts = append(o.inputOpts, precache.WithRetry(b)) }
}

// WithGTRetry wraps the ground-truth loader callback in retry.Loader(load,
// b) (§11.4), for ground-truth backends whose load can fail transiently
// with an error. An empty packet returned without error is not retried.
func WithGTRetry(b backoff.BackOff) Option {
	return func(o *options) { o.gtOpts = append(o.gtOpts, precache.WithRetry(b)) }
}

// WithTimeouts overrides both Precachers' polling cadences (§4.1, §5); see
// precache.WithTimeouts.
func WithTimeouts(input, gt config.Precacher) Option {
	return func(o *options) {
		o.inputOpts = append(o.inputOpts, precache.WithTimeouts(input.RequestTimeout, input.QueryTimeout, input.PrefillTimeout))
		o.gtOpts = append(o.gtOpts, precache.WithTimeouts(gt.RequestTimeout, gt.QueryTimeout, gt.PrefillTimeout))
	}
}

// New builds a Loader around an input loader callback and a ground-truth
// loader callback. Neither Precacher is started until Start is called.
func New(loadInput, loadGT packet.LoaderCallback, opts ...Option) *Loader {
	assert.Require(loadInput != nil, "loader.New: loadInput callback is nil")
	assert.Require(loadGT != nil, "loader.New: loadGT callback is nil")

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	wrappedInput := withTransform(loadInput, o.inputCap)
	wrappedGT := withTransform(loadGT, o.gtCap)

	inputOpts := append([]precache.Option{precache.WithName("loader.input")}, o.inputOpts...)
	gtOpts := append([]precache.Option{precache.WithName("loader.gt")}, o.gtOpts...)

	return &Loader{
		input: precache.New(wrappedInput, inputOpts...),
		gt:    precache.New(wrappedGT, gtOpts...),
	}
}

// withTransform wraps load so every packet it returns is normalised by cap
// before the Precacher ever sees it (§9 "the normalising transforms live
// behind a small capability object").
func withTransform(load packet.LoaderCallback, capa transform.Capability) packet.LoaderCallback {
	return func(ctx context.Context, idx uint64) (packet.Packet, error) {
		pkt, err := load(ctx, idx)
		if err != nil {
			return packet.Packet{}, err
		}
		return capa.Apply(pkt), nil
	}
}

// Start starts both underlying Precachers with the given scratch
// capacities.
func (l *Loader) Start(ctx context.Context, inputBufferBytes, gtBufferBytes int64) {
	l.input.Start(ctx, inputBufferBytes)
	l.gt.Start(ctx, gtBufferBytes)
}

// Stop stops both underlying Precachers, aggregating any errors releasing
// their scratch buffers (§10.3).
func (l *Loader) Stop() error {
	return multierr.Append(l.input.Stop(), l.gt.Stop())
}

// GetInput serves the algorithm's input packet at index i (§2
// "get_input(i)").
func (l *Loader) GetInput(ctx context.Context, i uint64) (packet.Packet, error) {
	return l.input.GetPacket(ctx, i)
}

// GetGT serves the ground-truth packet at index i (§2 "get_gt(i)").
func (l *Loader) GetGT(ctx context.Context, i uint64) (packet.Packet, error) {
	return l.gt.GetPacket(ctx, i)
}

// String implements fmt.Stringer for plog.
func (l *Loader) String() string { return "loader" }

var _ fmt.Stringer = (*Loader)(nil)
