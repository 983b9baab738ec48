package coop

import (
	"github.com/naxaea/coop/internal/telemetry"
)

// runtimeOptions holds configuration resolved from Option values at New.
type runtimeOptions struct {
	maxCoroutines int
	stackSize     int
	allocator     StackAllocator
	logger        *telemetry.Logger
}

// Option configures a Runtime at construction time.
type Option interface {
	applyRuntime(*runtimeOptions)
}

type optionFunc func(*runtimeOptions)

func (f optionFunc) applyRuntime(opts *runtimeOptions) { f(opts) }

// WithMaxCoroutines bounds the number of simultaneously live coroutine slots
// (not counting the reserved root slot). Spawn fails with ErrNoCapacity once
// this many slots are live and none have retired. The zero value, which is
// also what New uses when this option is absent, means unbounded.
func WithMaxCoroutines(n int) Option {
	return optionFunc(func(opts *runtimeOptions) { opts.maxCoroutines = n })
}

// WithStackSize sets the default region size requested from the
// StackAllocator for spawned coroutines that don't supply their own payload
// length. Most callers size the payload explicitly at Spawn and never need
// this.
func WithStackSize(n int) Option {
	return optionFunc(func(opts *runtimeOptions) { opts.stackSize = n })
}

// WithStackAllocator overrides the default platform allocator (mmap on
// linux/darwin, heap elsewhere).
func WithStackAllocator(a StackAllocator) Option {
	return optionFunc(func(opts *runtimeOptions) { opts.allocator = a })
}

// WithLogger attaches a structured logger; Runtime emits lifecycle and
// reactor diagnostics through it. Defaults to a logger discarding everything
// below warning.
func WithLogger(l *telemetry.Logger) Option {
	return optionFunc(func(opts *runtimeOptions) { opts.logger = l })
}

func resolveOptions(opts []Option) *runtimeOptions {
	cfg := &runtimeOptions{
		stackSize: 32 * 1024,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applyRuntime(cfg)
	}
	if cfg.allocator == nil {
		cfg.allocator = defaultAllocator()
	}
	if cfg.logger == nil {
		cfg.logger = telemetry.New(telemetry.Config{Level: "warning"})
	}
	return cfg
}
