package tcp

import (
	"runtime"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/naxaea/coop"
	"github.com/naxaea/coop/internal/telemetry"
)

// maxThreadCount mirrors spec.md §4.5/§6's "THREAD_COUNT ... clamped ≤ 256",
// the TCP_THREAD_COUNT bound in the original tcp.h.
const maxThreadCount = 256

// serverOptions holds configuration resolved from Option values at NewServer.
type serverOptions struct {
	threadCount int
	coopOpts    []coop.Option
	logger      *telemetry.Logger
	acceptRates map[time.Duration]int
}

// Option configures a Server at construction time.
type Option interface {
	applyServer(*serverOptions)
}

type optionFunc func(*serverOptions)

func (f optionFunc) applyServer(opts *serverOptions) { f(opts) }

// WithThreadCount overrides the worker pool size (spec.md's THREAD_COUNT),
// clamped to [1, 256]. The zero value selects runtime.NumCPU().
func WithThreadCount(n int) Option {
	return optionFunc(func(opts *serverOptions) { opts.threadCount = n })
}

// WithRuntimeOptions passes through coop.Option values applied to every
// worker's and the listener's Runtime (stack size, allocator policy,
// MAX_COROUTINES).
func WithRuntimeOptions(opts ...coop.Option) Option {
	return optionFunc(func(o *serverOptions) { o.coopOpts = append(o.coopOpts, opts...) })
}

// WithLogger attaches a structured logger; the Server and each worker log
// lifecycle and error events through it. Worker log lines carry the
// worker's id in a "worker" field; no coroutine id is attached.
func WithLogger(l *telemetry.Logger) Option {
	return optionFunc(func(opts *serverOptions) { opts.logger = l })
}

// WithAcceptRateLimit bounds how often a distinct remote address may be
// accepted, using github.com/joeycumines/go-catrate's sliding-window
// limiter, keyed by remote host. This is a supplementary feature absent
// from the original C implementation (which has no notion of per-address
// throttling at all) — see DESIGN.md for why it earns a place here despite
// spec.md's "no tracing/metrics" non-goal: it is an admission-control
// safeguard, not an observability surface.
func WithAcceptRateLimit(rates map[time.Duration]int) Option {
	return optionFunc(func(opts *serverOptions) { opts.acceptRates = rates })
}

func resolveOptions(opts []Option) *serverOptions {
	cfg := &serverOptions{}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.applyServer(cfg)
	}
	if cfg.threadCount <= 0 {
		cfg.threadCount = runtime.NumCPU()
	}
	if cfg.threadCount > maxThreadCount {
		cfg.threadCount = maxThreadCount
	}
	if cfg.logger == nil {
		cfg.logger = telemetry.New(telemetry.Config{Level: "warning"})
	}
	// Default MAX_COROUTINES per spec.md §3; a caller-supplied
	// WithMaxCoroutines in WithRuntimeOptions is applied after this one and
	// wins, since coop.resolveOptions applies options in order.
	defaults := []coop.Option{coop.WithMaxCoroutines(1024)}
	cfg.coopOpts = append(defaults, cfg.coopOpts...)
	return cfg
}

func newLimiter(rates map[time.Duration]int) *catrate.Limiter {
	if len(rates) == 0 {
		return nil
	}
	return catrate.NewLimiter(rates)
}
