package rtcore

import "runtime"

// runtimeOptions holds configuration resolved at Build time.
type runtimeOptions struct {
	workerThreads  int
	stackSize      int
	enableIO       bool
	enableTime     bool
	queueCapacity  int
	lifoSlotEnable bool
	logger         Logger
}

// Option configures a Runtime at construction time.
type Option interface {
	apply(*runtimeOptions) error
}

type optionFunc struct {
	fn func(*runtimeOptions) error
}

func (o *optionFunc) apply(opts *runtimeOptions) error {
	return o.fn(opts)
}

// WithWorkerThreads sets the number of worker threads in the pool. Must be
// at least 1. Defaults to runtime.GOMAXPROCS(0).
func WithWorkerThreads(n int) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		if n < 1 {
			return WrapError("WithWorkerThreads", ErrConfigInvalid)
		}
		opts.workerThreads = n
		return nil
	}}
}

// WithStackSize records a goroutine stack size hint (bytes). The value is
// validated and stored only: workers always start with the Go runtime's
// default stack.
func WithStackSize(bytes int) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		if bytes < 0 {
			return WrapError("WithStackSize", ErrConfigInvalid)
		}
		opts.stackSize = bytes
		return nil
	}}
}

// WithIO enables or disables the I/O reactor (enabled by default). Disabling it lets a
// purely CPU/timer-bound runtime skip polling entirely.
func WithIO(enabled bool) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		opts.enableIO = enabled
		return nil
	}}
}

// WithTime enables or disables the timer wheel.
func WithTime(enabled bool) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		opts.enableTime = enabled
		return nil
	}}
}

// WithQueueCapacity sets the per-worker local deque capacity. Must be a
// power of two. Defaults to 256.
func WithQueueCapacity(capacity int) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		if capacity <= 0 || capacity&(capacity-1) != 0 {
			return WrapError("WithQueueCapacity: must be a power of two", ErrConfigInvalid)
		}
		opts.queueCapacity = capacity
		return nil
	}}
}

// WithLIFOSlot enables or disables the single-slot LIFO fast path each
// worker checks before its local deque. Enabled by default; disabling it
// trades latency for stricter FIFO-ish fairness between tasks on a worker.
func WithLIFOSlot(enabled bool) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		opts.lifoSlotEnable = enabled
		return nil
	}}
}

// WithLogger attaches a Logger to this Runtime specifically, overriding the
// process-wide logger set via SetStructuredLogger.
func WithLogger(logger Logger) Option {
	return &optionFunc{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies opts over the documented defaults.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		workerThreads:  runtime.GOMAXPROCS(0),
		enableIO:       true,
		enableTime:     true,
		queueCapacity:  256,
		lifoSlotEnable: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.workerThreads < 1 {
		return nil, ErrConfigInvalid
	}
	return cfg, nil
}
