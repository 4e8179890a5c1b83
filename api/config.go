package api

import "time"

// Config holds every tunable named in the external interfaces section of
// the specification. It replaces the FLAGS_* process-wide globals of the
// original implementation with a value passed explicitly at construction,
// following the same functional-options shape the teacher uses for its
// server.Config/server.ServerOption pair.
type Config struct {
	// MaxMessageSize bounds total_payload_length + 4 on the wire. Frames
	// that would exceed it are rejected with KindNetworkError and the
	// connection is torn down.
	MaxMessageSize int

	// SlowQueryThreshold is the elapsed-time warn threshold for inbound
	// calls.
	SlowQueryThreshold time.Duration

	// DumpAllTraces forces every inbound call's trace to be logged,
	// regardless of SlowQueryThreshold.
	DumpAllTraces bool

	// KeepaliveTimeout is how long a connection may sit idle (empty call
	// maps and outbound queue) before the keepalive scan destroys it.
	KeepaliveTimeout time.Duration

	// CoarseTimerGranularity is how often cur_time is refreshed and the
	// keepalive scan runs.
	CoarseTimerGranularity time.Duration

	// ReactorCount is the number of reactor threads the messenger pool
	// creates. Zero means use runtime.NumCPU().
	ReactorCount int

	// PinReactorThreads requests that each reactor thread be pinned to a
	// dedicated CPU core (best effort; see internal/affinity).
	PinReactorThreads bool
}

const (
	defaultMaxMessageSize         = 8 << 20 // 8 MiB
	defaultKeepaliveTimeout       = 65 * time.Second
	defaultCoarseTimerGranularity = 100 * time.Millisecond
)

// DefaultConfig returns the configuration spec.md's "External interfaces"
// section lists default values for.
func DefaultConfig() *Config {
	return &Config{
		MaxMessageSize:         defaultMaxMessageSize,
		SlowQueryThreshold:     time.Second,
		DumpAllTraces:          false,
		KeepaliveTimeout:       defaultKeepaliveTimeout,
		CoarseTimerGranularity: defaultCoarseTimerGranularity,
		ReactorCount:           0,
		PinReactorThreads:      false,
	}
}

// Option customizes a Config produced by DefaultConfig.
type Option func(*Config)

// WithMaxMessageSize overrides the default 8 MiB frame limit.
func WithMaxMessageSize(n int) Option {
	return func(c *Config) { c.MaxMessageSize = n }
}

// WithKeepaliveTimeout overrides the idle-connection eviction threshold.
func WithKeepaliveTimeout(d time.Duration) Option {
	return func(c *Config) { c.KeepaliveTimeout = d }
}

// WithCoarseTimerGranularity overrides the keepalive scan / clock refresh
// period.
func WithCoarseTimerGranularity(d time.Duration) Option {
	return func(c *Config) { c.CoarseTimerGranularity = d }
}

// WithReactorCount overrides the number of reactor threads the messenger
// pool creates.
func WithReactorCount(n int) Option {
	return func(c *Config) { c.ReactorCount = n }
}

// WithSlowQueryThreshold overrides the inbound-call slow-log threshold.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(c *Config) { c.SlowQueryThreshold = d }
}

// WithDumpAllTraces forces every inbound call's trace to be logged.
func WithDumpAllTraces(v bool) Option {
	return func(c *Config) { c.DumpAllTraces = v }
}

// WithPinReactorThreads requests best-effort CPU pinning for reactor
// threads.
func WithPinReactorThreads(v bool) Option {
	return func(c *Config) { c.PinReactorThreads = v }
}

// Build applies opts on top of DefaultConfig.
func Build(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}
