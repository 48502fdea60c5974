package gpucore

import (
	"log/slog"

	"github.com/gogpu/wgpu/hal"
)

// Default tuning constants, named rather than inlined so later callers and
// tests can reference the same values defaultContextOptions resolves to.
const (
	// DefaultFrameDepth is FC from the data model: the number of frame
	// slots kept in flight at once.
	DefaultFrameDepth = 3

	// DefaultCollectionThreshold is the number of frames a PerFrameCache
	// entry may go unused before Collect is free to evict it.
	DefaultCollectionThreshold = 2

	// MaxShardThreads bounds the per-thread insertion shards of a
	// PerFrameCache. This is a static budget, not a silent truncation:
	// exceeding it raises ErrShardOverflow at PerThreadContext construction.
	MaxShardThreads = 32
)

// ContextOption configures a Context during construction, following the
// functional-options idiom used throughout this codebase.
type ContextOption func(*contextOptions)

type contextOptions struct {
	device               hal.Device
	frameDepth           int
	collectionThreshold  uint64
	maxShardThreads      int
	logger               *slog.Logger
}

func defaultContextOptions() contextOptions {
	return contextOptions{
		frameDepth:          DefaultFrameDepth,
		collectionThreshold: DefaultCollectionThreshold,
		maxShardThreads:     MaxShardThreads,
	}
}

// WithDevice supplies the explicit GPU API device the context drives. This
// option is required; NewContext returns an error without it.
func WithDevice(d hal.Device) ContextOption {
	return func(o *contextOptions) { o.device = d }
}

// WithFrameDepth overrides FC, the number of in-flight frame slots. Default
// is [DefaultFrameDepth] (3).
func WithFrameDepth(fc int) ContextOption {
	return func(o *contextOptions) { o.frameDepth = fc }
}

// WithCollectionThreshold sets the frame-age threshold used by the
// PerFrameCache.Collect calls the context drives at frame-slot re-entry.
// The context does not call Cache.Collect on its global caches. Default is
// [DefaultCollectionThreshold].
func WithCollectionThreshold(frames uint64) ContextOption {
	return func(o *contextOptions) { o.collectionThreshold = frames }
}

// WithMaxShardThreads overrides the PerFrameCache per-thread shard budget.
// Default is [MaxShardThreads].
func WithMaxShardThreads(n int) ContextOption {
	return func(o *contextOptions) { o.maxShardThreads = n }
}

// WithLogger attaches a logger to this Context, equivalent to calling
// SetLogger(l) before constructing it.
func WithLogger(l *slog.Logger) ContextOption {
	return func(o *contextOptions) { o.logger = l }
}
