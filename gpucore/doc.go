// Package gpucore implements a frame-pipelined rendering engine core that
// sits directly above an explicit GPU API (see [github.com/gogpu/wgpu/hal]).
//
// # Architecture
//
// Three nested-lifetime scopes drive the engine:
//
//	Context          — process-scope: owns every cache, pool, and registry.
//	InflightContext  — frame-scope: one live instance per frame slot.
//	PerThreadContext — thread-scope: one per worker inside a frame.
//
//	          +---------+
//	          | Context |
//	          +----+----+
//	               |  Begin()
//	    +----------v-----------+
//	    |   InflightContext    |   (one of FC=3 rotating frame slots)
//	    +----------+-----------+
//	               |  Begin() (one per worker)
//	    +----------v-----------+
//	    |  PerThreadContext    |
//	    +----------------------+
//
// Applications call Context.Begin once per frame, then InflightContext.Begin
// once per worker goroutine; all resource creation and recording flows
// through the resulting PerThreadContext. Three frames later the same frame
// slot is recycled: its destroy queues drain and its pools reset.
//
// # Resource families
//
// [cache.Cache] backs the global, create-info-keyed resource cache described
// in the package's design notes (LRU by last-use frame, single read-write
// lock, double-checked-locking Acquire). [PerFrameCache] is its frame-scoped,
// thread-sharded sibling. [Pool] is the reusable fixed-size bucket
// abstraction used for per-thread command encoders and sampled-image
// buckets. [Scratch]
// is the linear bump allocator for per-frame scratch buffers, and
// [TransferPump] batches staging uploads behind monotonically increasing
// tickets.
package gpucore
