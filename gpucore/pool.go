package gpucore

import "sync"

// Pool manages reusable buckets of T across FC rotating frame slots. It owns
// a store of idle buckets plus FC per-frame colonies of buckets currently in
// use, per the design in Pool<T, FC>. Buckets are never allocated once the
// working set is steady: AcquireOneInto only allocates when the store is
// empty, and Reset always returns every bucket held by a slot back to the
// store.
//
// Pool is safe for concurrent use; a single lock protects the movement of
// buckets between the store and the per-frame colonies, matching the "Pool
// lock" entry in the concurrency model.
type Pool[T any] struct {
	mu sync.Mutex

	newFn   func() T
	resetFn func(*T)
	freeFn  func(T)

	store    []T
	colonies []*arena[T]
}

// NewPool constructs a pool with fc frame slots. newFn allocates a fresh
// bucket, resetFn rewinds a bucket for reuse (called by Reset before it is
// returned to the store), and freeFn releases a bucket's external resources
// permanently (called only at Free).
func NewPool[T any](fc int, newFn func() T, resetFn func(*T), freeFn func(T)) *Pool[T] {
	p := &Pool[T]{
		newFn:    newFn,
		resetFn:  resetFn,
		freeFn:   freeFn,
		colonies: make([]*arena[T], fc),
	}
	for i := range p.colonies {
		p.colonies[i] = newArena[T]()
	}
	return p
}

// Reset rewinds every bucket currently held in slot f and moves them all
// back into the idle store. It must be called exactly once per transition
// into slot f, before any acquisition on that slot — the invariant
// property tests verify as "pool reset exactness".
func (p *Pool[T]) Reset(f int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	colony := p.colonies[f]
	colony.DrainEach(func(_ Handle, bucket T) {
		p.resetFn(&bucket)
		p.store = append(p.store, bucket)
	})
}

// AcquireOneInto pops one bucket from the store, or constructs a new one if
// the store is empty, and inserts it into slot f's colony. Returns a stable
// handle valid until the next Reset(f).
func (p *Pool[T]) AcquireOneInto(f int) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	var bucket T
	if n := len(p.store); n > 0 {
		bucket = p.store[n-1]
		p.store = p.store[:n-1]
	} else {
		bucket = p.newFn()
	}
	return p.colonies[f].Insert(bucket)
}

// Get returns the bucket referenced by h within slot f.
func (p *Pool[T]) Get(f int, h Handle) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colonies[f].Get(h)
}

// Each visits every bucket currently held by slot f without removing it,
// in acquisition order. Used to collect a frame's per-thread command
// encoders for submission without disturbing the colony Reset will later
// drain.
func (p *Pool[T]) Each(f int, fn func(Handle, T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.colonies[f].Each(fn)
}

// Free releases every bucket — idle or held by any slot — exactly once.
// Called during Context teardown after the device has gone idle.
func (p *Pool[T]) Free() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.store {
		p.freeFn(b)
	}
	p.store = nil

	for _, colony := range p.colonies {
		colony.DrainEach(func(_ Handle, bucket T) {
			p.freeFn(bucket)
		})
	}
}

// View returns a frame-scoped accessor for slot f. Constructing a View does
// not itself call Reset: the InflightContext is responsible for calling
// Reset(f) exactly once at frame-slot re-entry (step 5 of its construction
// sequence); View merely binds the slot index for the per-thread helpers
// below.
func (p *Pool[T]) View(f int) PoolView[T] {
	return PoolView[T]{pool: p, frame: f}
}

// PoolView is a frame-scoped handle onto a Pool, bound to a single frame
// slot for the lifetime of the enclosing InflightContext.
type PoolView[T any] struct {
	pool  *Pool[T]
	frame int
}

// ThreadView obtains exactly one bucket for the calling thread via
// AcquireOneInto, caching it for the remainder of the frame. Call once per
// PerThreadContext; pool buckets are not shared across threads within a
// frame.
func (v PoolView[T]) ThreadView() ThreadPoolView[T] {
	h := v.pool.AcquireOneInto(v.frame)
	return ThreadPoolView[T]{pool: v.pool, frame: v.frame, handle: h}
}

// ThreadPoolView is the exclusive, per-thread view of one bucket acquired
// from a Pool for the current frame.
type ThreadPoolView[T any] struct {
	pool   *Pool[T]
	frame  int
	handle Handle
}

// Bucket returns the underlying bucket value.
func (v ThreadPoolView[T]) Bucket() (T, bool) {
	return v.pool.Get(v.frame, v.handle)
}

// Handle returns the stable handle backing this view, for diagnostics.
func (v ThreadPoolView[T]) Handle() Handle { return v.handle }
