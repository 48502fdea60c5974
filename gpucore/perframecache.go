package gpucore

import "sync"

// perFrameEntry pairs a cached value with the frame it was last resolved in,
// mirroring cache.Entry so Collect can apply the same age-threshold rule.
type perFrameEntry[V any] struct {
	value        V
	lastUseFrame uint64
}

// frameSlot holds one rotating frame slot's worth of PerFrameCache state: a
// committed map visible to every thread, and a fixed bank of per-thread
// insertion shards, guarded by shardMu, that accumulate until the slot is
// flushed.
type frameSlot[K comparable, V any] struct {
	mu        sync.RWMutex
	committed map[K]*perFrameEntry[V]

	shardMu sync.Mutex
	shards  []map[K]V
	claimed []bool
}

// PerFrameCache is a cache sharded by rotating frame slot: each
// PerThreadContext active during slot f claims its own insertion shard and
// writes to it without contention from sibling threads. Commit folds
// every shard of slot f (claimed or already released) into the slot's committed map, a
// step every InflightContext performs exactly once at frame-slot re-entry,
// before any new acquisitions against that slot. Reads always consult the
// committed map first (shared, safe for concurrent readers) and fall back
// to the calling thread's own shard (entries the current frame has produced
// but not yet committed).
type PerFrameCache[K comparable, V any] struct {
	maxShardThreads int
	slots           []*frameSlot[K, V]
}

// NewPerFrameCache constructs a cache with fc rotating frame slots, each
// supporting up to maxShardThreads concurrently active insertion shards.
func NewPerFrameCache[K comparable, V any](fc, maxShardThreads int) *PerFrameCache[K, V] {
	c := &PerFrameCache[K, V]{
		maxShardThreads: maxShardThreads,
		slots:           make([]*frameSlot[K, V], fc),
	}
	for i := range c.slots {
		c.slots[i] = &frameSlot[K, V]{
			committed: make(map[K]*perFrameEntry[V]),
			shards:    make([]map[K]V, maxShardThreads),
			claimed:   make([]bool, maxShardThreads),
		}
	}
	return c
}

// ClaimShard reserves an insertion shard within slot f for the calling
// thread's PerThreadContext, returning ErrShardOverflow if every shard is
// already claimed.
func (c *PerFrameCache[K, V]) ClaimShard(f int) (int, error) {
	slot := c.slots[f]
	slot.shardMu.Lock()
	defer slot.shardMu.Unlock()

	for i, taken := range slot.claimed {
		if !taken {
			slot.claimed[i] = true
			if slot.shards[i] == nil {
				slot.shards[i] = make(map[K]V)
			}
			return i, nil
		}
	}
	return 0, ErrShardOverflow
}

// ReleaseShard returns a claimed shard to the free pool. Its contents
// remain pending until the next Commit(f).
func (c *PerFrameCache[K, V]) ReleaseShard(f, shard int) {
	slot := c.slots[f]
	slot.shardMu.Lock()
	defer slot.shardMu.Unlock()
	slot.claimed[shard] = false
}

// Acquire resolves key within slot f using shard as the calling thread's
// insertion shard. It checks the committed map first, then the local
// shard, and finally calls create and stashes the result in the local
// shard — visible to this thread for the remainder of the frame, and to
// every thread from the next Commit(f) onward.
func (c *PerFrameCache[K, V]) Acquire(f, shard int, key K, now uint64, create func() (V, error)) (V, error) {
	slot := c.slots[f]

	slot.mu.RLock()
	if entry, ok := slot.committed[key]; ok {
		entry.lastUseFrame = now
		slot.mu.RUnlock()
		return entry.value, nil
	}
	slot.mu.RUnlock()

	slot.shardMu.Lock()
	local := slot.shards[shard]
	if v, ok := local[key]; ok {
		slot.shardMu.Unlock()
		return v, nil
	}
	slot.shardMu.Unlock()

	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}

	slot.shardMu.Lock()
	if slot.shards[shard] == nil {
		slot.shards[shard] = make(map[K]V)
	}
	slot.shards[shard][key] = v
	slot.shardMu.Unlock()

	return v, nil
}

// Commit folds every shard in slot f into the committed map and
// clears the shards, readying the slot for a fresh cycle of insertions.
// Called exactly once per frame-slot re-entry, before the slot accepts any
// new acquisitions.
func (c *PerFrameCache[K, V]) Commit(f int, now uint64) {
	slot := c.slots[f]

	slot.shardMu.Lock()
	defer slot.shardMu.Unlock()

	slot.mu.Lock()
	defer slot.mu.Unlock()

	for i, shard := range slot.shards {
		for k, v := range shard {
			slot.committed[k] = &perFrameEntry[V]{value: v, lastUseFrame: now}
		}
		slot.shards[i] = nil
	}
}

// Collect evicts every committed entry in slot f whose lastUseFrame is more
// than threshold frames behind now, calling destroy for each.
func (c *PerFrameCache[K, V]) Collect(f int, now, threshold uint64, destroy func(K, V)) {
	slot := c.slots[f]

	slot.mu.Lock()
	defer slot.mu.Unlock()

	for k, entry := range slot.committed {
		if now-entry.lastUseFrame > threshold {
			delete(slot.committed, k)
			if destroy != nil {
				destroy(k, entry.value)
			}
		}
	}
}

// Drain removes every entry — committed or still sitting in an
// uncommitted thread shard — across every frame slot, handing each to
// destroy exactly once. For use at Context teardown after the device has
// gone idle.
func (c *PerFrameCache[K, V]) Drain(destroy func(K, V)) {
	for _, slot := range c.slots {
		slot.shardMu.Lock()
		slot.mu.Lock()
		for i, shard := range slot.shards {
			for k, v := range shard {
				if _, committed := slot.committed[k]; !committed {
					destroy(k, v)
				}
			}
			slot.shards[i] = nil
		}
		for k, entry := range slot.committed {
			destroy(k, entry.value)
			delete(slot.committed, k)
		}
		slot.mu.Unlock()
		slot.shardMu.Unlock()
	}
}

// Len returns the number of committed entries in slot f.
func (c *PerFrameCache[K, V]) Len(f int) int {
	slot := c.slots[f]
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return len(slot.committed)
}
