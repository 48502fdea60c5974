package gpucore

import "testing"

type bucket struct {
	id       int
	resets   int
	freed    bool
	acquired int
}

func TestPoolAcquireReusesAfterReset(t *testing.T) {
	var nextID int
	var freedCount int

	p := NewPool(
		3,
		func() *bucket { nextID++; return &bucket{id: nextID} },
		func(b **bucket) { (*b).resets++; (*b).acquired++ },
		func(b *bucket) { b.freed = true; freedCount++ },
	)

	h0 := p.AcquireOneInto(0)
	b0, ok := p.Get(0, h0)
	if !ok {
		t.Fatal("expected bucket to be present in slot 0")
	}
	if b0.id != 1 {
		t.Fatalf("expected first bucket id 1, got %d", b0.id)
	}

	p.Reset(0)
	if _, ok := p.Get(0, h0); ok {
		t.Fatal("expected handle to be invalidated after Reset")
	}

	h1 := p.AcquireOneInto(1)
	b1, ok := p.Get(1, h1)
	if !ok {
		t.Fatal("expected bucket to be present in slot 1")
	}
	if b1.id != 1 {
		t.Fatalf("expected the store to recycle bucket id 1 into slot 1, got id %d", b1.id)
	}
	if nextID != 1 {
		t.Fatalf("expected exactly one bucket ever allocated, got %d", nextID)
	}
}

func TestPoolResetIsolatesSlots(t *testing.T) {
	p := NewPool(
		2,
		func() *bucket { return &bucket{} },
		func(**bucket) {},
		func(*bucket) {},
	)

	h0 := p.AcquireOneInto(0)
	p.AcquireOneInto(1)

	p.Reset(1)

	if _, ok := p.Get(0, h0); !ok {
		t.Fatal("Reset(1) must not affect buckets held by slot 0")
	}
}

func TestPoolFreeReleasesEveryBucketOnce(t *testing.T) {
	var freedIDs []int
	var nextID int

	p := NewPool(
		2,
		func() *bucket { nextID++; return &bucket{id: nextID} },
		func(**bucket) {},
		func(b *bucket) { freedIDs = append(freedIDs, b.id) },
	)

	h0 := p.AcquireOneInto(0)
	p.AcquireOneInto(1)
	p.Reset(0) // returns h0's bucket to the idle store

	p.Free()

	if len(freedIDs) != 2 {
		t.Fatalf("expected 2 buckets freed exactly once, got %d: %v", len(freedIDs), freedIDs)
	}
	if _, ok := p.Get(0, h0); ok {
		t.Fatal("expected no live buckets after Free")
	}
}

func TestPoolThreadViewBindsOneBucketForTheFrame(t *testing.T) {
	p := NewPool(
		1,
		func() *bucket { return &bucket{} },
		func(**bucket) {},
		func(*bucket) {},
	)

	view := p.View(0)
	tv := view.ThreadView()
	b, ok := tv.Bucket()
	if !ok {
		t.Fatal("expected ThreadView to hold a live bucket")
	}
	b.acquired++

	b2, ok := tv.Bucket()
	if !ok || b2 != b {
		t.Fatal("expected repeated Bucket() calls to return the same pointer within the frame")
	}
}
