package gpucore

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// PerThreadContext is the thread-scope context: one instance per worker
// thread contributing to the current frame, bound to the frame slot its
// enclosing InflightContext owns. It gives the thread its own insertion
// shard into every per-frame cache, so concurrent threads never contend
// on a lock for the common case of a cache hit.
type PerThreadContext struct {
	ctx   *Context
	frame uint64
	slot  int

	transientShard  int
	descriptorShard int
	scratchSlot     int

	commandEncoders PoolView[hal.CommandEncoder]
	sampledImages   PoolView[*sampledImageBucket]

	encoder hal.CommandEncoder
	sampled *sampledImageBucket

	// Short-term recycle vectors, appended by ReleaseBuffer/ReleaseTexture
	// without touching the frame slot's destroy-queue lock, flushed once at
	// End.
	recycleBuffers  []hal.Buffer
	recycleTextures []hal.Texture
}

// End flushes this thread's recycle vectors into the frame slot's destroy
// queue and releases its claimed shards back to the owning per-frame
// caches. Call once the thread has finished contributing to the frame.
func (p *PerThreadContext) End() {
	for _, b := range p.recycleBuffers {
		b := b
		p.ctx.EnqueueDestroy(p.slot, func() { p.ctx.device.DestroyBuffer(b) })
	}
	p.recycleBuffers = nil
	for _, t := range p.recycleTextures {
		t := t
		p.ctx.EnqueueDestroy(p.slot, func() { p.ctx.device.DestroyTexture(t) })
	}
	p.recycleTextures = nil

	p.ctx.transientImages.ReleaseShard(p.slot, p.transientShard)
	p.ctx.descriptorSets.ReleaseShard(p.slot, p.descriptorShard)
}

// AllocateBuffer creates a persistent, lifetime-managed buffer outside the
// scratch path. Hand it to ReleaseBuffer when done; destruction then waits
// out this slot's recycle window.
func (p *PerThreadContext) AllocateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	buf, err := p.ctx.device.CreateBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("gpucore: allocate buffer: %w", err)
	}
	return buf, nil
}

// AllocateTexture creates a persistent, lifetime-managed texture. Hand it
// to ReleaseTexture when done.
func (p *PerThreadContext) AllocateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	tex, err := p.ctx.device.CreateTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("gpucore: allocate texture: %w", err)
	}
	return tex, nil
}

// ReleaseBuffer schedules buf for destruction once this frame slot's
// recycle window has elapsed.
func (p *PerThreadContext) ReleaseBuffer(buf hal.Buffer) {
	p.recycleBuffers = append(p.recycleBuffers, buf)
}

// ReleaseTexture schedules tex for destruction once this frame slot's
// recycle window has elapsed.
func (p *PerThreadContext) ReleaseTexture(tex hal.Texture) {
	p.recycleTextures = append(p.recycleTextures, tex)
}

// CommandEncoder returns this thread's command encoder for the frame,
// acquiring one from the context's command-buffer pool on first use.
func (p *PerThreadContext) CommandEncoder() (hal.CommandEncoder, error) {
	if p.encoder != nil {
		return p.encoder, nil
	}
	tv := p.commandEncoders.ThreadView()
	enc, ok := tv.Bucket()
	if !ok {
		return nil, fmt.Errorf("gpucore: acquire command encoder: %w", ErrInvalidCreateInfo)
	}
	if err := enc.BeginEncoding(fmt.Sprintf("frame-%d", p.frame)); err != nil {
		return nil, fmt.Errorf("gpucore: begin command encoding: %w", err)
	}
	p.encoder = enc
	return enc, nil
}

// AllocateScratch returns a scratch allocation from the linear allocator
// for this frame slot, classified by usage.
func (p *PerThreadContext) AllocateScratch(usage MemoryUsage, size, align uint64) (ScratchAllocation, error) {
	if p.ctx.scratch == nil {
		return ScratchAllocation{}, fmt.Errorf("gpucore: scratch allocator not initialized: %w", ErrScratchExhausted)
	}
	return p.ctx.scratch.Allocate(p.scratchSlot, usage, size, align)
}

// WriteScratchUniform allocates size bytes of CPUtoGPU scratch and writes
// data into it immediately via the queue's convenience write path,
// returning the allocation the caller binds at (set, binding).
func (p *PerThreadContext) WriteScratchUniform(data []byte, align uint64) (ScratchAllocation, error) {
	alloc, err := p.AllocateScratch(MemoryUsageCPUtoGPU, uint64(len(data)), align)
	if err != nil {
		return ScratchAllocation{}, err
	}
	p.ctx.queue.WriteBuffer(alloc.Buffer, alloc.Offset, data)
	return alloc, nil
}

// CreateScratchBuffer allocates scratch memory for data and stages data
// into it. CPU-visible classes are written immediately through the queue
// and return the zero ticket, which is always complete; GPUonly
// allocations route through the transfer pump and return the staging
// ticket the caller polls with IsTransferReady or blocks on via
// WaitAllTransfers.
func (p *PerThreadContext) CreateScratchBuffer(usage MemoryUsage, data []byte, align uint64) (ScratchAllocation, TransferTicket, error) {
	alloc, err := p.AllocateScratch(usage, uint64(len(data)), align)
	if err != nil {
		return ScratchAllocation{}, 0, err
	}
	if usage == MemoryUsageGPUonly {
		ticket, err := p.EnqueueGPUUpload(alloc.Buffer, alloc.Offset, data)
		if err != nil {
			return ScratchAllocation{}, 0, err
		}
		return alloc, ticket, nil
	}
	p.ctx.queue.WriteBuffer(alloc.Buffer, alloc.Offset, data)
	return alloc, 0, nil
}

// WaitAllTransfers flushes and blocks until every transfer enqueued so
// far on this context has completed. With nothing pending it returns
// immediately.
func (p *PerThreadContext) WaitAllTransfers(ctx context.Context) error {
	if p.ctx.transferPump == nil {
		return nil
	}
	return p.ctx.transferPump.WaitAllTransfers(ctx, time.Second)
}

// IsTransferReady reports whether ticket's batch has completed, without
// blocking.
func (p *PerThreadContext) IsTransferReady(ticket TransferTicket) bool {
	if p.ctx.transferPump == nil {
		return true
	}
	return p.ctx.transferPump.IsReady(ticket)
}

// EnqueueGPUUpload stages data for a GPUonly destination buffer through
// the transfer pump, returning a ticket the caller can poll with IsReady
// or block on via WaitAllTransfers.
func (p *PerThreadContext) EnqueueGPUUpload(dst hal.Buffer, offset uint64, data []byte) (TransferTicket, error) {
	if p.ctx.transferPump == nil {
		return 0, fmt.Errorf("gpucore: transfer pump not initialized: %w", ErrInvalidCreateInfo)
	}
	return p.ctx.transferPump.EnqueueBufferTransfer(p.slot, p.frame, dst, offset, data), nil
}

// EnqueueGPUImageUpload stages data for a texture destination through the
// transfer pump, returning a ticket the caller can poll with IsReady or
// block on via WaitAllTransfers. dst identifies the mip level and origin
// within the destination texture; layout and size describe data's packing.
func (p *PerThreadContext) EnqueueGPUImageUpload(dst *hal.ImageCopyTexture, data []byte, layout hal.ImageDataLayout, size hal.Extent3D) (TransferTicket, error) {
	if p.ctx.transferPump == nil {
		return 0, fmt.Errorf("gpucore: transfer pump not initialized: %w", ErrInvalidCreateInfo)
	}
	return p.ctx.transferPump.EnqueueImageTransfer(p.slot, p.frame, dst, data, layout, size), nil
}

// AcquireTransientImage resolves a render-graph transient image for this
// frame, creating it through create only on the first request for this
// exact TransientImageInfo within the slot's current generation.
func (p *PerThreadContext) AcquireTransientImage(info TransientImageInfo, create func() (hal.Texture, error)) (hal.Texture, error) {
	return p.ctx.transientImages.Acquire(p.slot, p.transientShard, info.structuralHash(), p.frame, create)
}

// AcquireDescriptorSet resolves a descriptor set for this frame. Two
// threads acquiring the same DescriptorSetInfo in the same frame each get
// a handle that descriptor-writes to an equivalent target; after the next
// reentry of this slot, the per-frame map holds exactly one merged entry.
func (p *PerThreadContext) AcquireDescriptorSet(info DescriptorSetInfo, create func() (hal.BindGroup, error)) (hal.BindGroup, error) {
	return p.ctx.descriptorSets.Acquire(p.slot, p.descriptorShard, info.structuralHash(), p.frame, create)
}

// SampledImage pairs a texture view and sampler as a stable reference
// valid for the frame, the unit the MakeSampledImage variants resolve to.
type SampledImage struct {
	View    hal.TextureView
	Sampler hal.Sampler
}

// sampledImageBucket is one thread's frame-scoped store of sampled-image
// combinations: a growable list of stable pointers plus a cursor rewound
// at slot reentry, so a steady frame reuses its storage with no
// per-frame allocation.
type sampledImageBucket struct {
	values []*SampledImage
	needle int
}

// acquire returns the bucket's existing entry equal to si, or hands out
// the next slot past the cursor. Returned pointers stay valid until the
// bucket's frame slot is recycled.
func (b *sampledImageBucket) acquire(si SampledImage) *SampledImage {
	for _, v := range b.values[:b.needle] {
		if *v == si {
			return v
		}
	}
	if b.needle < len(b.values) {
		*b.values[b.needle] = si
	} else {
		b.values = append(b.values, &si)
	}
	v := b.values[b.needle]
	b.needle++
	return v
}

func (b *sampledImageBucket) reset() { b.needle = 0 }

func (p *PerThreadContext) sampledBucket() (*sampledImageBucket, error) {
	if p.sampled != nil {
		return p.sampled, nil
	}
	tv := p.sampledImages.ThreadView()
	b, ok := tv.Bucket()
	if !ok {
		return nil, fmt.Errorf("gpucore: acquire sampled-image bucket: %w", ErrInvalidCreateInfo)
	}
	p.sampled = b
	return b, nil
}

// MakeSampledImage combines view and sampler into a SampledImage drawn
// from this frame slot's pool, reusing the thread's existing combination
// when the same pair was already requested this frame. The returned
// reference is stable until the slot is recycled.
func (p *PerThreadContext) MakeSampledImage(view hal.TextureView, sampler hal.Sampler) (*SampledImage, error) {
	b, err := p.sampledBucket()
	if err != nil {
		return nil, err
	}
	return b.acquire(SampledImage{View: view, Sampler: sampler}), nil
}

// MakeSampledImageWithSettings combines view with a sampler built from
// settings through the context's sampler cache, so repeated requests with
// equal settings share one driver sampler and, within a frame, one pooled
// SampledImage.
func (p *PerThreadContext) MakeSampledImageWithSettings(view hal.TextureView, settings SamplerInfo) (*SampledImage, error) {
	s, err := p.ctx.CreateSampler(settings)
	if err != nil {
		return nil, err
	}
	return p.MakeSampledImage(view, s)
}
