package gpucore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rendercore/cache"
)

// resourceTable is a mutex-guarded arena of driver resources, giving each
// interned resource a stable Handle that create-info types (PipelineInfo,
// DescriptorSetInfo, ...) can reference by value.
type resourceTable[T any] struct {
	mu    sync.Mutex
	arena *arena[T]
}

func newResourceTable[T any]() *resourceTable[T] {
	return &resourceTable[T]{arena: newArena[T]()}
}

func (t *resourceTable[T]) insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.Insert(v)
}

func (t *resourceTable[T]) get(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.Get(h)
}

func (t *resourceTable[T]) erase(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.Erase(h)
}

// identityTable interns already-constructed driver resources by identity
// rather than by create-info content hash: the caller built the resource
// itself (a texture view out of a frame's render-graph attachment, a
// sampler it manages independently) and only needs a stable Handle so a
// DescriptorSetInfo can reference it structurally.
type identityTable[T comparable] struct {
	mu      sync.Mutex
	handles map[T]Handle
	arena   *arena[T]
}

func newIdentityTable[T comparable]() *identityTable[T] {
	return &identityTable[T]{handles: make(map[T]Handle), arena: newArena[T]()}
}

func (t *identityTable[T]) intern(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handles[v]; ok {
		return h
	}
	h := t.arena.Insert(v)
	t.handles[v] = h
	return h
}

func (t *identityTable[T]) get(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.Get(h)
}

// destroyQueue is one frame slot's pending destroy list: resources whose
// last use was in a frame using this slot, released only once the slot is
// re-entered three frames later and the fence proves the GPU is done with
// them.
type destroyQueue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *destroyQueue) push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *destroyQueue) drain() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Context is the process-scope owner: the device and queue handles, every
// Pool/Cache/PerFrameCache instance, the named pipeline registries, the
// per-slot destroy queues and recycle locks, and the monotonic frame and
// handle-id counters. Exactly one Context exists per device.
type Context struct {
	device hal.Device
	queue  hal.Queue
	fc     int

	// graphicsLock serializes frame submission (InflightContext.Submit);
	// transferLock serializes fenced-upload submission (SubmitFenced). The
	// TransferPump serializes its own batch submissions with its own lock.
	// A single hal.Queue backs all of them.
	graphicsLock sync.Mutex
	transferLock sync.Mutex

	fence        hal.Fence
	frameCounter atomic.Uint64

	recycleLocks []sync.Mutex
	destroyQueues []destroyQueue

	shaderModules        *resourceTable[hal.ShaderModule]
	shaderModuleByHash   *cache.Cache[uint64, Handle]
	pipelineBases        *resourceTable[PipelineBaseInfo]
	pipelineBaseByHash   *cache.Cache[uint64, Handle]
	renderPipelines      *resourceTable[hal.RenderPipeline]
	renderPipelineByHash *cache.Cache[uint64, Handle]
	computePipelines     *resourceTable[hal.ComputePipeline]
	computePipelineHash  *cache.Cache[uint64, Handle]
	pipelineLayouts      *resourceTable[hal.PipelineLayout]
	pipelineLayoutHash   *cache.Cache[uint64, Handle]
	setLayouts           *resourceTable[hal.BindGroupLayout]
	setLayoutHash        *cache.Cache[uint64, Handle]
	samplers             *resourceTable[hal.Sampler]
	samplerHash          *cache.Cache[uint64, Handle]

	transientImages *PerFrameCache[uint64, hal.Texture]
	descriptorSets  *PerFrameCache[uint64, hal.BindGroup]

	textureViews  *identityTable[hal.TextureView]
	adhocSamplers *identityTable[hal.Sampler]

	scratch      *Scratch
	transferPump *TransferPump

	commandEncoders *Pool[hal.CommandEncoder]
	sampledImages   *Pool[*sampledImageBucket]

	registry *PipelineRegistry

	pipelineCacheBlobMu sync.Mutex
	pipelineCacheBlob   []byte

	swapchainsLock sync.Mutex
	swapchains     map[string]*SwapchainRecord

	collectionThreshold uint64
	maxShardThreads     int
}

// SwapchainRecord is the process-owned record of one presentation surface
// and its current configuration, looked up by name with GetSwapchain.
// RecreateSwapchain fills in the surface, format and extent; it leaves
// Images and Views empty.
type SwapchainRecord struct {
	Surface hal.Surface
	Format  gputypes.TextureFormat
	Width   uint32
	Height  uint32
	Images  []hal.Texture
	Views   []hal.TextureView
}

// RecreateSwapchain (re)configures the named swapchain against surface,
// replacing any prior record under the same name. It performs only the
// record-keeping side of swapchain negotiation: format/extent bookkeeping
// and reconfiguring the surface through hal, not image acquisition or
// presentation timing, which stay the caller's responsibility via
// Surface.AcquireTexture/Queue.Present.
func (c *Context) RecreateSwapchain(name string, surface hal.Surface, config *hal.SurfaceConfiguration) (*SwapchainRecord, error) {
	if err := surface.Configure(c.device, config); err != nil {
		return nil, fmt.Errorf("gpucore: recreate swapchain %q: %w", name, err)
	}

	rec := &SwapchainRecord{
		Surface: surface,
		Format:  config.Format,
		Width:   config.Width,
		Height:  config.Height,
	}

	c.swapchainsLock.Lock()
	defer c.swapchainsLock.Unlock()
	if c.swapchains == nil {
		c.swapchains = make(map[string]*SwapchainRecord)
	}
	c.swapchains[name] = rec
	return rec, nil
}

// GetSwapchain returns the named swapchain's current record, if any.
func (c *Context) GetSwapchain(name string) (*SwapchainRecord, bool) {
	c.swapchainsLock.Lock()
	defer c.swapchainsLock.Unlock()
	rec, ok := c.swapchains[name]
	return rec, ok
}

// NewContext constructs a Context against the device supplied via
// WithDevice. WithDevice is required.
func NewContext(opts ...ContextOption) (*Context, error) {
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.device == nil {
		return nil, fmt.Errorf("gpucore: NewContext: %w", ErrInvalidCreateInfo)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	fence, err := o.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("gpucore: create frame fence: %w", err)
	}

	c := &Context{
		device: o.device,
		fc:     o.frameDepth,
		fence:  fence,

		recycleLocks:  make([]sync.Mutex, o.frameDepth),
		destroyQueues: make([]destroyQueue, o.frameDepth),

		shaderModules:        newResourceTable[hal.ShaderModule](),
		shaderModuleByHash:   cache.New[uint64, Handle](),
		pipelineBases:        newResourceTable[PipelineBaseInfo](),
		pipelineBaseByHash:   cache.New[uint64, Handle](),
		renderPipelines:      newResourceTable[hal.RenderPipeline](),
		renderPipelineByHash: cache.New[uint64, Handle](),
		computePipelines:     newResourceTable[hal.ComputePipeline](),
		computePipelineHash:  cache.New[uint64, Handle](),
		pipelineLayouts:      newResourceTable[hal.PipelineLayout](),
		pipelineLayoutHash:   cache.New[uint64, Handle](),
		setLayouts:           newResourceTable[hal.BindGroupLayout](),
		setLayoutHash:        cache.New[uint64, Handle](),
		samplers:             newResourceTable[hal.Sampler](),
		samplerHash:          cache.New[uint64, Handle](),

		transientImages: NewPerFrameCache[uint64, hal.Texture](o.frameDepth, o.maxShardThreads),
		descriptorSets:  NewPerFrameCache[uint64, hal.BindGroup](o.frameDepth, o.maxShardThreads),

		textureViews:  newIdentityTable[hal.TextureView](),
		adhocSamplers: newIdentityTable[hal.Sampler](),

		registry: NewPipelineRegistry(),

		collectionThreshold: o.collectionThreshold,
		maxShardThreads:     o.maxShardThreads,
	}

	c.commandEncoders = NewPool(
		o.frameDepth,
		func() hal.CommandEncoder {
			enc, _ := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "frame"})
			return enc
		},
		func(*hal.CommandEncoder) {},
		func(hal.CommandEncoder) {},
	)
	c.sampledImages = NewPool(
		o.frameDepth,
		func() *sampledImageBucket { return &sampledImageBucket{} },
		func(b **sampledImageBucket) { (*b).reset() },
		func(*sampledImageBucket) {},
	)

	return c, nil
}

// SetQueue attaches the device's queue and constructs the transfer pump.
// Split from NewContext because hal.Adapter.Open returns device and queue
// together but callers may want the Context before opening the device.
func (c *Context) SetQueue(q hal.Queue) {
	c.queue = q
	c.scratch = NewScratch(c.device, c.fc)
	c.transferPump = NewTransferPump(c.device, q, c.fence, c.fc)
}

// FrameDepth returns FC, the number of rotating in-flight frame slots.
func (c *Context) FrameDepth() int { return c.fc }

// CreateShaderModule interns a shader module by source, compiling it only
// the first time a given source text is seen.
func (c *Context) CreateShaderModule(info ShaderModuleInfo) (Handle, error) {
	hash := info.structuralHash()
	return c.shaderModuleByHash.Acquire(hash, c.frameCounter.Load(), func() (Handle, error) {
		mod, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  info.Label,
			Source: hal.ShaderSource{WGSL: info.Source},
		})
		if err != nil {
			return Handle{}, fmt.Errorf("%w: %s: %v", ErrShaderCompilation, info.Label, err)
		}
		return c.shaderModules.insert(mod), nil
	})
}

// CreateNamedPipeline registers name against a pipeline base built from
// info, idempotent under an identical create-info and an error under a
// conflicting one.
func (c *Context) CreateNamedPipeline(name string, info PipelineBaseInfo) (Handle, error) {
	return c.registry.Graphics.GetOrCreate(name, info, func(info PipelineBaseInfo) (Handle, error) {
		return c.pipelineBaseByHash.Acquire(info.structuralHash(), c.frameCounter.Load(), func() (Handle, error) {
			return c.pipelineBases.insert(info), nil
		})
	})
}

// GetNamedPipeline returns the pipeline-base handle registered under name.
func (c *Context) GetNamedPipeline(name string) (Handle, bool) {
	return c.registry.Graphics.Get(name)
}

// CreateNamedComputePipeline registers name against a compute pipeline
// compiled from info.
func (c *Context) CreateNamedComputePipeline(name string, info ComputePipelineInfo) (Handle, error) {
	return c.registry.Compute.GetOrCreate(name, info, func(info ComputePipelineInfo) (Handle, error) {
		return c.getOrCreateComputePipeline(info)
	})
}

// GetNamedComputePipeline returns the compute pipeline handle registered
// under name.
func (c *Context) GetNamedComputePipeline(name string) (Handle, bool) {
	return c.registry.Compute.Get(name)
}

func (c *Context) getOrCreateComputePipeline(info ComputePipelineInfo) (Handle, error) {
	hash := info.structuralHash()
	return c.computePipelineHash.Acquire(hash, c.frameCounter.Load(), func() (Handle, error) {
		shader, ok := c.shaderModules.get(info.Shader)
		if !ok {
			return Handle{}, fmt.Errorf("gpucore: compute pipeline %q: %w", info.Label, ErrInvalidCreateInfo)
		}
		pipeline, err := c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   info.Label,
			Compute: hal.ComputeState{Module: shader, EntryPoint: info.EntryPoint},
		})
		if err != nil {
			return Handle{}, fmt.Errorf("%w: %s: %v", ErrShaderCompilation, info.Label, err)
		}
		return c.computePipelines.insert(pipeline), nil
	})
}

// CreateSampler interns a sampler by its filtering and addressing state,
// creating it through the device only the first time this exact
// combination is requested.
func (c *Context) CreateSampler(info SamplerInfo) (hal.Sampler, error) {
	h, err := c.samplerHash.Acquire(info.structuralHash(), c.frameCounter.Load(), func() (Handle, error) {
		s, err := c.device.CreateSampler(&hal.SamplerDescriptor{
			AddressModeU: info.AddressModeU,
			AddressModeV: info.AddressModeV,
			AddressModeW: info.AddressModeW,
			MagFilter:    info.MagFilter,
			MinFilter:    info.MinFilter,
			MipmapFilter: gputypes.FilterMode(info.MipmapFilter),
			Anisotropy:   info.MaxAnisotropy,
		})
		if err != nil {
			return Handle{}, fmt.Errorf("gpucore: create sampler: %w", err)
		}
		return c.samplers.insert(s), nil
	})
	if err != nil {
		return nil, err
	}
	s, _ := c.samplers.get(h)
	return s, nil
}

// GetPipelineLayout derives and interns a pipeline layout from an ordered
// list of bind-group-layout handles.
func (c *Context) GetPipelineLayout(info PipelineLayoutInfo) (hal.PipelineLayout, error) {
	h, err := c.pipelineLayoutHash.Acquire(info.structuralHash(), c.frameCounter.Load(), func() (Handle, error) {
		layouts := make([]hal.BindGroupLayout, len(info.SetLayouts))
		for i, lh := range info.SetLayouts {
			l, ok := c.setLayouts.get(lh)
			if !ok {
				return Handle{}, fmt.Errorf("gpucore: pipeline layout: set layout %d: %w", i, ErrInvalidCreateInfo)
			}
			layouts[i] = l
		}
		pl, err := c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{BindGroupLayouts: layouts})
		if err != nil {
			return Handle{}, fmt.Errorf("gpucore: create pipeline layout: %w", err)
		}
		return c.pipelineLayouts.insert(pl), nil
	})
	if err != nil {
		return nil, err
	}
	pl, _ := c.pipelineLayouts.get(h)
	return pl, nil
}

// GetPipeline is the anonymous cache-based variant of pipeline derivation:
// given a concrete PipelineInfo (a pipeline base plus render-pass-and-
// subpass state), it returns the cached hal.RenderPipeline, compiling it
// the first time this exact combination is requested.
func (c *Context) GetPipeline(info PipelineInfo) (hal.RenderPipeline, error) {
	hash := info.structuralHash()
	h, err := c.renderPipelineByHash.Acquire(hash, c.frameCounter.Load(), func() (Handle, error) {
		base, ok := c.pipelineBases.get(info.Base)
		if !ok {
			return Handle{}, fmt.Errorf("gpucore: derive pipeline: %w", ErrInvalidCreateInfo)
		}
		vs, ok := c.shaderModules.get(base.VertexShader)
		if !ok {
			return Handle{}, fmt.Errorf("gpucore: derive pipeline %q: vertex shader: %w", base.Label, ErrInvalidCreateInfo)
		}
		fs, ok := c.shaderModules.get(base.FragmentShader)
		if !ok {
			return Handle{}, fmt.Errorf("gpucore: derive pipeline %q: fragment shader: %w", base.Label, ErrInvalidCreateInfo)
		}

		vertexBuffers := info.VertexBuffers
		if vertexBuffers == nil {
			vertexBuffers = base.VertexBuffers
		}

		desc := &hal.RenderPipelineDescriptor{
			Label: base.Label,
			Vertex: hal.VertexState{
				Module:     vs,
				EntryPoint: base.VertexEntryPoint,
				Buffers:    vertexBufferLayouts(vertexBuffers),
			},
			Primitive: gputypes.PrimitiveState{
				Topology:  base.Topology,
				FrontFace: base.FrontFace,
				CullMode:  base.CullMode,
			},
			Multisample: gputypes.MultisampleState{Count: info.SampleCount},
			Fragment: &hal.FragmentState{
				Module:     fs,
				EntryPoint: base.FragmentEntryPoint,
				Targets:    colorTargetStates(info.ColorFormats, base),
			},
		}
		if info.DepthFormat != gputypes.TextureFormatUndefined {
			desc.DepthStencil = &hal.DepthStencilState{
				Format:            info.DepthFormat,
				DepthWriteEnabled: base.DepthWriteEnabled,
				DepthCompare:      base.DepthCompare,
			}
		}

		pipeline, err := c.device.CreateRenderPipeline(desc)
		if err != nil {
			return Handle{}, fmt.Errorf("%w: %s: %v", ErrShaderCompilation, base.Label, err)
		}
		return c.renderPipelines.insert(pipeline), nil
	})
	if err != nil {
		var zero hal.RenderPipeline
		return zero, err
	}
	pipeline, _ := c.renderPipelines.get(h)
	return pipeline, nil
}

// vertexBufferLayouts converts a pipeline base's packed vertex-buffer
// layouts into concrete strides and attribute offsets: each
// VertexAttributeInfo with a nonzero Format contributes a shader-visible
// attribute at the layout's running offset; each SkipBytes widens the
// stride without introducing an attribute, matching a Packed{Format,
// Ignore{n}, ...} binding declared at draw time.
func vertexBufferLayouts(layouts []VertexBufferLayoutInfo) []gputypes.VertexBufferLayout {
	out := make([]gputypes.VertexBufferLayout, len(layouts))
	for i, l := range layouts {
		var offset uint64
		attrs := make([]gputypes.VertexAttribute, 0, len(l.Attributes))
		for _, a := range l.Attributes {
			if a.Format != 0 || a.SkipBytes == 0 {
				attrs = append(attrs, gputypes.VertexAttribute{
					ShaderLocation: a.ShaderLocation,
					Format:         a.Format,
					Offset:         offset,
				})
				offset += vertexFormatSize(a.Format)
			}
			offset += uint64(a.SkipBytes)
		}
		out[i] = gputypes.VertexBufferLayout{
			ArrayStride: offset,
			StepMode:    l.StepMode,
			Attributes:  attrs,
		}
	}
	return out
}

// vertexFormatSize returns the byte width of one vertex attribute format.
// Only the formats this package's scenarios exercise are covered; an
// unrecognized format contributes zero bytes to the running offset.
func vertexFormatSize(f gputypes.VertexFormat) uint64 {
	switch f {
	case gputypes.VertexFormatFloat32:
		return 4
	case gputypes.VertexFormatFloat32x2:
		return 8
	case gputypes.VertexFormatFloat32x3:
		return 12
	case gputypes.VertexFormatFloat32x4:
		return 16
	case gputypes.VertexFormatUint32:
		return 4
	default:
		return 0
	}
}

// colorTargetStates builds one ColorTargetState per color attachment
// format, applying the pipeline base's blend state uniformly across all
// of them.
func colorTargetStates(formats []gputypes.TextureFormat, base PipelineBaseInfo) []gputypes.ColorTargetState {
	out := make([]gputypes.ColorTargetState, len(formats))
	for i, f := range formats {
		target := gputypes.ColorTargetState{Format: f}
		if base.BlendEnabled {
			target.Blend = &gputypes.BlendState{
				Color: gputypes.BlendComponent{SrcFactor: base.SrcFactor, DstFactor: base.DstFactor, Operation: base.BlendOp},
				Alpha: gputypes.BlendComponent{SrcFactor: base.SrcFactor, DstFactor: base.DstFactor, Operation: base.BlendOp},
			}
		}
		out[i] = target
	}
	return out
}

// EnqueueDestroy defers fn until frame slot f is next re-entered, matching
// the three-frame recycle window every other resource in this slot
// observes.
func (c *Context) EnqueueDestroy(f int, fn func()) {
	c.destroyQueues[f].push(fn)
}

// LoadPipelineCache installs blob as the opaque pipeline-cache payload.
// The engine never interprets it; SavePipelineCache returns it unchanged,
// satisfying load(save()) = identity.
func (c *Context) LoadPipelineCache(blob []byte) {
	c.pipelineCacheBlobMu.Lock()
	defer c.pipelineCacheBlobMu.Unlock()
	c.pipelineCacheBlob = append([]byte(nil), blob...)
}

// SavePipelineCache returns the current opaque pipeline-cache payload.
func (c *Context) SavePipelineCache() []byte {
	c.pipelineCacheBlobMu.Lock()
	defer c.pipelineCacheBlobMu.Unlock()
	return append([]byte(nil), c.pipelineCacheBlob...)
}

// WaitIdle blocks until every frame slot's fence has retired, then runs
// every slot's destroy queue. Call before tearing down the Context. If the
// fence has not retired within five seconds it returns an error and leaves
// the destroy queues untouched.
func (c *Context) WaitIdle() error {
	if c.transferPump != nil {
		if err := c.transferPump.WaitAllTransfers(context.Background(), 5*time.Second); err != nil {
			return err
		}
	}
	current := c.frameCounter.Load()
	ok, err := c.device.Wait(c.fence, current, 5*time.Second)
	if err != nil {
		return fmt.Errorf("gpucore: wait idle: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpucore: wait idle: timed out waiting for frame %d", current)
	}
	for i := range c.destroyQueues {
		c.destroyQueues[i].drain()
	}
	return nil
}

// Destroy tears down the context at process end: it waits for every queue
// to idle, drains every destroy queue, then hands every resource still
// held by a cache to the device's destroy entry point exactly once. The
// Context must not be used afterwards.
func (c *Context) Destroy() error {
	if err := c.WaitIdle(); err != nil {
		return err
	}

	c.transientImages.Drain(func(_ uint64, t hal.Texture) { c.device.DestroyTexture(t) })
	c.descriptorSets.Drain(func(_ uint64, g hal.BindGroup) { c.device.DestroyBindGroup(g) })

	c.commandEncoders.Free()
	c.sampledImages.Free()
	if c.scratch != nil {
		c.scratch.Free()
	}

	c.renderPipelineByHash.Drain(func(_ uint64, h Handle) {
		if p, ok := c.renderPipelines.erase(h); ok {
			c.device.DestroyRenderPipeline(p)
		}
	})
	c.computePipelineHash.Drain(func(_ uint64, h Handle) {
		if p, ok := c.computePipelines.erase(h); ok {
			c.device.DestroyComputePipeline(p)
		}
	})
	c.pipelineLayoutHash.Drain(func(_ uint64, h Handle) {
		if l, ok := c.pipelineLayouts.erase(h); ok {
			c.device.DestroyPipelineLayout(l)
		}
	})
	c.setLayoutHash.Drain(func(_ uint64, h Handle) {
		if l, ok := c.setLayouts.erase(h); ok {
			c.device.DestroyBindGroupLayout(l)
		}
	})
	c.samplerHash.Drain(func(_ uint64, h Handle) {
		if s, ok := c.samplers.erase(h); ok {
			c.device.DestroySampler(s)
		}
	})
	c.shaderModuleByHash.Drain(func(_ uint64, h Handle) {
		if m, ok := c.shaderModules.erase(h); ok {
			c.device.DestroyShaderModule(m)
		}
	})
	// Pipeline bases hold no driver resource of their own: they reference
	// shader modules already destroyed above.
	c.pipelineBaseByHash.Drain(func(_ uint64, h Handle) {
		c.pipelineBases.erase(h)
	})

	c.device.DestroyFence(c.fence)
	return nil
}

// BeginFenced starts a one-shot command encoder decoupled from the frame
// pipeline, for uploads a caller wants to submit and wait on outside of
// Begin/End frame scope. The returned fence value must be passed to
// Device.Wait by the caller once the resources it references are free to
// release.
func (c *Context) BeginFenced(label string) (hal.CommandEncoder, uint64, error) {
	enc, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, 0, fmt.Errorf("gpucore: begin fenced upload: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, 0, fmt.Errorf("gpucore: begin fenced upload encoding: %w", err)
	}
	value := c.frameCounter.Add(1)
	return enc, value, nil
}

// SubmitFenced submits enc against this context's fence at value, as
// returned by BeginFenced.
func (c *Context) SubmitFenced(enc hal.CommandEncoder, value uint64) error {
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpucore: end fenced upload encoding: %w", err)
	}
	c.transferLock.Lock()
	defer c.transferLock.Unlock()
	if err := c.queue.Submit([]hal.CommandBuffer{cmd}, c.fence, value); err != nil {
		return fmt.Errorf("gpucore: submit fenced upload: %w", err)
	}
	return nil
}

// WaitFenced blocks until value has retired on this context's fence.
func (c *Context) WaitFenced(value uint64, timeout time.Duration) (bool, error) {
	return c.device.Wait(c.fence, value, timeout)
}

// internTextureView returns a stable Handle for an already-created texture
// view, for use inside a ResourceBinding.
func (c *Context) internTextureView(v hal.TextureView) Handle {
	return c.textureViews.intern(v)
}

// internSampler returns a stable Handle for an already-created sampler,
// for use inside a ResourceBinding. Distinct from CreateSampler, which
// interns by SamplerInfo content hash for callers building samplers
// through this context rather than supplying their own.
func (c *Context) internSampler(s hal.Sampler) Handle {
	return c.adhocSamplers.intern(s)
}

// bindingKind infers a descriptor binding's gputypes.BufferBindingType from
// which fields of a ResourceBinding are populated.
func bindingKind(b ResourceBinding) gputypes.BufferBindingType {
	if !b.Buffer.IsZero() {
		return gputypes.BufferBindingTypeUniform
	}
	return gputypes.BufferBindingType(0)
}

// getOrCreateSetLayoutForBindings derives and interns a bind group layout
// matching the shape of bindings: one entry per binding, typed by whether
// it carries a buffer or a view+sampler pair.
func (c *Context) getOrCreateSetLayoutForBindings(bindings []ResourceBinding) (Handle, error) {
	info := DescriptorSetLayoutInfo{Bindings: make([]BindingInfo, len(bindings))}
	for i, b := range bindings {
		info.Bindings[i] = BindingInfo{Binding: b.Binding, Kind: bindingKind(b), Count: 1}
	}
	hash := info.structuralHash()
	return c.setLayoutHash.Acquire(hash, c.frameCounter.Load(), func() (Handle, error) {
		entries := make([]gputypes.BindGroupLayoutEntry, len(info.Bindings))
		for i, b := range info.Bindings {
			entries[i] = gputypes.BindGroupLayoutEntry{Binding: b.Binding}
		}
		layout, err := c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Entries: entries})
		if err != nil {
			return Handle{}, fmt.Errorf("gpucore: create bind group layout: %w", err)
		}
		return c.setLayouts.insert(layout), nil
	})
}

// createBindGroup builds a hal.BindGroup from a previously derived set
// layout handle and the concrete resource bindings it describes.
func (c *Context) createBindGroup(layoutHandle Handle, bindings []ResourceBinding) (hal.BindGroup, error) {
	layout, ok := c.setLayouts.get(layoutHandle)
	if !ok {
		var zero hal.BindGroup
		return zero, fmt.Errorf("gpucore: create bind group: %w", ErrInvalidCreateInfo)
	}

	entries := make([]gputypes.BindGroupEntry, len(bindings))
	for i, b := range bindings {
		entry := gputypes.BindGroupEntry{Binding: b.Binding}
		if !b.Buffer.IsZero() {
			buf, ok := c.scratch.blockBuffer(b.Buffer)
			if !ok {
				return nil, fmt.Errorf("gpucore: create bind group: %w", ErrInvalidCreateInfo)
			}
			entry.Buffer = buf
			entry.Offset = b.Offset
			entry.Size = b.Size
		}
		if !b.View.IsZero() {
			view, ok := c.textureViews.get(b.View)
			if !ok {
				return nil, fmt.Errorf("gpucore: create bind group: %w", ErrInvalidCreateInfo)
			}
			entry.View = view
		}
		if !b.Sampler.IsZero() {
			sampler, ok := c.adhocSamplers.get(b.Sampler)
			if !ok {
				return nil, fmt.Errorf("gpucore: create bind group: %w", ErrInvalidCreateInfo)
			}
			entry.Sampler = sampler
		}
		entries[i] = entry
	}

	return c.device.CreateBindGroup(&hal.BindGroupDescriptor{Layout: layout, Entries: entries})
}
