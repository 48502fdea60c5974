package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// CommandBuffer is the draw-call surface a RenderGraph pass callback
// receives. Its method set is a superset: draw/bind calls panic-free but
// record an error (retrievable via Err after the callback returns) when
// called on a CommandBuffer built for a pass that declared no framebuffer-
// forming resource, since those commands are only valid inside a render
// pass.
type CommandBuffer struct {
	ptc     *PerThreadContext
	encoder hal.CommandEncoder
	rp      hal.RenderPassEncoder // nil outside a render pass
	attachments map[string]resolvedAttachment
	renderPassInfo RenderPassInfo

	fbWidth, fbHeight uint32

	pendingPipeline     string
	pendingVertexLayout map[uint32]VertexBufferLayoutInfo
	pendingBindings     map[uint32][]ResourceBinding

	err error
}

func (cb *CommandBuffer) fail(err error) *CommandBuffer {
	if cb.err == nil {
		cb.err = err
	}
	return cb
}

// Err returns the first error recorded while building this command
// buffer, or nil.
func (cb *CommandBuffer) Err() error { return cb.err }

func (cb *CommandBuffer) requireRenderPass(op string) bool {
	if cb.rp == nil {
		cb.fail(fmt.Errorf("gpucore: %s requires a framebuffer-forming pass: %w", op, ErrInvalidCreateInfo))
		return false
	}
	return true
}

// SetViewport sets the viewport transformation.
func (cb *CommandBuffer) SetViewport(x, y, width, height, minDepth, maxDepth float32) *CommandBuffer {
	if !cb.requireRenderPass("SetViewport") {
		return cb
	}
	cb.rp.SetViewport(x, y, width, height, minDepth, maxDepth)
	return cb
}

// SetViewportFramebuffer sets the viewport to cover the pass's full
// framebuffer extent.
func (cb *CommandBuffer) SetViewportFramebuffer() *CommandBuffer {
	return cb.SetViewport(0, 0, float32(cb.fbWidth), float32(cb.fbHeight), 0, 1)
}

// SetScissor sets the scissor rectangle.
func (cb *CommandBuffer) SetScissor(x, y, width, height uint32) *CommandBuffer {
	if !cb.requireRenderPass("SetScissor") {
		return cb
	}
	cb.rp.SetScissorRect(x, y, width, height)
	return cb
}

// SetScissorFramebuffer sets the scissor rectangle to cover the pass's
// full framebuffer extent.
func (cb *CommandBuffer) SetScissorFramebuffer() *CommandBuffer {
	return cb.SetScissor(0, 0, cb.fbWidth, cb.fbHeight)
}

// BindVertexBuffer binds buffer at slot using layout's packed binding
// description. The layout is recorded for the pipeline derivation that
// happens lazily at the first Draw/DrawIndexed call, since the base
// pipeline registered by name carries no vertex layout of its own.
func (cb *CommandBuffer) BindVertexBuffer(slot uint32, buffer hal.Buffer, offset uint64, layout VertexBufferLayoutInfo) *CommandBuffer {
	if !cb.requireRenderPass("BindVertexBuffer") {
		return cb
	}
	if cb.pendingVertexLayout == nil {
		cb.pendingVertexLayout = make(map[uint32]VertexBufferLayoutInfo)
	}
	cb.pendingVertexLayout[slot] = layout
	cb.rp.SetVertexBuffer(slot, buffer, offset)
	return cb
}

// BindIndexBuffer binds buffer as the index buffer.
func (cb *CommandBuffer) BindIndexBuffer(buffer hal.Buffer, format gputypes.IndexFormat, offset uint64) *CommandBuffer {
	if !cb.requireRenderPass("BindIndexBuffer") {
		return cb
	}
	cb.rp.SetIndexBuffer(buffer, format, offset)
	return cb
}

// BindGraphicsPipeline selects the named pipeline base for the eventual
// concrete pipeline derivation. The concrete hal.RenderPipeline is only
// compiled (or fetched from cache) lazily, once the vertex layouts bound
// via BindVertexBuffer and the pass's attachment formats are all known.
func (cb *CommandBuffer) BindGraphicsPipeline(name string) *CommandBuffer {
	if !cb.requireRenderPass("BindGraphicsPipeline") {
		return cb
	}
	cb.pendingPipeline = name
	return cb
}

// BindUniformBuffer binds alloc at (set, binding) as a uniform buffer.
func (cb *CommandBuffer) BindUniformBuffer(set, binding uint32, alloc ScratchAllocation) *CommandBuffer {
	return cb.addBinding(set, ResourceBinding{Binding: binding, Buffer: cb.internBuffer(alloc.Buffer), Offset: alloc.Offset, Size: alloc.Size})
}

// BindSampledImage binds img at (set, binding) as a sampled image.
func (cb *CommandBuffer) BindSampledImage(set, binding uint32, img SampledImage) *CommandBuffer {
	return cb.addBinding(set, ResourceBinding{Binding: binding, View: cb.internView(img.View), Sampler: cb.internSampler(img.Sampler)})
}

// BindSampledImageByName binds the named render-graph attachment at
// (set, binding), sampled with a sampler built from settings.
func (cb *CommandBuffer) BindSampledImageByName(set, binding uint32, name string, settings SamplerInfo) *CommandBuffer {
	si, err := cb.MakeSampledImageByName(name, settings)
	if err != nil {
		return cb.fail(err)
	}
	return cb.BindSampledImage(set, binding, *si)
}

// MakeSampledImageByName pairs the named render-graph attachment's view
// with a sampler built from settings, drawn from the frame's sampled-image
// pool. The returned reference is stable until the frame slot is recycled.
func (cb *CommandBuffer) MakeSampledImageByName(name string, settings SamplerInfo) (*SampledImage, error) {
	a, ok := cb.attachments[name]
	if !ok {
		return nil, fmt.Errorf("gpucore: sampled image: unknown attachment %q: %w", name, ErrInvalidCreateInfo)
	}
	return cb.ptc.MakeSampledImageWithSettings(a.view, settings)
}

func (cb *CommandBuffer) addBinding(set uint32, b ResourceBinding) *CommandBuffer {
	if !cb.requireRenderPass("BindUniformBuffer/BindSampledImage") {
		return cb
	}
	if cb.pendingBindings == nil {
		cb.pendingBindings = make(map[uint32][]ResourceBinding)
	}
	cb.pendingBindings[set] = append(cb.pendingBindings[set], b)
	return cb
}

// internBuffer interns the scratch allocator's long-lived block
// buffers so bindings referencing them can hash-compare by Handle instead
// of by pointer identity, without forcing every scratch write through the
// resource table.
func (cb *CommandBuffer) internBuffer(b hal.Buffer) Handle {
	return cb.ptc.ctx.scratch.internBlockBuffer(b)
}

func (cb *CommandBuffer) internView(v hal.TextureView) Handle {
	return cb.ptc.ctx.internTextureView(v)
}

func (cb *CommandBuffer) internSampler(s hal.Sampler) Handle {
	return cb.ptc.ctx.internSampler(s)
}

// WriteScratchUniformBinding allocates a CPUtoGPU scratch uniform of size
// bytes, invokes fill to populate it, writes it through the queue, and
// binds it at (set, binding) — the Go equivalent of a typed scratch
// uniform mapping valid only within the pass callback.
func (cb *CommandBuffer) WriteScratchUniformBinding(set, binding uint32, size uint64, align uint64, fill func([]byte)) *CommandBuffer {
	if !cb.requireRenderPass("WriteScratchUniformBinding") {
		return cb
	}
	data := make([]byte, size)
	fill(data)
	alloc, err := cb.ptc.WriteScratchUniform(data, align)
	if err != nil {
		return cb.fail(err)
	}
	return cb.BindUniformBuffer(set, binding, alloc)
}

// resolvePipeline derives the concrete hal.RenderPipeline for the pass's
// currently bound pipeline name, vertex layouts, and attachment formats.
func (cb *CommandBuffer) resolvePipeline() (hal.RenderPipeline, error) {
	if cb.pendingPipeline == "" {
		var zero hal.RenderPipeline
		return zero, fmt.Errorf("gpucore: draw with no bound pipeline: %w", ErrInvalidCreateInfo)
	}
	base, ok := cb.ptc.ctx.GetNamedPipeline(cb.pendingPipeline)
	if !ok {
		var zero hal.RenderPipeline
		return zero, fmt.Errorf("gpucore: unknown pipeline %q: %w", cb.pendingPipeline, ErrNamedPipelineNotFound)
	}

	maxSlot := uint32(0)
	for slot := range cb.pendingVertexLayout {
		if slot+1 > maxSlot {
			maxSlot = slot + 1
		}
	}
	var vertexBuffers []VertexBufferLayoutInfo
	if maxSlot > 0 {
		vertexBuffers = make([]VertexBufferLayoutInfo, maxSlot)
		for slot, l := range cb.pendingVertexLayout {
			vertexBuffers[slot] = l
		}
	}

	var colorFormats []gputypes.TextureFormat
	var depthFormat gputypes.TextureFormat
	sampleCount := uint32(1)
	for _, a := range cb.renderPassInfo.ColorAttachments {
		colorFormats = append(colorFormats, a.Format)
		sampleCount = a.Samples
	}
	if cb.renderPassInfo.DepthStencil != nil {
		depthFormat = cb.renderPassInfo.DepthStencil.Format
		sampleCount = cb.renderPassInfo.DepthStencil.Samples
	}

	return cb.ptc.ctx.GetPipeline(PipelineInfo{
		Base:          base,
		RenderPass:    cb.renderPassInfo,
		VertexBuffers: vertexBuffers,
		ColorFormats:  colorFormats,
		DepthFormat:   depthFormat,
		SampleCount:   sampleCount,
	})
}

func (cb *CommandBuffer) resolveBindGroups() error {
	for set, bindings := range cb.pendingBindings {
		layout, err := cb.ptc.ctx.getOrCreateSetLayoutForBindings(bindings)
		if err != nil {
			return err
		}
		bg, err := cb.ptc.AcquireDescriptorSet(DescriptorSetInfo{Layout: layout, Bindings: bindings}, func() (hal.BindGroup, error) {
			return cb.ptc.ctx.createBindGroup(layout, bindings)
		})
		if err != nil {
			return err
		}
		cb.rp.SetBindGroup(set, bg, nil)
	}
	return nil
}

// Draw resolves the pending pipeline and bind groups, then issues a
// non-indexed draw.
func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) *CommandBuffer {
	if !cb.requireRenderPass("Draw") {
		return cb
	}
	pipeline, err := cb.resolvePipeline()
	if err != nil {
		return cb.fail(err)
	}
	if err := cb.resolveBindGroups(); err != nil {
		return cb.fail(err)
	}
	cb.rp.SetPipeline(pipeline)
	cb.rp.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return cb
}

// DrawIndexed resolves the pending pipeline and bind groups, then issues
// an indexed draw.
func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) *CommandBuffer {
	if !cb.requireRenderPass("DrawIndexed") {
		return cb
	}
	pipeline, err := cb.resolvePipeline()
	if err != nil {
		return cb.fail(err)
	}
	if err := cb.resolveBindGroups(); err != nil {
		return cb.fail(err)
	}
	cb.rp.SetPipeline(pipeline)
	cb.rp.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	return cb
}

// ResolveImage resolves the multisampled attachment src into dst. Both
// names must already be resolved render-graph attachments of equal
// extent; hal exposes no dedicated MSAA resolve command, so this is
// implemented as a same-extent texture-to-texture copy, which is only
// correct when src's sample count is 1 at the copy boundary (the common
// case once the render pass that wrote src already resolved on output).
// For backends needing a true multisample resolve, bind src as a color
// attachment with a resolve target instead of declaring a separate pass.
func (cb *CommandBuffer) ResolveImage(src, dst string) *CommandBuffer {
	return cb.copyImage(src, dst)
}

// BlitImage copies the region of src described by region into dst. hal has
// no sampler-based scaling blit, and region carries a single extent used
// for both source and destination, so the copy is never scaled and filter
// is ignored.
func (cb *CommandBuffer) BlitImage(src, dst string, region ImageBlitRegion, filter gputypes.FilterMode) *CommandBuffer {
	if !cb.requireEncoder("BlitImage") {
		return cb
	}
	s, ok := cb.attachments[src]
	if !ok {
		return cb.fail(fmt.Errorf("gpucore: blit: unknown source attachment %q: %w", src, ErrInvalidCreateInfo))
	}
	d, ok := cb.attachments[dst]
	if !ok {
		return cb.fail(fmt.Errorf("gpucore: blit: unknown destination attachment %q: %w", dst, ErrInvalidCreateInfo))
	}
	cb.encoder.CopyTextureToTexture(s.texture, d.texture, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: s.texture, Origin: hal.Origin3D{X: uint32(region.SrcX), Y: uint32(region.SrcY)}},
		DstBase: hal.ImageCopyTexture{Texture: d.texture, Origin: hal.Origin3D{X: uint32(region.DstX), Y: uint32(region.DstY)}},
		Size:    hal.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: 1},
	}})
	return cb
}

// ImageBlitRegion describes one rectangular region copied by BlitImage.
type ImageBlitRegion struct {
	SrcX, SrcY int32
	DstX, DstY int32
	Width, Height uint32
}

// GenerateMips fills mip levels 1..mipCount-1 of texture by copying each
// level from the previous one at half the extent, down from baseWidth x
// baseHeight at level 0. hal exposes no sampler-based downsampling blit,
// so each step is a same-extent-halving texture-to-texture copy rather
// than a true box filter; callers needing filtered mip generation must
// render each level instead of calling this.
func (cb *CommandBuffer) GenerateMips(texture hal.Texture, baseWidth, baseHeight, mipCount uint32) *CommandBuffer {
	if !cb.requireEncoder("GenerateMips") {
		return cb
	}
	w, h := baseWidth, baseHeight
	for level := uint32(1); level < mipCount; level++ {
		w, h = w/2, h/2
		if w == 0 {
			w = 1
		}
		if h == 0 {
			h = 1
		}
		cb.encoder.CopyTextureToTexture(texture, texture, []hal.TextureCopy{{
			SrcBase: hal.ImageCopyTexture{Texture: texture, MipLevel: level - 1},
			DstBase: hal.ImageCopyTexture{Texture: texture, MipLevel: level},
			Size:    hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		}})
	}
	return cb
}

func (cb *CommandBuffer) copyImage(src, dst string) *CommandBuffer {
	if !cb.requireEncoder("ResolveImage") {
		return cb
	}
	s, ok := cb.attachments[src]
	if !ok {
		return cb.fail(fmt.Errorf("gpucore: resolve: unknown source attachment %q: %w", src, ErrInvalidCreateInfo))
	}
	d, ok := cb.attachments[dst]
	if !ok {
		return cb.fail(fmt.Errorf("gpucore: resolve: unknown destination attachment %q: %w", dst, ErrInvalidCreateInfo))
	}
	w, h := s.width, s.height
	if d.width < w {
		w = d.width
	}
	if d.height < h {
		h = d.height
	}
	cb.encoder.CopyTextureToTexture(s.texture, d.texture, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: s.texture},
		DstBase: hal.ImageCopyTexture{Texture: d.texture},
		Size:    hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	return cb
}

func (cb *CommandBuffer) requireEncoder(op string) bool {
	if cb.encoder == nil {
		cb.fail(fmt.Errorf("gpucore: %s requires a command encoder: %w", op, ErrInvalidCreateInfo))
		return false
	}
	return true
}
