// Package haltest provides an in-memory fake of the explicit GPU API used
// by gpucore's tests: a hal.Device and hal.Queue that record every call
// instead of talking to a real driver, so scenario and property tests can
// assert on ordering and arguments without a GPU present.
package haltest

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Call is one recorded invocation against the Device or Queue.
type Call struct {
	Name string
	Args []any
}

// Device is a fake hal.Device. Every resource creation returns a distinct
// fakeResource so Destroy calls can be matched back to their creator.
type Device struct {
	mu    sync.Mutex
	Calls []Call

	nextID uint64

	// SignaledValue tracks the highest fence value Wait should consider
	// complete. Tests advance it directly to simulate GPU progress.
	SignaledValue uint64

	// ShaderCompileErr, when set, is returned by CreateShaderModule for the
	// label(s) listed in FailShaderLabels (or every call if the set is empty).
	ShaderCompileErr error
	FailShaderLabels map[string]bool
}

// NewDevice constructs an empty fake device.
func NewDevice() *Device {
	return &Device{FailShaderLabels: map[string]bool{}}
}

func (d *Device) record(name string, args ...any) {
	d.mu.Lock()
	d.Calls = append(d.Calls, Call{Name: name, Args: args})
	d.mu.Unlock()
}

type fakeResource struct {
	kind  string
	id    uint64
	label string
}

func (r *fakeResource) Destroy() {}

func (r *fakeResource) NativeHandle() uintptr { return uintptr(r.id) }

func (d *Device) newResource(kind, label string) *fakeResource {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	return &fakeResource{kind: kind, id: id, label: label}
}

func (d *Device) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.record("CreateBuffer", desc.Label, desc.Size, desc.Usage)
	return d.newResource("buffer", desc.Label), nil
}
func (d *Device) DestroyBuffer(b hal.Buffer) { d.record("DestroyBuffer", b) }

func (d *Device) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	d.record("CreateTexture", desc.Label, desc.Size, desc.Format)
	return d.newResource("texture", desc.Label), nil
}
func (d *Device) DestroyTexture(t hal.Texture) { d.record("DestroyTexture", t) }

func (d *Device) CreateTextureView(t hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	d.record("CreateTextureView", t, desc)
	return d.newResource("textureview", ""), nil
}
func (d *Device) DestroyTextureView(v hal.TextureView) { d.record("DestroyTextureView", v) }

func (d *Device) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	d.record("CreateSampler", desc)
	return d.newResource("sampler", ""), nil
}
func (d *Device) DestroySampler(s hal.Sampler) { d.record("DestroySampler", s) }

func (d *Device) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	d.record("CreateBindGroupLayout", desc)
	return d.newResource("bindgrouplayout", ""), nil
}
func (d *Device) DestroyBindGroupLayout(l hal.BindGroupLayout) { d.record("DestroyBindGroupLayout", l) }

func (d *Device) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.record("CreateBindGroup", desc)
	return d.newResource("bindgroup", ""), nil
}
func (d *Device) DestroyBindGroup(g hal.BindGroup) { d.record("DestroyBindGroup", g) }

func (d *Device) CreatePipelineLayout(desc *hal.PipelineLayoutDescriptor) (hal.PipelineLayout, error) {
	d.record("CreatePipelineLayout", desc)
	return d.newResource("pipelinelayout", ""), nil
}
func (d *Device) DestroyPipelineLayout(l hal.PipelineLayout) { d.record("DestroyPipelineLayout", l) }

func (d *Device) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	d.record("CreateShaderModule", desc.Label)
	if d.ShaderCompileErr != nil {
		if len(d.FailShaderLabels) == 0 || d.FailShaderLabels[desc.Label] {
			return nil, fmt.Errorf("haltest: compiling %q: %w", desc.Label, d.ShaderCompileErr)
		}
	}
	return d.newResource("shadermodule", desc.Label), nil
}
func (d *Device) DestroyShaderModule(m hal.ShaderModule) { d.record("DestroyShaderModule", m) }

func (d *Device) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	d.record("CreateRenderPipeline", desc.Label)
	return d.newResource("renderpipeline", desc.Label), nil
}
func (d *Device) DestroyRenderPipeline(p hal.RenderPipeline) { d.record("DestroyRenderPipeline", p) }

func (d *Device) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	d.record("CreateComputePipeline", desc.Label)
	return d.newResource("computepipeline", desc.Label), nil
}
func (d *Device) DestroyComputePipeline(p hal.ComputePipeline) {
	d.record("DestroyComputePipeline", p)
}

func (d *Device) CreateQuerySet(desc *hal.QuerySetDescriptor) (hal.QuerySet, error) {
	d.record("CreateQuerySet")
	return d.newResource("queryset", ""), nil
}
func (d *Device) DestroyQuerySet(s hal.QuerySet) { d.record("DestroyQuerySet", s) }

func (d *Device) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	d.record("CreateCommandEncoder", desc.Label)
	return &CommandEncoder{device: d, label: desc.Label}, nil
}

func (d *Device) CreateRenderBundleEncoder(desc *hal.RenderBundleEncoderDescriptor) (hal.RenderBundleEncoder, error) {
	d.record("CreateRenderBundleEncoder")
	return &RenderBundleEncoder{}, nil
}
func (d *Device) DestroyRenderBundle(b hal.RenderBundle) { d.record("DestroyRenderBundle", b) }

func (d *Device) FreeCommandBuffer(cmdBuffer hal.CommandBuffer) { d.record("FreeCommandBuffer", cmdBuffer) }

func (d *Device) CreateFence() (hal.Fence, error) {
	d.record("CreateFence")
	return d.newResource("fence", ""), nil
}
func (d *Device) DestroyFence(f hal.Fence) { d.record("DestroyFence", f) }

// Wait reports whether SignaledValue has reached value. It never blocks.
func (d *Device) Wait(f hal.Fence, value uint64, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Name: "Wait", Args: []any{value, timeout}})
	return d.SignaledValue >= value, nil
}

func (d *Device) ResetFence(f hal.Fence) error {
	d.record("ResetFence", f)
	return nil
}

func (d *Device) GetFenceStatus(f hal.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SignaledValue > 0, nil
}

func (d *Device) WaitIdle() error {
	d.record("WaitIdle")
	return nil
}

func (d *Device) Destroy() { d.record("Destroy") }

// Signal advances SignaledValue, simulating GPU progress up to value.
func (d *Device) Signal(value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if value > d.SignaledValue {
		d.SignaledValue = value
	}
}

// Queue is a fake hal.Queue paired with a Device.
type Queue struct {
	mu    sync.Mutex
	Calls []Call

	// Submissions records every Submit call, in order.
	Submissions []Submission
}

// Submission is one recorded Queue.Submit call.
type Submission struct {
	CommandBuffers []hal.CommandBuffer
	Fence          hal.Fence
	FenceValue     uint64
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) record(name string, args ...any) {
	q.mu.Lock()
	q.Calls = append(q.Calls, Call{Name: name, Args: args})
	q.mu.Unlock()
}

func (q *Queue) Submit(cmds []hal.CommandBuffer, fence hal.Fence, fenceValue uint64) error {
	q.mu.Lock()
	q.Submissions = append(q.Submissions, Submission{CommandBuffers: cmds, Fence: fence, FenceValue: fenceValue})
	q.mu.Unlock()
	q.record("Submit", len(cmds), fenceValue)
	return nil
}

func (q *Queue) WriteBuffer(b hal.Buffer, offset uint64, data []byte) error {
	q.record("WriteBuffer", offset, len(data))
	return nil
}

func (q *Queue) ReadBuffer(b hal.Buffer, offset uint64, data []byte) error {
	q.record("ReadBuffer", offset, len(data))
	return nil
}

func (q *Queue) WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D) error {
	q.record("WriteTexture", len(data))
	return nil
}

func (q *Queue) Present(surface hal.Surface, texture hal.SurfaceTexture) error {
	q.record("Present")
	return nil
}

func (q *Queue) GetTimestampPeriod() float32 { return 1.0 }

// CommandEncoder is a fake hal.CommandEncoder recording every command
// issued against it rather than building a real command buffer.
type CommandEncoder struct {
	device *Device
	label  string
	Calls  []Call
	ended  bool
}

func (e *CommandEncoder) record(name string, args ...any) {
	e.Calls = append(e.Calls, Call{Name: name, Args: args})
}

func (e *CommandEncoder) BeginEncoding(label string) error {
	e.record("BeginEncoding", label)
	return nil
}

func (e *CommandEncoder) EndEncoding() (hal.CommandBuffer, error) {
	e.record("EndEncoding")
	e.ended = true
	return e.device.newResource("commandbuffer", e.label), nil
}

func (e *CommandEncoder) DiscardEncoding() { e.record("DiscardEncoding") }

func (e *CommandEncoder) ResetAll(cmds []hal.CommandBuffer) { e.record("ResetAll", len(cmds)) }

func (e *CommandEncoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	e.record("TransitionBuffers", len(barriers))
}

func (e *CommandEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.record("TransitionTextures", len(barriers))
}

func (e *CommandEncoder) ClearBuffer(buffer hal.Buffer, offset, size uint64) {
	e.record("ClearBuffer", offset, size)
}

func (e *CommandEncoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	e.record("CopyBufferToBuffer", len(regions))
}

func (e *CommandEncoder) CopyBufferToTexture(src hal.Buffer, dst hal.Texture, regions []hal.BufferTextureCopy) {
	e.record("CopyBufferToTexture", len(regions))
}

func (e *CommandEncoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	e.record("CopyTextureToBuffer", len(regions))
}

func (e *CommandEncoder) CopyTextureToTexture(src, dst hal.Texture, regions []hal.TextureCopy) {
	e.record("CopyTextureToTexture", len(regions))
}

func (e *CommandEncoder) ResolveQuerySet(querySet hal.QuerySet, firstQuery, queryCount uint32, destination hal.Buffer, destinationOffset uint64) {
	e.record("ResolveQuerySet", firstQuery, queryCount, destinationOffset)
}

func (e *CommandEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	e.record("BeginRenderPass")
	return &RenderPassEncoder{}
}

func (e *CommandEncoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	e.record("BeginComputePass")
	return &ComputePassEncoder{}
}

// RenderPassEncoder is a no-op fake satisfying hal.RenderPassEncoder.
type RenderPassEncoder struct{ Calls []Call }

func (e *RenderPassEncoder) End() { e.Calls = append(e.Calls, Call{Name: "End"}) }
func (e *RenderPassEncoder) SetPipeline(p hal.RenderPipeline) {
	e.Calls = append(e.Calls, Call{Name: "SetPipeline"})
}
func (e *RenderPassEncoder) SetBindGroup(index uint32, g hal.BindGroup, offsets []uint32) {
	e.Calls = append(e.Calls, Call{Name: "SetBindGroup", Args: []any{index}})
}
func (e *RenderPassEncoder) SetVertexBuffer(slot uint32, b hal.Buffer, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "SetVertexBuffer", Args: []any{slot}})
}
func (e *RenderPassEncoder) SetIndexBuffer(b hal.Buffer, format gputypes.IndexFormat, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "SetIndexBuffer"})
}
func (e *RenderPassEncoder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	e.Calls = append(e.Calls, Call{Name: "SetViewport"})
}
func (e *RenderPassEncoder) SetScissorRect(x, y, width, height uint32) {
	e.Calls = append(e.Calls, Call{Name: "SetScissorRect"})
}
func (e *RenderPassEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	e.Calls = append(e.Calls, Call{Name: "Draw", Args: []any{vertexCount, instanceCount}})
}
func (e *RenderPassEncoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	e.Calls = append(e.Calls, Call{Name: "DrawIndexed", Args: []any{indexCount, instanceCount}})
}
func (e *RenderPassEncoder) DrawIndirect(b hal.Buffer, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "DrawIndirect"})
}
func (e *RenderPassEncoder) DrawIndexedIndirect(b hal.Buffer, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "DrawIndexedIndirect"})
}
func (e *RenderPassEncoder) ExecuteBundle(bundle hal.RenderBundle) {
	e.Calls = append(e.Calls, Call{Name: "ExecuteBundle"})
}
func (e *RenderPassEncoder) SetBlendConstant(color *gputypes.Color) {
	e.Calls = append(e.Calls, Call{Name: "SetBlendConstant"})
}
func (e *RenderPassEncoder) SetStencilReference(ref uint32) {
	e.Calls = append(e.Calls, Call{Name: "SetStencilReference"})
}

// RenderBundleEncoder is a no-op fake satisfying hal.RenderBundleEncoder.
type RenderBundleEncoder struct{ Calls []Call }

func (e *RenderBundleEncoder) SetPipeline(p hal.RenderPipeline) {
	e.Calls = append(e.Calls, Call{Name: "SetPipeline"})
}
func (e *RenderBundleEncoder) SetBindGroup(index uint32, g hal.BindGroup, offsets []uint32) {
	e.Calls = append(e.Calls, Call{Name: "SetBindGroup", Args: []any{index}})
}
func (e *RenderBundleEncoder) SetVertexBuffer(slot uint32, b hal.Buffer, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "SetVertexBuffer", Args: []any{slot}})
}
func (e *RenderBundleEncoder) SetIndexBuffer(b hal.Buffer, format gputypes.IndexFormat, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "SetIndexBuffer"})
}
func (e *RenderBundleEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	e.Calls = append(e.Calls, Call{Name: "Draw", Args: []any{vertexCount, instanceCount}})
}
func (e *RenderBundleEncoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	e.Calls = append(e.Calls, Call{Name: "DrawIndexed", Args: []any{indexCount, instanceCount}})
}
func (e *RenderBundleEncoder) Finish() hal.RenderBundle {
	e.Calls = append(e.Calls, Call{Name: "Finish"})
	return &fakeResource{kind: "renderbundle"}
}

// ComputePassEncoder is a no-op fake satisfying hal.ComputePassEncoder.
type ComputePassEncoder struct{ Calls []Call }

func (e *ComputePassEncoder) End() { e.Calls = append(e.Calls, Call{Name: "End"}) }
func (e *ComputePassEncoder) SetPipeline(p hal.ComputePipeline) {
	e.Calls = append(e.Calls, Call{Name: "SetPipeline"})
}
func (e *ComputePassEncoder) SetBindGroup(index uint32, g hal.BindGroup, offsets []uint32) {
	e.Calls = append(e.Calls, Call{Name: "SetBindGroup", Args: []any{index}})
}
func (e *ComputePassEncoder) Dispatch(x, y, z uint32) {
	e.Calls = append(e.Calls, Call{Name: "Dispatch", Args: []any{x, y, z}})
}
func (e *ComputePassEncoder) DispatchIndirect(b hal.Buffer, offset uint64) {
	e.Calls = append(e.Calls, Call{Name: "DispatchIndirect"})
}

// Surface is a fake hal.Surface recording every call, returning an error
// from AcquireTexture only when AcquireErr is set.
type Surface struct {
	Calls []Call

	AcquireErr error
	nextID     uint64
}

func (s *Surface) Destroy() { s.Calls = append(s.Calls, Call{Name: "Destroy"}) }

func (s *Surface) Configure(device hal.Device, config *hal.SurfaceConfiguration) error {
	s.Calls = append(s.Calls, Call{Name: "Configure", Args: []any{config.Width, config.Height, config.Format}})
	return nil
}

func (s *Surface) Unconfigure(device hal.Device) {
	s.Calls = append(s.Calls, Call{Name: "Unconfigure"})
}

func (s *Surface) AcquireTexture(fence hal.Fence) (*hal.AcquiredSurfaceTexture, error) {
	s.Calls = append(s.Calls, Call{Name: "AcquireTexture"})
	if s.AcquireErr != nil {
		return nil, s.AcquireErr
	}
	s.nextID++
	tex := &fakeResource{kind: "surfacetexture", id: s.nextID}
	return &hal.AcquiredSurfaceTexture{Texture: tex}, nil
}

func (s *Surface) DiscardTexture(texture hal.SurfaceTexture) {
	s.Calls = append(s.Calls, Call{Name: "DiscardTexture"})
}
