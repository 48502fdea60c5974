package gpucore

import "github.com/gogpu/gputypes"

// This file defines the create-info value types for every cacheable
// resource kind: structurally hashable, equality-comparable, and carrying
// no pointers into caller memory beyond stable identifiers (resource
// handles owned by this package, or plain strings). Cache[CreateInfo, T]
// and PerFrameCache[CreateInfo, T] key entries by structuralHash(), never
// by Go's built-in map equality over the struct — two create-infos that
// describe the same resource must hash identically even if built through
// different call sites.

// AttachmentInfo describes one render pass attachment's format, sample
// count, and load/store behavior.
type AttachmentInfo struct {
	Format     gputypes.TextureFormat
	Samples    uint32
	LoadClear  bool
	StoreKeep  bool
	InitialUse gputypes.TextureUsage
	FinalUse   gputypes.TextureUsage
}

func (a AttachmentInfo) writeHash(h hashWriter) {
	h.u32(uint32(a.Format))
	h.u32(a.Samples)
	h.b(a.LoadClear)
	h.b(a.StoreKeep)
	h.u32(uint32(a.InitialUse))
	h.u32(uint32(a.FinalUse))
}

// RenderPassInfo is the create-info for a render pass object: its ordered
// color attachments plus an optional depth-stencil attachment.
type RenderPassInfo struct {
	Label              string
	ColorAttachments   []AttachmentInfo
	DepthStencil       *AttachmentInfo
	SampleCount        uint32
}

func (ci RenderPassInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.s(ci.Label)
	h.u32(uint32(len(ci.ColorAttachments)))
	for _, a := range ci.ColorAttachments {
		a.writeHash(h)
	}
	if ci.DepthStencil != nil {
		h.b(true)
		ci.DepthStencil.writeHash(h)
	} else {
		h.b(false)
	}
	h.u32(ci.SampleCount)
	return h.sum()
}

// ShaderModuleInfo is the create-info for a shader module: its source text
// and a human-readable label, hashed by source content only (the label is
// not part of the key) so two identical sources always intern to one module.
type ShaderModuleInfo struct {
	Label  string
	Source string
}

func (ci ShaderModuleInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.s(ci.Source)
	return h.sum()
}

// VertexAttributeInfo describes one vertex attribute within a packed
// binding layout: a format token, or a skip-N-bytes token when Format is
// the zero value and SkipBytes is nonzero.
type VertexAttributeInfo struct {
	ShaderLocation uint32
	Format         gputypes.VertexFormat
	SkipBytes      uint32
}

// VertexBufferLayoutInfo is one vertex buffer slot's packed binding layout.
type VertexBufferLayoutInfo struct {
	StepMode   gputypes.VertexStepMode
	Attributes []VertexAttributeInfo
}

// PipelineBaseInfo is the create-info for a pipeline base: shader modules
// plus the fixed-function state common to every concrete pipeline derived
// from it (topology, culling, vertex layout, blend). It deliberately omits
// render-pass-and-subpass state, which is supplied separately at draw time
// when deriving a concrete PipelineInfo.
type PipelineBaseInfo struct {
	Label              string
	VertexShader       Handle
	VertexEntryPoint   string
	FragmentShader     Handle
	FragmentEntryPoint string
	VertexBuffers      []VertexBufferLayoutInfo
	Topology           gputypes.PrimitiveTopology
	FrontFace          gputypes.FrontFace
	CullMode           gputypes.CullMode
	DepthWriteEnabled  bool
	DepthCompare       gputypes.CompareFunction
	BlendEnabled       bool
	SrcFactor          gputypes.BlendFactor
	DstFactor          gputypes.BlendFactor
	BlendOp            gputypes.BlendOperation
}

func (ci PipelineBaseInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.s(ci.Label)
	h.u64(uint64(ci.VertexShader.index)<<32 | uint64(ci.VertexShader.generation))
	h.s(ci.VertexEntryPoint)
	h.u64(uint64(ci.FragmentShader.index)<<32 | uint64(ci.FragmentShader.generation))
	h.s(ci.FragmentEntryPoint)
	h.u32(uint32(len(ci.VertexBuffers)))
	for _, vb := range ci.VertexBuffers {
		h.u32(uint32(vb.StepMode))
		h.u32(uint32(len(vb.Attributes)))
		for _, a := range vb.Attributes {
			h.u32(a.ShaderLocation)
			h.u32(uint32(a.Format))
			h.u32(a.SkipBytes)
		}
	}
	h.u32(uint32(ci.Topology))
	h.u32(uint32(ci.FrontFace))
	h.u32(uint32(ci.CullMode))
	h.b(ci.DepthWriteEnabled)
	h.u32(uint32(ci.DepthCompare))
	h.b(ci.BlendEnabled)
	h.u32(uint32(ci.SrcFactor))
	h.u32(uint32(ci.DstFactor))
	h.u32(uint32(ci.BlendOp))
	return h.sum()
}

// PipelineInfo is the create-info for a concrete pipeline derived from a
// base plus the render-pass-and-subpass state supplied at draw time. One
// base produces many concrete pipelines, one per render-pass signature it
// is drawn against; this is the key that gives each exact combination
// perfect cross-frame reuse.
type PipelineInfo struct {
	Base           Handle
	RenderPass     RenderPassInfo
	// VertexBuffers overrides the base's packed vertex-buffer layout when
	// non-nil, matching a layout bound at draw time (BindVertexBuffer)
	// rather than fixed at registration.
	VertexBuffers  []VertexBufferLayoutInfo
	ColorFormats   []gputypes.TextureFormat
	DepthFormat    gputypes.TextureFormat
	SampleCount    uint32
}

func (ci PipelineInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.u64(uint64(ci.Base.index)<<32 | uint64(ci.Base.generation))
	h.u64(ci.RenderPass.structuralHash())
	h.u32(uint32(len(ci.VertexBuffers)))
	for _, vb := range ci.VertexBuffers {
		h.u32(uint32(vb.StepMode))
		h.u32(uint32(len(vb.Attributes)))
		for _, a := range vb.Attributes {
			h.u32(a.ShaderLocation)
			h.u32(uint32(a.Format))
			h.u32(a.SkipBytes)
		}
	}
	h.u32(uint32(len(ci.ColorFormats)))
	for _, f := range ci.ColorFormats {
		h.u32(uint32(f))
	}
	h.u32(uint32(ci.DepthFormat))
	h.u32(ci.SampleCount)
	return h.sum()
}

// ComputePipelineInfo is the create-info for a compute pipeline: it has no
// base/derivation split since it carries no render-pass-dependent state.
type ComputePipelineInfo struct {
	Label       string
	Shader      Handle
	EntryPoint  string
}

func (ci ComputePipelineInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.s(ci.Label)
	h.u64(uint64(ci.Shader.index)<<32 | uint64(ci.Shader.generation))
	h.s(ci.EntryPoint)
	return h.sum()
}

// PipelineLayoutInfo is the create-info for a pipeline layout: an ordered
// list of bind-group-layout handles.
type PipelineLayoutInfo struct {
	SetLayouts []Handle
}

func (ci PipelineLayoutInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.u32(uint32(len(ci.SetLayouts)))
	for _, l := range ci.SetLayouts {
		h.u64(uint64(l.index)<<32 | uint64(l.generation))
	}
	return h.sum()
}

// BindingInfo describes one binding slot within a descriptor set layout.
type BindingInfo struct {
	Binding uint32
	Kind    gputypes.BufferBindingType
	Count   uint32
}

// DescriptorSetLayoutInfo is the create-info for a descriptor set layout.
type DescriptorSetLayoutInfo struct {
	Bindings []BindingInfo
}

func (ci DescriptorSetLayoutInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.u32(uint32(len(ci.Bindings)))
	for _, b := range ci.Bindings {
		h.u32(b.Binding)
		h.u32(uint32(b.Kind))
		h.u32(b.Count)
	}
	return h.sum()
}

// SamplerInfo is the create-info for a sampler.
type SamplerInfo struct {
	MinFilter    gputypes.FilterMode
	MagFilter    gputypes.FilterMode
	MipmapFilter gputypes.MipmapFilterMode
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MaxAnisotropy uint16
}

func (ci SamplerInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.u32(uint32(ci.MinFilter))
	h.u32(uint32(ci.MagFilter))
	h.u32(uint32(ci.MipmapFilter))
	h.u32(uint32(ci.AddressModeU))
	h.u32(uint32(ci.AddressModeV))
	h.u32(uint32(ci.AddressModeW))
	h.u32(uint32(ci.MaxAnisotropy))
	return h.sum()
}

// TransientImageDimension selects how a render-graph transient image's
// extent is derived.
type TransientImageDimension int

const (
	// TransientImageAbsolute uses an explicit width/height.
	TransientImageAbsolute TransientImageDimension = iota
	// TransientImageFramebuffer matches the frame's output extent exactly.
	TransientImageFramebuffer
	// TransientImageScaled multiplies the frame's output extent by Scale.
	TransientImageScaled
)

// TransientImageInfo is the create-info for a render-graph transient
// image: a framebuffer attachment whose backing physical image is
// allocated from a per-frame cache.
type TransientImageInfo struct {
	Name        string
	Format      gputypes.TextureFormat
	Dimension   TransientImageDimension
	Width       uint32
	Height      uint32
	Scale       float32
	SampleCount uint32
	Usage       gputypes.TextureUsage
}

func (ci TransientImageInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.s(ci.Name)
	h.u32(uint32(ci.Format))
	h.u32(uint32(ci.Dimension))
	h.u32(ci.Width)
	h.u32(ci.Height)
	h.u32(uint32(ci.Scale * 1000))
	h.u32(ci.SampleCount)
	h.u32(uint32(ci.Usage))
	return h.sum()
}

// LinearBlockInfo is the create-info for one scratch allocator block.
type LinearBlockInfo struct {
	Usage MemoryUsage
	Size  uint64
}

func (ci LinearBlockInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.u32(uint32(ci.Usage))
	h.u64(ci.Size)
	return h.sum()
}

// DescriptorSetInfo is the create-info for a descriptor set: the layout it
// conforms to plus the concrete resources bound at each slot. Two
// descriptor sets with equal DescriptorSetInfo values descriptor-write to
// equivalent targets even if built on different threads in the same
// frame — the cross-thread per-frame cache guarantee.
type DescriptorSetInfo struct {
	Layout   Handle
	Bindings []ResourceBinding
}

// ResourceBinding is one concrete resource bound at a descriptor set slot.
type ResourceBinding struct {
	Binding uint32
	Buffer  Handle
	View    Handle
	Sampler Handle
	Offset  uint64
	Size    uint64
}

func (ci DescriptorSetInfo) structuralHash() uint64 {
	h := newHashWriter()
	h.u64(uint64(ci.Layout.index)<<32 | uint64(ci.Layout.generation))
	h.u32(uint32(len(ci.Bindings)))
	for _, b := range ci.Bindings {
		h.u32(b.Binding)
		h.u64(uint64(b.Buffer.index)<<32 | uint64(b.Buffer.generation))
		h.u64(uint64(b.View.index)<<32 | uint64(b.View.generation))
		h.u64(uint64(b.Sampler.index)<<32 | uint64(b.Sampler.generation))
		h.u64(b.Offset)
		h.u64(b.Size)
	}
	return h.sum()
}
