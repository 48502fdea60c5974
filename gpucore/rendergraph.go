package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ImageUsage declares how a pass touches one named render-graph resource.
// A pass whose resources are all ImageUsageTransferSrc/Dst or
// ImageUsageSampled executes outside a render pass; a pass touching at
// least one color or depth-stencil usage forms a framebuffer and executes
// inside one.
type ImageUsage int

const (
	ImageUsageColorWrite ImageUsage = iota
	ImageUsageColorRead
	ImageUsageDepthStencilRW
	ImageUsageDepthStencilRead
	ImageUsageTransferSrc
	ImageUsageTransferDst
	ImageUsageSampled
)

func (u ImageUsage) formsFramebuffer() bool {
	return u == ImageUsageColorWrite || u == ImageUsageColorRead || u == ImageUsageDepthStencilRW || u == ImageUsageDepthStencilRead
}

// ResourceUse names one resource a pass touches and how.
type ResourceUse struct {
	Name  string
	Usage ImageUsage
}

// ClearValue is the attachment clear value applied when a render-graph
// image's first use in a pass has an implicit LoadOpClear.
type ClearValue struct {
	Color          gputypes.Color
	Depth          float32
	Stencil        uint32
	IsDepthStencil bool
}

// PassInfo declares one render-graph pass: the resources it touches by
// name and usage, and the callback that records its commands. Execute
// receives a CommandBuffer scoped to exactly what the pass declared: a
// render-pass-bound buffer if any resource forms a framebuffer, otherwise
// a bare encoder-bound buffer restricted to transfer-style commands.
type PassInfo struct {
	Name      string
	Resources []ResourceUse
	Execute   func(*CommandBuffer) error
}

type attachmentDecl struct {
	info  TransientImageInfo
	clear ClearValue
	// external, when non-nil, is bound directly instead of resolved through
	// the transient-image cache — the swapchain's current image, say.
	external hal.TextureView
}

// RenderGraph collects a frame's passes and managed or external attachment
// declarations, then resolves and executes them in declaration order
// against a PerThreadContext. It does not reorder or merge passes; the
// caller declares them already topologically sorted, matching the single-
// queue command-buffer model this context drives.
type RenderGraph struct {
	passes      []PassInfo
	attachments map[string]attachmentDecl
	framebuffer struct {
		width, height uint32
	}
}

// NewRenderGraph returns an empty render graph for one frame.
func NewRenderGraph() *RenderGraph {
	return &RenderGraph{attachments: make(map[string]attachmentDecl)}
}

// AddPass appends a pass to the graph.
func (rg *RenderGraph) AddPass(p PassInfo) {
	rg.passes = append(rg.passes, p)
}

// AttachManaged declares a transient image the graph allocates and
// recycles through the context's per-frame image cache.
func (rg *RenderGraph) AttachManaged(name string, info TransientImageInfo, clear ClearValue) {
	info.Name = name
	rg.attachments[name] = attachmentDecl{info: info, clear: clear}
}

// AttachExternal binds name directly to an externally owned view, such as
// the swapchain's current backbuffer, instead of resolving it through the
// transient-image cache.
func (rg *RenderGraph) AttachExternal(name string, view hal.TextureView, clear ClearValue) {
	rg.attachments[name] = attachmentDecl{external: view, clear: clear}
}

// SetFramebufferExtent fixes the extent TransientImageFramebuffer and
// TransientImageScaled attachments resolve against. Must be called before
// Execute whenever the graph declares such an attachment.
func (rg *RenderGraph) SetFramebufferExtent(width, height uint32) {
	rg.framebuffer.width = width
	rg.framebuffer.height = height
}

type resolvedAttachment struct {
	texture     hal.Texture
	view        hal.TextureView
	format      gputypes.TextureFormat
	width       uint32
	height      uint32
	sampleCount uint32
	clear       ClearValue
}

// Execute resolves every declared attachment, then records each pass in
// order: passes touching only transfer/sampled usages get a bare command
// buffer, passes touching a color or depth-stencil usage get one
// surrounding a BeginRenderPass/End pair sized to their color attachments'
// common extent.
func (rg *RenderGraph) Execute(ptc *PerThreadContext) error {
	resolved := make(map[string]resolvedAttachment, len(rg.attachments))
	for name, decl := range rg.attachments {
		r, err := rg.resolveAttachment(ptc, name, decl)
		if err != nil {
			return fmt.Errorf("gpucore: resolve attachment %q: %w", name, err)
		}
		resolved[name] = r
	}

	for _, pass := range rg.passes {
		if err := rg.executePass(ptc, pass, resolved); err != nil {
			if pass.Name != "" {
				return fmt.Errorf("gpucore: pass %q: %w", pass.Name, err)
			}
			return err
		}
	}
	return nil
}

func (rg *RenderGraph) resolveAttachment(ptc *PerThreadContext, name string, decl attachmentDecl) (resolvedAttachment, error) {
	if decl.external != nil {
		return resolvedAttachment{view: decl.external, sampleCount: 1, clear: decl.clear}, nil
	}

	info := decl.info
	width, height := info.Width, info.Height
	switch info.Dimension {
	case TransientImageFramebuffer:
		width, height = rg.framebuffer.width, rg.framebuffer.height
	case TransientImageScaled:
		width = uint32(float32(rg.framebuffer.width) * info.Scale)
		height = uint32(float32(rg.framebuffer.height) * info.Scale)
	}

	tex, err := ptc.AcquireTransientImage(info, func() (hal.Texture, error) {
		return ptc.ctx.device.CreateTexture(&hal.TextureDescriptor{
			Label:       name,
			Dimension:   gputypes.TextureDimension2D,
			Size:        hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
			Format:      info.Format,
			Usage:       info.Usage,
			SampleCount: info.SampleCount,
			MipLevelCount: 1,
		})
	})
	if err != nil {
		return resolvedAttachment{}, err
	}
	view, err := ptc.ctx.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: name})
	if err != nil {
		return resolvedAttachment{}, fmt.Errorf("create view: %w", err)
	}
	sampleCount := info.SampleCount
	if sampleCount == 0 {
		sampleCount = 1
	}
	return resolvedAttachment{texture: tex, view: view, format: info.Format, width: width, height: height, sampleCount: sampleCount, clear: decl.clear}, nil
}

func (rg *RenderGraph) executePass(ptc *PerThreadContext, pass PassInfo, resolved map[string]resolvedAttachment) error {
	framebuffered := false
	for _, r := range pass.Resources {
		if r.Usage.formsFramebuffer() {
			framebuffered = true
			break
		}
	}

	enc, err := ptc.CommandEncoder()
	if err != nil {
		return err
	}

	if !framebuffered {
		cb := &CommandBuffer{ptc: ptc, encoder: enc, attachments: resolved}
		return pass.Execute(cb)
	}

	var colorAttachments []hal.RenderPassColorAttachment
	var depthStencil *hal.RenderPassDepthStencilAttachment
	var width, height uint32
	passInfo := RenderPassInfo{Label: pass.Name}

	for _, r := range pass.Resources {
		a, ok := resolved[r.Name]
		if !ok {
			return fmt.Errorf("pass references undeclared resource %q", r.Name)
		}
		switch r.Usage {
		case ImageUsageColorWrite, ImageUsageColorRead:
			loadOp := gputypes.LoadOpLoad
			clear := r.Usage == ImageUsageColorWrite
			if clear {
				loadOp = gputypes.LoadOpClear
			}
			colorAttachments = append(colorAttachments, hal.RenderPassColorAttachment{
				View:       a.view,
				LoadOp:     loadOp,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: a.clear.Color,
			})
			passInfo.ColorAttachments = append(passInfo.ColorAttachments, AttachmentInfo{
				Format: a.format, Samples: a.sampleCount, LoadClear: clear, StoreKeep: true,
			})
			width, height = a.width, a.height
		case ImageUsageDepthStencilRW, ImageUsageDepthStencilRead:
			loadOp := gputypes.LoadOpLoad
			clear := r.Usage == ImageUsageDepthStencilRW
			if clear {
				loadOp = gputypes.LoadOpClear
			}
			depthStencil = &hal.RenderPassDepthStencilAttachment{
				View:              a.view,
				DepthLoadOp:       loadOp,
				DepthStoreOp:      gputypes.StoreOpStore,
				DepthClearValue:   a.clear.Depth,
				StencilLoadOp:     loadOp,
				StencilStoreOp:    gputypes.StoreOpStore,
				StencilClearValue: a.clear.Stencil,
			}
			passInfo.DepthStencil = &AttachmentInfo{Format: a.format, Samples: a.sampleCount, LoadClear: clear, StoreKeep: true}
			width, height = a.width, a.height
		}
	}

	rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label:                  pass.Name,
		ColorAttachments:       colorAttachments,
		DepthStencilAttachment: depthStencil,
	})
	cb := &CommandBuffer{ptc: ptc, encoder: enc, rp: rp, attachments: resolved, fbWidth: width, fbHeight: height, renderPassInfo: passInfo}
	execErr := pass.Execute(cb)
	rp.End()
	if execErr != nil {
		return execErr
	}
	return cb.err
}
