package gpucore

import (
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rendercore/gpucore/haltest"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/sync/errgroup"
)

// TestScenarioCubeOneFrame exercises one frame end to end: a pipeline base,
// scratch-allocated vertex/index/uniform buffers, one color-write pass with
// one indexed draw, then a frame submission — mirroring a single cube
// drawn against an offscreen color target.
func TestScenarioCubeOneFrame(t *testing.T) {
	c, dev, q := newTestContext(t)

	vs, err := c.CreateShaderModule(ShaderModuleInfo{Label: "cube.vert", Source: "vertex"})
	if err != nil {
		t.Fatalf("CreateShaderModule(vs): %v", err)
	}
	fs, err := c.CreateShaderModule(ShaderModuleInfo{Label: "cube.frag", Source: "fragment"})
	if err != nil {
		t.Fatalf("CreateShaderModule(fs): %v", err)
	}
	if _, err := c.CreateNamedPipeline("cube", PipelineBaseInfo{
		Label: "cube", VertexShader: vs, FragmentShader: fs,
	}); err != nil {
		t.Fatalf("CreateNamedPipeline: %v", err)
	}

	ifc, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ptc, err := ifc.Begin()
	if err != nil {
		t.Fatalf("ifc.Begin: %v", err)
	}

	vbAlloc, err := ptc.AllocateScratch(MemoryUsageCPUtoGPU, 288, 4)
	if err != nil {
		t.Fatalf("allocate vertex scratch: %v", err)
	}
	ibAlloc, err := ptc.AllocateScratch(MemoryUsageCPUtoGPU, 144, 4)
	if err != nil {
		t.Fatalf("allocate index scratch: %v", err)
	}

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(256, 256)
	rg.AttachManaged("color", TransientImageInfo{
		Format:    gputypes.TextureFormatRGBA8Unorm,
		Dimension: TransientImageFramebuffer,
	}, ClearValue{})

	rg.AddPass(PassInfo{
		Name:      "cube",
		Resources: []ResourceUse{{Name: "color", Usage: ImageUsageColorWrite}},
		Execute: func(cb *CommandBuffer) error {
			cb.SetViewportFramebuffer().
				SetScissorFramebuffer().
				BindVertexBuffer(0, vbAlloc.Buffer, vbAlloc.Offset, VertexBufferLayoutInfo{
					Attributes: []VertexAttributeInfo{{ShaderLocation: 0, Format: gputypes.VertexFormatFloat32x3}},
				}).
				BindIndexBuffer(ibAlloc.Buffer, gputypes.IndexFormatUint16, ibAlloc.Offset).
				WriteScratchUniformBinding(0, 0, 128, 16, func(b []byte) {}).
				BindGraphicsPipeline("cube").
				DrawIndexed(36, 1, 0, 0, 0)
			return cb.Err()
		},
	})

	if err := rg.Execute(ptc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	ptc.End()

	value, err := ifc.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	dev.Signal(value)
	ifc.End()

	sawSubmit := false
	for _, call := range q.Calls {
		if call.Name == "Submit" {
			sawSubmit = true
		}
	}
	if !sawSubmit {
		t.Fatal("expected frame submission to reach the queue")
	}

	sawPipeline := false
	for _, call := range dev.Calls {
		if call.Name == "CreateRenderPipeline" {
			sawPipeline = true
		}
	}
	if !sawPipeline {
		t.Fatal("expected the indexed draw to compile a concrete pipeline")
	}
}

// TestScenarioTextureUploadWithMips stages a 256x256 RGBA8 texture through
// the transfer pump at mip 0, then generates the remaining seven mips by
// successive texture-to-texture copies within one frame's recording.
func TestScenarioTextureUploadWithMips(t *testing.T) {
	c, dev, _ := newTestContext(t)

	const (
		width, height = 256, 256
		mipCount      = 8
	)
	tex, err := dev.CreateTexture(&hal.TextureDescriptor{
		Label:         "albedo",
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: mipCount,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8UnormSrgb,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}

	ifc, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ptc, err := ifc.Begin()
	if err != nil {
		t.Fatalf("ifc.Begin: %v", err)
	}

	staging := make([]byte, width*height*4)
	ticket, err := ptc.EnqueueGPUImageUpload(
		&hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		staging,
		hal.ImageDataLayout{BytesPerRow: width * 4, RowsPerImage: height},
		hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
	)
	if err != nil {
		t.Fatalf("EnqueueGPUImageUpload: %v", err)
	}
	if ticket == 0 {
		t.Fatal("expected a non-zero transfer ticket")
	}
	if err := c.transferPump.Flush(ifc.Slot()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	enc, err := ptc.CommandEncoder()
	if err != nil {
		t.Fatalf("CommandEncoder: %v", err)
	}
	fakeEnc, ok := enc.(*haltest.CommandEncoder)
	if !ok {
		t.Fatalf("expected *haltest.CommandEncoder, got %T", enc)
	}
	cb := &CommandBuffer{ptc: ptc, encoder: enc}
	cb.GenerateMips(tex, width, height, mipCount)
	if err := cb.Err(); err != nil {
		t.Fatalf("GenerateMips: %v", err)
	}

	ptc.End()
	value, err := ifc.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	dev.Signal(value)
	ifc.End()

	blits := 0
	for _, call := range fakeEnc.Calls {
		if call.Name == "CopyTextureToTexture" {
			blits++
		}
	}
	if blits != mipCount-1 {
		t.Fatalf("expected %d mip-generation copies, got %d", mipCount-1, blits)
	}
}

// TestScenarioCrossThreadDescriptorCacheMergesOnReentry has two worker
// threads in the same frame each acquire a descriptor set built from the
// same create-info. Both must independently create a bind group (their
// shards are not yet visible to each other), but once this frame slot is
// reentered three frames later, a third thread's acquire must hit a
// single merged entry rather than creating a third time.
func TestScenarioCrossThreadDescriptorCacheMergesOnReentry(t *testing.T) {
	c, dev, _ := newTestContext(t)

	bindings := []ResourceBinding{{Binding: 0}}
	layout, err := c.getOrCreateSetLayoutForBindings(bindings)
	if err != nil {
		t.Fatalf("getOrCreateSetLayoutForBindings: %v", err)
	}
	info := DescriptorSetInfo{Layout: layout, Bindings: bindings}

	var creates atomic.Int64
	create := func() (hal.BindGroup, error) {
		creates.Add(1)
		return c.createBindGroup(layout, bindings)
	}

	ifc, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			ptc, err := ifc.Begin()
			if err != nil {
				return err
			}
			defer ptc.End()
			_, err = ptc.AcquireDescriptorSet(info, create)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent AcquireDescriptorSet: %v", err)
	}
	if got := creates.Load(); got != 2 {
		t.Fatalf("expected each uncommitted shard to create independently, got %d creates", got)
	}

	value, err := ifc.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	dev.Signal(value)
	ifc.End()

	// Advance two more frames so the next Begin reenters this same slot
	// (FC=3), committing and collecting the frame's descriptor sets.
	for i := 0; i < 2; i++ {
		ifc, err := c.Begin()
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		ptc, err := ifc.Begin()
		if err != nil {
			t.Fatalf("ifc.Begin: %v", err)
		}
		ptc.End()
		value, err := ifc.Submit()
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		dev.Signal(value)
		ifc.End()
	}

	reentered, err := c.Begin()
	if err != nil {
		t.Fatalf("Begin (reentry): %v", err)
	}
	defer reentered.End()
	ptc, err := reentered.Begin()
	if err != nil {
		t.Fatalf("ifc.Begin (reentry): %v", err)
	}
	defer ptc.End()

	if _, err := ptc.AcquireDescriptorSet(info, create); err != nil {
		t.Fatalf("AcquireDescriptorSet (reentry): %v", err)
	}
	if got := creates.Load(); got != 2 {
		t.Fatalf("expected the reentrant acquire to hit the merged entry with no new create, got %d total creates", got)
	}
}

// TestScenarioPipelineBaseWithMalformedShaderRecompilesWithoutNegativeCaching
// registers a named pipeline whose vertex shader fails to compile, then
// retries the identical registration once the compiler starts accepting
// the source: the failed attempt must not have poisoned the shader-module
// or pipeline-base caches against a future identical request.
func TestScenarioPipelineBaseWithMalformedShaderRecompilesWithoutNegativeCaching(t *testing.T) {
	dev := haltest.NewDevice()
	dev.ShaderCompileErr = ErrShaderCompilation
	c, err := NewContext(WithDevice(dev))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	q := haltest.NewQueue()
	c.SetQueue(q)

	if _, err := c.CreateShaderModule(ShaderModuleInfo{Label: "fs", Source: "fragment"}); err == nil {
		t.Fatal("expected fragment shader compilation to fail while ShaderCompileErr is set")
	}
	if _, err := c.CreateShaderModule(ShaderModuleInfo{Label: "fs", Source: "fragment"}); err == nil {
		t.Fatal("expected the identical create-info to re-invoke the compiler rather than return a cached failure")
	}

	dev.ShaderCompileErr = nil
	vs, err := c.CreateShaderModule(ShaderModuleInfo{Label: "vs", Source: "vertex"})
	if err != nil {
		t.Fatalf("CreateShaderModule(vs) after recovery: %v", err)
	}
	fs, err := c.CreateShaderModule(ShaderModuleInfo{Label: "fs", Source: "fragment"})
	if err != nil {
		t.Fatalf("CreateShaderModule(fs) after recovery: %v", err)
	}
	if _, err := c.CreateNamedPipeline("cube", PipelineBaseInfo{Label: "cube", VertexShader: vs, FragmentShader: fs}); err != nil {
		t.Fatalf("CreateNamedPipeline after recovery: %v", err)
	}
}

// TestScenarioThreeFrameSafety runs FC+2 frames, each enqueuing a destroy
// at its own frame number, and checks that no destroy callback for frame F
// runs before Context.Begin has advanced FC frames past it — the three-
// frame safety property exercised end to end through Begin/Submit/End
// rather than by calling WaitIdle directly.
func TestScenarioThreeFrameSafety(t *testing.T) {
	c, dev, _ := newTestContext(t)

	destroyedAt := make(map[uint64]uint64)

	for i := 0; i < 5; i++ {
		ifc, err := c.Begin()
		if err != nil {
			t.Fatalf("Begin frame %d: %v", i, err)
		}
		frame := ifc.Frame()
		c.EnqueueDestroy(ifc.Slot(), func() { destroyedAt[frame] = frame })

		ptc, err := ifc.Begin()
		if err != nil {
			t.Fatalf("ifc.Begin frame %d: %v", i, err)
		}
		ptc.End()

		value, err := ifc.Submit()
		if err != nil {
			t.Fatalf("Submit frame %d: %v", i, err)
		}
		dev.Signal(value)
		ifc.End()

		for f := range destroyedAt {
			if frame-f < 3 {
				t.Fatalf("frame %d's destroy ran only %d frames after enqueue, want >= 3", f, frame-f)
			}
		}
	}
}
