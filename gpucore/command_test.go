package gpucore

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func TestCommandBufferDrawRecordsPipelineAndDrawCalls(t *testing.T) {
	c, dev, _ := newTestContext(t)
	ifc, ptc := beginThread(t, c)
	defer ifc.End()
	defer ptc.End()

	vs, _ := c.CreateShaderModule(ShaderModuleInfo{Label: "vs", Source: "v"})
	fs, _ := c.CreateShaderModule(ShaderModuleInfo{Label: "fs", Source: "f"})
	if _, err := c.CreateNamedPipeline("tri", PipelineBaseInfo{Label: "tri", VertexShader: vs, FragmentShader: fs}); err != nil {
		t.Fatalf("CreateNamedPipeline: %v", err)
	}

	buf, err := dev.CreateBuffer(&hal.BufferDescriptor{Label: "vbo", Size: 288, Usage: gputypes.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(128, 128)
	rg.AttachManaged("color", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageFramebuffer}, ClearValue{})

	rg.AddPass(PassInfo{
		Name:      "tri",
		Resources: []ResourceUse{{Name: "color", Usage: ImageUsageColorWrite}},
		Execute: func(cb *CommandBuffer) error {
			cb.BindVertexBuffer(0, buf, 0, VertexBufferLayoutInfo{
				Attributes: []VertexAttributeInfo{{ShaderLocation: 0, Format: gputypes.VertexFormatFloat32x3}},
			}).BindGraphicsPipeline("tri").Draw(3, 1, 0, 0)
			return cb.Err()
		},
	})
	if err := rg.Execute(ptc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	sawCreatePipeline := false
	for _, call := range dev.Calls {
		if call.Name == "CreateRenderPipeline" {
			sawCreatePipeline = true
		}
	}
	if !sawCreatePipeline {
		t.Fatal("expected Draw to compile a concrete render pipeline")
	}
}

func TestCommandBufferDrawWithUnknownPipelineFails(t *testing.T) {
	c, _, _ := newTestContext(t)
	ifc, ptc := beginThread(t, c)
	defer ifc.End()
	defer ptc.End()

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(32, 32)
	rg.AttachManaged("color", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageFramebuffer}, ClearValue{})

	rg.AddPass(PassInfo{
		Name:      "bad",
		Resources: []ResourceUse{{Name: "color", Usage: ImageUsageColorWrite}},
		Execute: func(cb *CommandBuffer) error {
			cb.BindGraphicsPipeline("missing").Draw(3, 1, 0, 0)
			return cb.Err()
		},
	})

	err := rg.Execute(ptc)
	if err == nil {
		t.Fatal("expected draw against an unregistered pipeline name to fail")
	}
	if !errors.Is(err, ErrNamedPipelineNotFound) {
		t.Fatalf("expected ErrNamedPipelineNotFound, got %v", err)
	}
}

func TestCommandBufferScratchUniformBinding(t *testing.T) {
	c, _, _ := newTestContext(t)
	ifc, ptc := beginThread(t, c)
	defer ifc.End()
	defer ptc.End()

	vs, _ := c.CreateShaderModule(ShaderModuleInfo{Label: "vs", Source: "v"})
	fs, _ := c.CreateShaderModule(ShaderModuleInfo{Label: "fs", Source: "f"})
	if _, err := c.CreateNamedPipeline("mat", PipelineBaseInfo{Label: "mat", VertexShader: vs, FragmentShader: fs}); err != nil {
		t.Fatalf("CreateNamedPipeline: %v", err)
	}

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(64, 64)
	rg.AttachManaged("color", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageFramebuffer}, ClearValue{})

	rg.AddPass(PassInfo{
		Name:      "mat",
		Resources: []ResourceUse{{Name: "color", Usage: ImageUsageColorWrite}},
		Execute: func(cb *CommandBuffer) error {
			cb.WriteScratchUniformBinding(0, 0, 64, 16, func(b []byte) {})
			cb.BindGraphicsPipeline("mat").Draw(3, 1, 0, 0)
			return cb.Err()
		},
	})

	if err := rg.Execute(ptc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestCommandBufferBindSampledImageByName(t *testing.T) {
	c, dev, _ := newTestContext(t)
	ifc, ptc := beginThread(t, c)
	defer ifc.End()
	defer ptc.End()

	vs, _ := c.CreateShaderModule(ShaderModuleInfo{Label: "vs", Source: "v"})
	fs, _ := c.CreateShaderModule(ShaderModuleInfo{Label: "fs", Source: "f"})
	if _, err := c.CreateNamedPipeline("lit", PipelineBaseInfo{Label: "lit", VertexShader: vs, FragmentShader: fs}); err != nil {
		t.Fatalf("CreateNamedPipeline: %v", err)
	}

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(64, 64)
	rg.AttachManaged("color", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageFramebuffer}, ClearValue{})
	rg.AttachManaged("albedo", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageAbsolute, Width: 32, Height: 32}, ClearValue{})

	settings := SamplerInfo{MinFilter: gputypes.FilterModeLinear, MagFilter: gputypes.FilterModeLinear}
	rg.AddPass(PassInfo{
		Name:      "lit",
		Resources: []ResourceUse{{Name: "color", Usage: ImageUsageColorWrite}, {Name: "albedo", Usage: ImageUsageSampled}},
		Execute: func(cb *CommandBuffer) error {
			cb.BindSampledImageByName(0, 1, "albedo", settings).
				BindGraphicsPipeline("lit").
				Draw(3, 1, 0, 0)
			return cb.Err()
		},
	})

	if err := rg.Execute(ptc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	sawSampler, sawBindGroup := false, false
	for _, call := range dev.Calls {
		switch call.Name {
		case "CreateSampler":
			sawSampler = true
		case "CreateBindGroup":
			sawBindGroup = true
		}
	}
	if !sawSampler {
		t.Fatal("expected the named sampled-image binding to build its sampler")
	}
	if !sawBindGroup {
		t.Fatal("expected the draw to materialize a bind group for the sampled image")
	}
}

func TestCommandBufferBindSampledImageByUnknownNameFails(t *testing.T) {
	c, _, _ := newTestContext(t)
	ifc, ptc := beginThread(t, c)
	defer ifc.End()
	defer ptc.End()

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(32, 32)
	rg.AttachManaged("color", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageFramebuffer}, ClearValue{})

	rg.AddPass(PassInfo{
		Name:      "bad",
		Resources: []ResourceUse{{Name: "color", Usage: ImageUsageColorWrite}},
		Execute: func(cb *CommandBuffer) error {
			cb.BindSampledImageByName(0, 0, "missing", SamplerInfo{})
			if cb.Err() == nil {
				t.Fatal("expected binding an undeclared attachment name to record an error")
			}
			return nil
		},
	})
	err := rg.Execute(ptc)
	if err == nil {
		t.Fatal("expected the recorded binding error to surface from Execute")
	}
	if !errors.Is(err, ErrInvalidCreateInfo) {
		t.Fatalf("expected ErrInvalidCreateInfo, got %v", err)
	}
}

func TestCommandBufferBindCallsOutsideRenderPassFail(t *testing.T) {
	c, _, _ := newTestContext(t)
	ifc, ptc := beginThread(t, c)
	defer ifc.End()
	defer ptc.End()

	rg := NewRenderGraph()
	rg.SetFramebufferExtent(32, 32)
	rg.AttachManaged("a", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageAbsolute, Width: 32, Height: 32}, ClearValue{})
	rg.AttachManaged("b", TransientImageInfo{Format: gputypes.TextureFormatRGBA8Unorm, Dimension: TransientImageAbsolute, Width: 32, Height: 32}, ClearValue{})

	rg.AddPass(PassInfo{
		Name:      "transfer",
		Resources: []ResourceUse{{Name: "a", Usage: ImageUsageTransferSrc}, {Name: "b", Usage: ImageUsageTransferDst}},
		Execute: func(cb *CommandBuffer) error {
			cb.BindGraphicsPipeline("anything")
			if cb.Err() == nil {
				t.Fatal("expected BindGraphicsPipeline outside a render pass to record an error")
			}
			return nil
		},
	})
	if err := rg.Execute(ptc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}
