package gpucore

import (
	"testing"

	"github.com/gogpu/rendercore/gpucore/haltest"
)

func TestScratchAllocateBumpsWithinBlock(t *testing.T) {
	dev := haltest.NewDevice()
	s := NewScratch(dev, 3)

	a1, err := s.Allocate(0, MemoryUsageCPUtoGPU, 64, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a2, err := s.Allocate(0, MemoryUsageCPUtoGPU, 64, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if a1.Buffer != a2.Buffer {
		t.Fatal("expected both allocations to share the same block")
	}
	if a2.Offset < a1.Offset+a1.Size {
		t.Fatalf("expected a2 (offset %d) to start after a1 (offset %d, size %d)", a2.Offset, a1.Offset, a1.Size)
	}
}

func TestScratchAllocateOpensNewBlockWhenOversized(t *testing.T) {
	dev := haltest.NewDevice()
	s := NewScratch(dev, 3)

	small, err := s.Allocate(0, MemoryUsageGPUonly, 16, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	big, err := s.Allocate(0, MemoryUsageGPUonly, defaultScratchBlockSize+1, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if small.Buffer == big.Buffer {
		t.Fatal("expected an oversized request to open a dedicated block")
	}
}

func TestScratchResetRewindsWithoutFreeingBlocks(t *testing.T) {
	dev := haltest.NewDevice()
	s := NewScratch(dev, 2)

	a, err := s.Allocate(0, MemoryUsageCPUonly, 128, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	s.Reset(0)

	a2, err := s.Allocate(0, MemoryUsageCPUonly, 128, 16)
	if err != nil {
		t.Fatalf("Allocate after reset: %v", err)
	}
	if a.Buffer != a2.Buffer || a2.Offset != 0 {
		t.Fatalf("expected Reset to rewind the same block to offset 0, got buffer match=%v offset=%d", a.Buffer == a2.Buffer, a2.Offset)
	}
}

func TestScratchSlotsDoNotOverlapAcrossFrames(t *testing.T) {
	dev := haltest.NewDevice()
	s := NewScratch(dev, 3)

	a0, err := s.Allocate(0, MemoryUsageCPUtoGPU, 64, 16)
	if err != nil {
		t.Fatalf("Allocate slot 0: %v", err)
	}
	a1, err := s.Allocate(1, MemoryUsageCPUtoGPU, 64, 16)
	if err != nil {
		t.Fatalf("Allocate slot 1: %v", err)
	}
	if a0.Buffer == a1.Buffer {
		t.Fatal("expected distinct frame slots to use distinct blocks")
	}
}
