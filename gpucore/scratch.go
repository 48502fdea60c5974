package gpucore

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MemoryUsage classifies a scratch allocation by which side of the PCIe bus
// should hold it and how the CPU may reach it.
type MemoryUsage int

const (
	// MemoryUsageCPUtoGPU is host-visible, device-local where available:
	// written directly by the CPU every frame (uniform scratch, dynamic
	// vertex data) and read by the GPU without an explicit copy.
	MemoryUsageCPUtoGPU MemoryUsage = iota

	// MemoryUsageCPUonly is host-visible, host-local: readback targets and
	// staging buffers the CPU reads after the GPU has written them.
	MemoryUsageCPUonly

	// MemoryUsageGPUonly is device-local and not host-visible. Writes must
	// go through the transfer pump's staging path.
	MemoryUsageGPUonly
)

func (m MemoryUsage) String() string {
	switch m {
	case MemoryUsageCPUtoGPU:
		return "cpu-to-gpu"
	case MemoryUsageCPUonly:
		return "cpu-only"
	case MemoryUsageGPUonly:
		return "gpu-only"
	default:
		return "unknown"
	}
}

// defaultScratchBlockSize is the size of a freshly allocated scratch block
// when a request does not itself exceed it. Larger requests get a
// dedicated block sized to fit exactly.
const defaultScratchBlockSize = 4 << 20 // 4 MiB

// scratchBlock is one bump-allocated backing buffer plus the device buffer
// behind it.
type scratchBlock struct {
	buffer hal.Buffer
	size   uint64
	offset uint64
}

func (b *scratchBlock) remaining() uint64 { return b.size - b.offset }

// ScratchAllocation is a region of a scratch block returned by Allocate. It
// is valid only for the lifetime of the frame slot that produced it.
type ScratchAllocation struct {
	Buffer hal.Buffer
	Offset uint64
	Size   uint64
}

// scratchClass holds the per-frame-slot bump state for one MemoryUsage.
type scratchClass struct {
	usage  MemoryUsage
	blocks []*scratchBlock
}

// Scratch is the linear scratch allocator: a bump allocator per
// (MemoryUsage, frame slot) pair. Allocations never individually free;
// Reset rewinds every block's offset to zero at frame-slot re-entry, and
// blocks themselves are only released when the allocator is freed.
type Scratch struct {
	mu      sync.Mutex
	device  hal.Device
	fc      int
	classes [][3]*scratchClass // indexed [frame][usage]

	bufferHandlesMu sync.Mutex
	bufferHandles   map[hal.Buffer]Handle
	bufferArena     *arena[hal.Buffer]
}

// NewScratch constructs a scratch allocator with fc rotating frame slots
// against device.
func NewScratch(device hal.Device, fc int) *Scratch {
	s := &Scratch{
		device:        device,
		fc:            fc,
		classes:       make([][3]*scratchClass, fc),
		bufferHandles: make(map[hal.Buffer]Handle),
		bufferArena:   newArena[hal.Buffer](),
	}
	for f := 0; f < fc; f++ {
		for u := MemoryUsage(0); u < 3; u++ {
			s.classes[f][u] = &scratchClass{usage: u}
		}
	}
	return s
}

// Allocate returns size bytes of scratch memory from frame slot f's class
// for usage, aligned to align (which must be a power of two), bumping the
// class's current block or opening a new one if none has room.
func (s *Scratch) Allocate(f int, usage MemoryUsage, size, align uint64) (ScratchAllocation, error) {
	if align == 0 {
		align = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	class := s.classes[f][usage]

	if n := len(class.blocks); n > 0 {
		block := class.blocks[n-1]
		aligned := alignUp(block.offset, align)
		if aligned+size <= block.size {
			block.offset = aligned + size
			return ScratchAllocation{Buffer: block.buffer, Offset: aligned, Size: size}, nil
		}
	}

	blockSize := uint64(defaultScratchBlockSize)
	if size > blockSize {
		blockSize = size
	}

	block, err := s.newBlock(LinearBlockInfo{Usage: usage, Size: blockSize})
	if err != nil {
		return ScratchAllocation{}, fmt.Errorf("gpucore: allocate scratch block: %w: %w", ErrScratchExhausted, err)
	}
	block.offset = size
	class.blocks = append(class.blocks, block)

	return ScratchAllocation{Buffer: block.buffer, Offset: 0, Size: size}, nil
}

func (s *Scratch) newBlock(info LinearBlockInfo) (*scratchBlock, error) {
	bufferUsage := gputypes.BufferUsageCopyDst
	switch info.Usage {
	case MemoryUsageCPUtoGPU:
		bufferUsage |= gputypes.BufferUsageUniform | gputypes.BufferUsageVertex | gputypes.BufferUsageCopySrc
	case MemoryUsageCPUonly:
		bufferUsage |= gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapRead
	case MemoryUsageGPUonly:
		bufferUsage |= gputypes.BufferUsageCopySrc | gputypes.BufferUsageStorage
	}

	buf, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("scratch-%s", info.Usage),
		Size:  info.Size,
		Usage: bufferUsage,
	})
	if err != nil {
		return nil, err
	}
	return &scratchBlock{buffer: buf, size: info.Size}, nil
}

// Reset rewinds every block in slot f back to empty, across every usage
// class. It must be called exactly once per frame-slot re-entry, before any
// new allocation against that slot — the source of the "scratch
// non-overlap" guarantee: no two allocations within the same frame-slot
// generation can ever alias.
func (s *Scratch) Reset(f int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for u := MemoryUsage(0); u < 3; u++ {
		class := s.classes[f][u]
		for _, block := range class.blocks {
			block.offset = 0
		}
	}
}

// Free destroys every block the allocator has ever opened, across every
// frame slot and usage class. Call only once the device is idle.
func (s *Scratch) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for f := range s.classes {
		for u := MemoryUsage(0); u < 3; u++ {
			class := s.classes[f][u]
			for _, block := range class.blocks {
				block.buffer.Destroy()
			}
			class.blocks = nil
		}
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// internBlockBuffer returns a stable Handle for a scratch block's backing
// buffer, creating one the first time this exact buffer is seen. Blocks
// live until Free, so the handle stays valid for as long as any
// ResourceBinding referencing it does.
func (s *Scratch) internBlockBuffer(b hal.Buffer) Handle {
	s.bufferHandlesMu.Lock()
	defer s.bufferHandlesMu.Unlock()

	if h, ok := s.bufferHandles[b]; ok {
		return h
	}
	h := s.bufferArena.Insert(b)
	s.bufferHandles[b] = h
	return h
}

// blockBuffer resolves a Handle previously issued by internBlockBuffer.
func (s *Scratch) blockBuffer(h Handle) (hal.Buffer, bool) {
	s.bufferHandlesMu.Lock()
	defer s.bufferHandlesMu.Unlock()
	return s.bufferArena.Get(h)
}
