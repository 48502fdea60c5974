package gpucore

import "errors"

// Sentinel errors for conditions callers are expected to match with
// errors.Is. Dynamic context (a name, a create-info value, a frame number)
// is attached at the call site with fmt.Errorf("%w", ...).
var (
	// ErrNamedPipelineConflict is returned by CreateNamedPipeline when name
	// already exists under a different create-info.
	ErrNamedPipelineConflict = errors.New("gpucore: named pipeline exists with a different create-info")

	// ErrNamedPipelineNotFound is returned by operations that require an
	// existing named pipeline.
	ErrNamedPipelineNotFound = errors.New("gpucore: named pipeline not found")

	// ErrShardOverflow is raised at PerThreadContext construction when more
	// than MaxShardThreads threads are concurrently active in one frame.
	ErrShardOverflow = errors.New("gpucore: exceeded maximum concurrent worker threads for a frame")

	// ErrShaderCompilation wraps a GPU driver's shader compiler diagnostic.
	// It is never cached: a failed pipeline acquisition always leaves the
	// cache unchanged and re-invokes the compiler on the next attempt.
	ErrShaderCompilation = errors.New("gpucore: shader compilation failed")

	// ErrDeviceLost indicates a fatal driver condition; callers must call
	// Context.WaitIdle and shut down.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrScratchExhausted is returned when a scratch allocation cannot be
	// satisfied even after requesting a new block.
	ErrScratchExhausted = errors.New("gpucore: scratch allocator exhausted")

	// ErrSlotInUse is returned by Context.Begin if the frame slot's recycle
	// lock cannot be acquired (only possible if the caller double-begins a
	// frame without ending the previous one).
	ErrSlotInUse = errors.New("gpucore: frame slot already owned by a live InflightContext")

	// ErrInvalidCreateInfo is returned when a create-info value fails a
	// structural validity check before being handed to a resource factory.
	ErrInvalidCreateInfo = errors.New("gpucore: invalid create-info")
)
