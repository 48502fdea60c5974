package gpucore

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// InflightContext is the frame-scope context: one live instance exists per
// frame currently being recorded, bound to a single rotating frame slot
// for its lifetime. Begin performs, in order: recycle-lock acquisition,
// a wait on the fence value recorded into this slot three frames ago,
// draining that slot's destroy queue, and resetting every pool and
// per-frame cache view bound to the slot. This ordering is what makes the
// "three-frame safety" property hold: nothing in slot f is touched until
// the GPU has certifiably finished the frame that last used it.
type InflightContext struct {
	ctx   *Context
	frame uint64
	slot  int

	commandEncoders PoolView[hal.CommandEncoder]
	sampledImages   PoolView[*sampledImageBucket]
}

// Begin advances the frame counter, waits for slot reuse safety, and
// resets every per-slot resource. It returns ErrSlotInUse if the
// previous InflightContext for this slot was never ended.
func (c *Context) Begin() (*InflightContext, error) {
	frame := c.frameCounter.Add(1)
	slot := int(frame % uint64(c.fc))

	if !c.recycleLocks[slot].TryLock() {
		return nil, fmt.Errorf("gpucore: begin frame %d (slot %d): %w", frame, slot, ErrSlotInUse)
	}

	if frame > uint64(c.fc) {
		waitFor := frame - uint64(c.fc)
		if ok, err := c.device.Wait(c.fence, waitFor, 5*time.Second); err != nil {
			c.recycleLocks[slot].Unlock()
			return nil, fmt.Errorf("gpucore: wait for slot %d reuse: %w", slot, err)
		} else if !ok {
			c.recycleLocks[slot].Unlock()
			return nil, fmt.Errorf("gpucore: timed out waiting for slot %d reuse", slot)
		}
	}

	c.destroyQueues[slot].drain()

	if c.scratch != nil {
		c.scratch.Reset(slot)
	}
	c.commandEncoders.Reset(slot)
	c.sampledImages.Reset(slot)

	c.transientImages.Commit(slot, frame)
	c.transientImages.Collect(slot, frame, c.collectionThreshold, func(_ uint64, t hal.Texture) {
		c.device.DestroyTexture(t)
	})
	c.descriptorSets.Commit(slot, frame)
	c.descriptorSets.Collect(slot, frame, c.collectionThreshold, func(_ uint64, g hal.BindGroup) {
		c.device.DestroyBindGroup(g)
	})

	return &InflightContext{
		ctx:             c,
		frame:           frame,
		slot:            slot,
		commandEncoders: c.commandEncoders.View(slot),
		sampledImages:   c.sampledImages.View(slot),
	}, nil
}

// Frame returns the monotonic frame number this InflightContext is
// recording.
func (i *InflightContext) Frame() uint64 { return i.frame }

// Slot returns the rotating frame slot (0..FC-1) bound to this
// InflightContext.
func (i *InflightContext) Slot() int { return i.slot }

// Begin constructs a PerThreadContext bound to this frame slot, claiming
// one insertion shard from each of the context's per-frame caches. It
// returns ErrShardOverflow if more than MaxShardThreads threads are
// concurrently active in this frame.
func (i *InflightContext) Begin() (*PerThreadContext, error) {
	transientShard, err := i.ctx.transientImages.ClaimShard(i.slot)
	if err != nil {
		return nil, err
	}
	descriptorShard, err := i.ctx.descriptorSets.ClaimShard(i.slot)
	if err != nil {
		i.ctx.transientImages.ReleaseShard(i.slot, transientShard)
		return nil, err
	}

	return &PerThreadContext{
		ctx:             i.ctx,
		frame:           i.frame,
		slot:            i.slot,
		transientShard:  transientShard,
		descriptorShard: descriptorShard,
		commandEncoders: i.commandEncoders,
		sampledImages:   i.sampledImages,
		scratchSlot:     i.slot,
	}, nil
}

// End releases the recycle lock this InflightContext acquired at Begin,
// allowing a future Context.Begin to reuse the slot once its fence
// retires.
func (i *InflightContext) End() {
	i.ctx.recycleLocks[i.slot].Unlock()
}

// Submit ends every thread's command encoding for this frame and submits
// the resulting command buffers against the context's fence at this
// frame's value, serialized by the context's graphics submission lock.
// The returned fence value is what the next Context.Begin to reuse this
// slot will wait on — the three-frame safety property depends on it
// having actually been signaled by the device by then.
func (i *InflightContext) Submit() (uint64, error) {
	if i.ctx.transferPump != nil {
		if err := i.ctx.transferPump.Flush(i.slot); err != nil {
			return 0, err
		}
	}

	i.ctx.graphicsLock.Lock()
	defer i.ctx.graphicsLock.Unlock()

	var cmds []hal.CommandBuffer
	var endErr error
	i.commandEncoders.pool.Each(i.slot, func(_ Handle, enc hal.CommandEncoder) {
		if endErr != nil {
			return
		}
		cb, err := enc.EndEncoding()
		if err != nil {
			endErr = fmt.Errorf("gpucore: end command encoding for frame %d: %w", i.frame, err)
			return
		}
		cmds = append(cmds, cb)
	})
	if endErr != nil {
		return 0, endErr
	}

	if len(cmds) == 0 {
		return i.frame, nil
	}
	if err := i.ctx.queue.Submit(cmds, i.ctx.fence, i.frame); err != nil {
		return 0, fmt.Errorf("gpucore: submit frame %d: %w", i.frame, err)
	}
	return i.frame, nil
}
