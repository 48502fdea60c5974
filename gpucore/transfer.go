package gpucore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// TransferTicket identifies one enqueued transfer. Tickets are monotonic
// within a Context and never reused, so IsReady can answer for a ticket
// whose batch has long since been retired.
type TransferTicket uint64

// bufferTransfer is one pending buffer upload, recorded before its batch is
// submitted.
type bufferTransfer struct {
	dst    hal.Buffer
	offset uint64
	data   []byte
}

// imageTransfer is one pending texture upload.
type imageTransfer struct {
	dst    *hal.ImageCopyTexture
	data   []byte
	layout hal.ImageDataLayout
	size   hal.Extent3D
}

// transferBatch is every transfer enqueued for one frame slot, submitted
// together and tracked by a single fence value.
type transferBatch struct {
	fenceValue uint64
	buffers    []bufferTransfer
	images     []imageTransfer
	tickets    []TransferTicket
}

// TransferPump owns the GPUonly staging path: CPU-side writes that cannot
// go directly to a device-local buffer are queued here, then flushed as a
// batch: the data is written through the queue's WriteBuffer/WriteTexture
// and an empty command buffer is submitted to signal the frame slot's
// fence. No copy commands are recorded. Readers
// poll IsReady or block on WaitAllTransfers rather than the pump waiting
// internally, so a frame's recording can continue past an enqueue without
// stalling.
type TransferPump struct {
	device hal.Device
	queue  hal.Queue
	fence  hal.Fence

	nextTicket atomic.Uint64

	mu       sync.Mutex
	pending  [][]*transferBatch // indexed by frame slot
	retired  uint64             // highest fence value known to have completed
	ticketAt map[TransferTicket]uint64

	submitMu sync.Mutex // serializes submission against the transfer queue
}

// NewTransferPump constructs a pump with fc rotating frame slots, backed by
// fence for completion tracking.
func NewTransferPump(device hal.Device, queue hal.Queue, fence hal.Fence, fc int) *TransferPump {
	return &TransferPump{
		device:   device,
		queue:    queue,
		fence:    fence,
		pending:  make([][]*transferBatch, fc),
		ticketAt: make(map[TransferTicket]uint64),
	}
}

func (p *TransferPump) currentBatch(f int, fenceValue uint64) *transferBatch {
	slots := p.pending[f]
	if n := len(slots); n > 0 && slots[n-1].fenceValue == fenceValue {
		return slots[n-1]
	}
	batch := &transferBatch{fenceValue: fenceValue}
	p.pending[f] = append(p.pending[f], batch)
	return batch
}

// EnqueueBufferTransfer queues data to be copied into dst at offset the
// next time Flush is called for frame slot f, targeting fenceValue.
func (p *TransferPump) EnqueueBufferTransfer(f int, fenceValue uint64, dst hal.Buffer, offset uint64, data []byte) TransferTicket {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticket := TransferTicket(p.nextTicket.Add(1))
	batch := p.currentBatch(f, fenceValue)
	batch.buffers = append(batch.buffers, bufferTransfer{dst: dst, offset: offset, data: data})
	batch.tickets = append(batch.tickets, ticket)
	p.ticketAt[ticket] = fenceValue
	return ticket
}

// EnqueueImageTransfer queues one texture upload of size into the mip
// level and origin named by dst, targeting fenceValue.
func (p *TransferPump) EnqueueImageTransfer(f int, fenceValue uint64, dst *hal.ImageCopyTexture, data []byte, layout hal.ImageDataLayout, size hal.Extent3D) TransferTicket {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticket := TransferTicket(p.nextTicket.Add(1))
	batch := p.currentBatch(f, fenceValue)
	batch.images = append(batch.images, imageTransfer{dst: dst, data: data, layout: layout, size: size})
	batch.tickets = append(batch.tickets, ticket)
	p.ticketAt[ticket] = fenceValue
	return ticket
}

// Flush writes every batch queued for frame slot f through the queue's
// WriteBuffer/WriteTexture, then submits an empty command buffer from a
// fresh command encoder that signals fence at the batch's fence value. It
// does not wait for completion.
func (p *TransferPump) Flush(f int) error {
	p.mu.Lock()
	batches := p.pending[f]
	p.pending[f] = nil
	p.mu.Unlock()

	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	for _, batch := range batches {
		if len(batch.buffers) == 0 && len(batch.images) == 0 {
			continue
		}

		enc, err := p.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "transfer-pump"})
		if err != nil {
			return fmt.Errorf("gpucore: create transfer command encoder: %w", err)
		}
		if err := enc.BeginEncoding("transfer-pump"); err != nil {
			return fmt.Errorf("gpucore: begin transfer encoding: %w", err)
		}

		for _, bt := range batch.buffers {
			p.queue.WriteBuffer(bt.dst, bt.offset, bt.data)
		}
		for _, it := range batch.images {
			p.queue.WriteTexture(it.dst, it.data, &it.layout, &it.size)
		}

		cmd, err := enc.EndEncoding()
		if err != nil {
			return fmt.Errorf("gpucore: end transfer encoding: %w", err)
		}
		if err := p.queue.Submit([]hal.CommandBuffer{cmd}, p.fence, batch.fenceValue); err != nil {
			return fmt.Errorf("gpucore: submit transfer batch: %w", err)
		}
	}

	return nil
}

// IsReady reports whether the batch that produced ticket is known to have
// completed, that is, whether its fence value is at or below the highest
// value a WaitAllTransfers call has seen signaled. Non-blocking: it never
// waits on or polls the device, so a fence signaled since the last
// WaitAllTransfers is not yet reflected.
func (p *TransferPump) IsReady(ticket TransferTicket) bool {
	p.mu.Lock()
	fenceValue, ok := p.ticketAt[ticket]
	retired := p.retired
	p.mu.Unlock()

	if !ok {
		return true // unknown ticket: already reaped by a prior WaitAllTransfers
	}
	return fenceValue <= retired
}

// WaitAllTransfers first flushes every frame slot's queued batches, then
// blocks until every transfer enqueued so far has completed. A pump with
// nothing pending returns immediately. timeout bounds each underlying
// device wait; ctx cancellation is checked between waits.
func (p *TransferPump) WaitAllTransfers(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	slots := len(p.pending)
	p.mu.Unlock()
	for f := 0; f < slots; f++ {
		if err := p.Flush(f); err != nil {
			return err
		}
	}

	p.mu.Lock()
	highest := p.nextHighestFenceValueLocked()
	p.mu.Unlock()

	if highest == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, err := p.device.Wait(p.fence, highest, timeout)
		if err != nil {
			return fmt.Errorf("gpucore: wait on transfer fence: %w", err)
		}
		if ok {
			p.mu.Lock()
			if highest > p.retired {
				p.retired = highest
			}
			for ticket, fv := range p.ticketAt {
				if fv <= p.retired {
					delete(p.ticketAt, ticket)
				}
			}
			p.mu.Unlock()
			return nil
		}
	}
}

func (p *TransferPump) nextHighestFenceValueLocked() uint64 {
	var highest uint64
	for _, fv := range p.ticketAt {
		if fv > highest {
			highest = fv
		}
	}
	return highest
}
