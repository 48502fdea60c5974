package gpucore

import (
	"context"
	"testing"
	"time"

	"github.com/gogpu/rendercore/gpucore/haltest"
	"github.com/gogpu/wgpu/hal"
)

func TestTransferPumpEnqueueAndFlushWritesThroughQueue(t *testing.T) {
	dev := haltest.NewDevice()
	queue := haltest.NewQueue()
	fence, err := dev.CreateFence()
	if err != nil {
		t.Fatalf("CreateFence: %v", err)
	}

	pump := NewTransferPump(dev, queue, fence, 3)
	buf, _ := dev.CreateBuffer(&hal.BufferDescriptor{Label: "dst", Size: 256})

	ticket := pump.EnqueueBufferTransfer(0, 1, buf, 0, []byte("hello"))
	if pump.IsReady(ticket) {
		t.Fatal("expected ticket to be pending before Flush")
	}

	if err := pump.Flush(0); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(queue.Submissions) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(queue.Submissions))
	}
	if queue.Submissions[0].FenceValue != 1 {
		t.Fatalf("expected fence value 1, got %d", queue.Submissions[0].FenceValue)
	}

	dev.Signal(1)
	if err := pump.WaitAllTransfers(context.Background(), time.Second); err != nil {
		t.Fatalf("WaitAllTransfers: %v", err)
	}
	if !pump.IsReady(ticket) {
		t.Fatal("expected ticket to be ready once WaitAllTransfers has seen the fence signal")
	}
}

func TestTransferPumpFlushIsNoOpWithNothingPending(t *testing.T) {
	dev := haltest.NewDevice()
	queue := haltest.NewQueue()
	fence, _ := dev.CreateFence()

	pump := NewTransferPump(dev, queue, fence, 2)
	if err := pump.Flush(0); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(queue.Submissions) != 0 {
		t.Fatalf("expected no submissions, got %d", len(queue.Submissions))
	}
}

func TestTransferPumpTicketsAreMonotonic(t *testing.T) {
	dev := haltest.NewDevice()
	queue := haltest.NewQueue()
	fence, _ := dev.CreateFence()
	pump := NewTransferPump(dev, queue, fence, 2)
	buf, _ := dev.CreateBuffer(&hal.BufferDescriptor{Label: "b", Size: 16})

	t1 := pump.EnqueueBufferTransfer(0, 1, buf, 0, []byte("a"))
	t2 := pump.EnqueueBufferTransfer(0, 1, buf, 8, []byte("b"))
	if t2 <= t1 {
		t.Fatalf("expected monotonically increasing tickets, got %d then %d", t1, t2)
	}
}

func TestTransferPumpWaitAllTransfersNoOpWhenEmpty(t *testing.T) {
	dev := haltest.NewDevice()
	queue := haltest.NewQueue()
	fence, _ := dev.CreateFence()
	pump := NewTransferPump(dev, queue, fence, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pump.WaitAllTransfers(ctx, time.Millisecond); err != nil {
		t.Fatalf("expected no-op WaitAllTransfers to succeed, got %v", err)
	}
}

func TestTransferPumpWaitAllTransfersBlocksUntilSignaled(t *testing.T) {
	dev := haltest.NewDevice()
	queue := haltest.NewQueue()
	fence, _ := dev.CreateFence()
	pump := NewTransferPump(dev, queue, fence, 2)
	buf, _ := dev.CreateBuffer(&hal.BufferDescriptor{Label: "b", Size: 16})

	pump.EnqueueBufferTransfer(0, 5, buf, 0, []byte("payload"))
	if err := pump.Flush(0); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- pump.WaitAllTransfers(context.Background(), 10*time.Millisecond)
	}()

	dev.Signal(5)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitAllTransfers: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAllTransfers did not return after the fence signaled")
	}
}
