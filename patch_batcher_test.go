package projection

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"projection.dev/projection/protocol"
)

func ackOf(v int64) *int64 {
	return &v
}

func TestBatcherCoalescesLatestValuePerPath(t *testing.T) {
	batcher := newPatchBatcher(120*time.Millisecond, 64)

	for i := 1; i <= 20; i += 1 {
		batcher.Enqueue([]protocol.PatchOp{
			protocol.RequireReplaceOp("/clock_label", fmt.Sprintf("Label %d", i)),
		}, ackOf(int64(i)))
	}

	ops, ack := batcher.TakePending()
	assert.Equal(t, 1, len(ops))
	assert.Equal(t, "/clock_label", ops[0].Path)
	assert.Equal(t, "Label 20", ops[0].Value)
	assert.Equal(t, int64(20), *ack)
}

func TestBatcherPreservesFirstOccurrenceOrder(t *testing.T) {
	batcher := newPatchBatcher(120*time.Millisecond, 64)

	batcher.Enqueue([]protocol.PatchOp{
		protocol.RequireReplaceOp("/a", 1),
		protocol.RequireReplaceOp("/b", 1),
	}, nil)
	batcher.Enqueue([]protocol.PatchOp{
		protocol.RequireReplaceOp("/a", 2),
		protocol.RequireReplaceOp("/c", 1),
	}, nil)

	ops, _ := batcher.TakePending()
	assert.Equal(t, []string{"/a", "/b", "/c"}, []string{ops[0].Path, ops[1].Path, ops[2].Path})
	assert.Equal(t, 2, ops[0].Value)
}

func TestBatcherAckMergeIsMax(t *testing.T) {
	batcher := newPatchBatcher(120*time.Millisecond, 64)

	batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 1)}, ackOf(7))
	batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 2)}, nil)
	batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 3)}, ackOf(5))

	_, ack := batcher.TakePending()
	assert.Equal(t, int64(7), *ack)
}

func TestBatcherFlushDisposition(t *testing.T) {
	// zero window flushes immediately
	batcher := newPatchBatcher(0, 64)
	disposition := batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 1)}, nil)
	assert.Equal(t, flushNow, disposition)

	// a window schedules once and keeps the armed timer
	batcher = newPatchBatcher(120*time.Millisecond, 64)
	disposition = batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 1)}, nil)
	assert.Equal(t, flushSchedule, disposition)
	disposition = batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 2)}, nil)
	assert.Equal(t, flushNone, disposition)

	// reaching the pending cap forces a flush
	batcher = newPatchBatcher(120*time.Millisecond, 2)
	batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 1)}, nil)
	disposition = batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/b", 1)}, nil)
	assert.Equal(t, flushNow, disposition)

	// an empty enqueue on an empty batch cancels
	batcher = newPatchBatcher(120*time.Millisecond, 64)
	disposition = batcher.Enqueue([]protocol.PatchOp{}, nil)
	assert.Equal(t, flushCancel, disposition)
}

func TestBatcherDropsNonOps(t *testing.T) {
	batcher := newPatchBatcher(120*time.Millisecond, 64)
	batcher.Enqueue([]protocol.PatchOp{
		{},
		protocol.RequireReplaceOp("/a", 1),
	}, nil)

	ops, _ := batcher.TakePending()
	assert.Equal(t, 1, len(ops))
}

func TestBatcherClear(t *testing.T) {
	batcher := newPatchBatcher(120*time.Millisecond, 64)
	batcher.Enqueue([]protocol.PatchOp{protocol.RequireReplaceOp("/a", 1)}, ackOf(9))
	batcher.Clear()

	assert.Equal(t, false, batcher.HasPending())
	ops, ack := batcher.TakePending()
	assert.Equal(t, 0, len(ops))
	assert.Equal(t, true, ack == nil)
}
