package projection

import (
	"time"

	"projection.dev/projection/protocol"
)

// the batcher coalesces bursts of patch ops before they are framed into a
// single patch envelope. per path, the latest value wins; ordering is the
// insertion order of the first occurrence of each path.

type flushDisposition int

const (
	// nothing to do; any armed timer stays armed
	flushNone flushDisposition = iota
	// emit the pending ops now
	flushNow
	// arm the flush timer if one is not already armed
	flushSchedule
	// pending drained to empty; disarm the timer
	flushCancel
)

type patchBatcher struct {
	batchWindow   time.Duration
	maxPendingOps int

	pendingOps []protocol.PatchOp
	pendingAck *int64
	timerArmed bool
}

func newPatchBatcher(batchWindow time.Duration, maxPendingOps int) *patchBatcher {
	return &patchBatcher{
		batchWindow:   batchWindow,
		maxPendingOps: maxPendingOps,
		pendingOps:    []protocol.PatchOp{},
	}
}

func (self *patchBatcher) Enqueue(ops []protocol.PatchOp, ack *int64) flushDisposition {
	combined := append(self.pendingOps, ops...)
	self.pendingOps = coalesceOps(combined)
	self.pendingAck = mergeAck(self.pendingAck, ack)

	if len(self.pendingOps) == 0 {
		self.pendingAck = nil
		self.timerArmed = false
		return flushCancel
	}
	if self.batchWindow == 0 {
		return flushNow
	}
	if self.maxPendingOps <= len(self.pendingOps) {
		return flushNow
	}
	if self.timerArmed {
		// an armed timer is kept, not reset
		return flushNone
	}
	self.timerArmed = true
	return flushSchedule
}

// TakePending drains the batch for emission.
func (self *patchBatcher) TakePending() ([]protocol.PatchOp, *int64) {
	ops := self.pendingOps
	ack := self.pendingAck
	self.Clear()
	return ops, ack
}

func (self *patchBatcher) HasPending() bool {
	return 0 < len(self.pendingOps)
}

// Clear drops the pending batch without emission. Used when a fresh ready
// supersedes any pending patches with a full render.
func (self *patchBatcher) Clear() {
	self.pendingOps = []protocol.PatchOp{}
	self.pendingAck = nil
	self.timerArmed = false
}

// keep the latest op for each distinct path at the position of the path's
// first occurrence. entries without an op tag are dropped.
func coalesceOps(ops []protocol.PatchOp) []protocol.PatchOp {
	latestByPath := map[string]protocol.PatchOp{}
	order := []string{}
	for _, op := range ops {
		if op.Op == "" {
			continue
		}
		if _, ok := latestByPath[op.Path]; !ok {
			order = append(order, op.Path)
		}
		latestByPath[op.Path] = op
	}
	coalesced := make([]protocol.PatchOp, len(order))
	for i, path := range order {
		coalesced[i] = latestByPath[path]
	}
	return coalesced
}

// merge is the maximum when both are defined, otherwise whichever is
// defined.
func mergeAck(a *int64, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a < *b:
		return b
	default:
		return a
	}
}
