package projection

import (
	"context"
	"time"
)

// bounded exponential backoff for transport reconnects. the delay doubles
// on each wait up to the max. Reset drops it back to the min; the ws
// bridge resets after each successful connect, the exec bridge never
// resets.
type Reconnect struct {
	minDelay time.Duration
	maxDelay time.Duration
	delay    time.Duration
}

func NewReconnect(minDelay time.Duration, maxDelay time.Duration) *Reconnect {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Reconnect{
		minDelay: minDelay,
		maxDelay: maxDelay,
		delay:    minDelay,
	}
}

// WaitForReconnect sleeps the current delay. Returns false when the
// context ends first.
func (self *Reconnect) WaitForReconnect(ctx context.Context) bool {
	delay := self.delay
	self.delay = min(2*self.delay, self.maxDelay)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (self *Reconnect) Reset() {
	self.delay = self.minDelay
}
