package api

import (
	"sync"
	"time"

	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
)

// Clock supplies the time of ledger commands. The ledger reads it once the
// records a command changes are locked.
type Clock = ledger.Clock

// MonotonicClock reads wall-clock seconds but never returns a value lower
// than one it returned before.
type MonotonicClock struct {
	mu   sync.Mutex
	last uint64
	wall func() time.Time
}

func NewMonotonicClock(floor uint64) *MonotonicClock {
	return &MonotonicClock{last: floor, wall: time.Now}
}

func (c *MonotonicClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var now uint64
	if secs := c.wall().Unix(); secs > 0 {
		now = uint64(secs)
	}
	if now < c.last {
		now = c.last
	}
	c.last = now
	return now
}
