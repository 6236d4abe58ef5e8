package update

import "sync/atomic"

// DirtyThreshold is the number of changed signals per forwarded notification.
const DirtyThreshold = 5

// Coalescer counts "changed" signals from concurrent tasks and forwards
// every DirtyThreshold-th one. Marking the aggregate dirty after every task
// floods observers when many tasks finish together.
type Coalescer struct {
	counter atomic.Int64
	mark    func()
}

// NewCoalescer returns a coalescer forwarding to mark.
func NewCoalescer(mark func()) *Coalescer {
	return &Coalescer{mark: mark}
}

// MarkChanged records one change and calls mark when the count reaches a
// multiple of DirtyThreshold.
func (c *Coalescer) MarkChanged() {
	if c.counter.Add(1)%DirtyThreshold == 0 && c.mark != nil {
		c.mark()
	}
}

// HasPendingChanges reports whether changes were recorded since the last
// forwarded notification.
func (c *Coalescer) HasPendingChanges() bool {
	return c.counter.Load()%DirtyThreshold != 0
}

// Count is the number of changes recorded so far.
func (c *Coalescer) Count() int64 { return c.counter.Load() }
