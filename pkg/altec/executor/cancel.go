package executor

import (
	"sync/atomic"

	"github.com/mindforge/altec/pkg/altec/task"
)

// cancelSignal is the CancelToken implementation shared by a Run call: the
// heartbeat goroutine fires it on lease loss or a client-requested cancel,
// and the running phase observes it via Cancelled/Done. The reason
// distinguishes a lost lease (exit silently, a new owner will resume) from
// a client-requested cancel (finalize FAILED with cancelled_by_client).
type cancelSignal struct {
	fired  atomic.Bool
	ch     chan struct{}
	reason atomic.Value // task.ErrorKind
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{ch: make(chan struct{})}
}

func (c *cancelSignal) fire(reason task.ErrorKind) {
	if c.fired.CompareAndSwap(false, true) {
		c.reason.Store(reason)
		close(c.ch)
	}
}

func (c *cancelSignal) Cancelled() bool {
	return c.fired.Load()
}

func (c *cancelSignal) Reason() task.ErrorKind {
	v, _ := c.reason.Load().(task.ErrorKind)
	return v
}

func (c *cancelSignal) Done() <-chan struct{} {
	return c.ch
}
