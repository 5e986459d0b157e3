package http2

import "sync"

// Notifier is a one-shot waker: at most one goroutine parks on it via
// Wait, and a call to Notify releases it. It plays the role the h2 crate
// gives task::Waker fields on Stream (send_task/recv_task) in a
// cooperative Go port: instead of re-polling a future, the
// parked goroutine blocks on a channel receive.
type Notifier struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

// Wait blocks until Notify is called. Each Wait/Notify pair is single use;
// call Reset before parking again.
func (n *Notifier) Wait() {
	n.mu.Lock()
	if n.ch == nil {
		n.ch = make(chan struct{})
		n.open = true
	}
	ch := n.ch
	n.mu.Unlock()

	<-ch
}

// Notify wakes the parked goroutine, if any. Safe to call with nobody
// waiting: the next Wait returns immediately.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ch == nil {
		n.ch = make(chan struct{})
		n.open = true
	}
	if n.open {
		close(n.ch)
		n.open = false
	}
}

// Reset clears the waker so it can be reused for the next wait/notify
// cycle.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ch = make(chan struct{})
	n.open = true
}
