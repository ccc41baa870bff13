package core

import "sync"

// ticketLock is a FIFO mutual-exclusion region. A caller takes a ticket when it
// submits work and is admitted strictly in ticket order, which gives commits the
// same order they were submitted in, regardless of goroutine scheduling.
type ticketLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newTicketLock() *ticketLock {
	l := &ticketLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// take reserves the next admission slot.
func (l *ticketLock) take() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.next
	l.next++
	return t
}

// wait blocks until ticket t is admitted. Every taken ticket must be waited on
// and released exactly once, otherwise later tickets are never admitted.
func (l *ticketLock) wait(t uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.serving != t {
		l.cond.Wait()
	}
}

// release ends the current admission and lets the next ticket in.
func (l *ticketLock) release() {
	l.mu.Lock()
	l.serving++
	l.mu.Unlock()
	l.cond.Broadcast()
}

// lock takes a ticket and waits for it.
func (l *ticketLock) lock() {
	l.wait(l.take())
}

// queued returns the number of tickets taken but not yet released.
func (l *ticketLock) queued() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next - l.serving
}
