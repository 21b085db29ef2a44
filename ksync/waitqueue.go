package ksync

import (
	"sync"
	"time"
)

// CurrentThread identifies the calling kernel thread, bound once by
// corvid/sched during init so ksync can track mutex ownership and
// interruptible-sleep identity without importing corvid/sched (which
// itself imports ksync for its run-queue spinlocks and wait queues).
var CurrentThread func() int64

// WakeStatus distinguishes why a wait returned, the "distinguished
// status" spec.md §4.4 and §5 require for interruptible/timed waits.
type WakeStatus int

const (
	WakeNormal WakeStatus = iota
	WakeTimedOut
	WakeInterrupted
)

type waiter struct {
	ch chan WakeStatus
}

// WaitQueue is a FIFO of blocked threads associated with a condition,
// protected by its own spinlock (spec.md §3 "Wait queue"). It underlies
// every blocking primitive in this package as well as corvid/sched's
// sleep/wake path, so "sleeping on a wait queue" means exactly the same
// thing whether the sleeper is a mutex waiter or a scheduled thread.
type WaitQueue struct {
	mu      Spinlock
	waiters []*waiter
}

func (q *WaitQueue) enqueue() *waiter {
	w := &waiter{ch: make(chan WakeStatus, 1)}
	q.mu.Lock()
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()
	return w
}

func (q *WaitQueue) remove(target *waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Wait atomically releases lock (if non-nil) and suspends the calling
// goroutine on q, exactly as spec.md §4.4 describes for condition
// variables. timeoutUsec follows the universal convention in spec.md §5:
// 0 means try (return WakeTimedOut immediately if not already signalled),
// -1 means indefinite, and any positive value bounds the wait. If
// interrupt is non-nil and closes first, Wait returns WakeInterrupted.
// lock is re-acquired before Wait returns, whatever the outcome.
func (q *WaitQueue) Wait(lock sync.Locker, timeoutUsec int64, interrupt <-chan struct{}) WakeStatus {
	w := q.enqueue()
	if lock != nil {
		lock.Unlock()
	}

	status := q.block(w, timeoutUsec, interrupt)

	if lock != nil {
		lock.Lock()
	}
	return status
}

func (q *WaitQueue) block(w *waiter, timeoutUsec int64, interrupt <-chan struct{}) WakeStatus {
	if timeoutUsec == 0 {
		select {
		case s := <-w.ch:
			return s
		default:
			q.remove(w)
			return WakeTimedOut
		}
	}

	if timeoutUsec < 0 {
		if interrupt == nil {
			return <-w.ch
		}
		select {
		case s := <-w.ch:
			return s
		case <-interrupt:
			if q.remove(w) {
				return WakeInterrupted
			}
			return <-w.ch
		}
	}

	// A nil interrupt channel never becomes ready, so this case is
	// simply dead when the caller has no interrupt source to offer.
	timer := time.NewTimer(time.Duration(timeoutUsec) * time.Microsecond)
	defer timer.Stop()
	select {
	case s := <-w.ch:
		return s
	case <-timer.C:
		if q.remove(w) {
			return WakeTimedOut
		}
		return <-w.ch
	case <-interrupt:
		if q.remove(w) {
			return WakeInterrupted
		}
		return <-w.ch
	}
}

// NotifyOne wakes the single longest-waiting thread, the FIFO fairness
// spec.md §5 requires of these primitives.
func (q *WaitQueue) NotifyOne() bool {
	q.mu.Lock()
	if len(q.waiters) == 0 {
		q.mu.Unlock()
		return false
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	q.mu.Unlock()
	w.ch <- WakeNormal
	return true
}

// NotifyAll wakes every waiter currently queued.
func (q *WaitQueue) NotifyAll() {
	q.mu.Lock()
	ws := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, w := range ws {
		w.ch <- WakeNormal
	}
}

// Broadcast is NotifyAll under the name spec.md §4.4 uses for
// shutdown-style events.
func (q *WaitQueue) Broadcast() { q.NotifyAll() }

// Len reports the number of currently queued waiters, used by object_wait
// style diagnostics and tests.
func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
