// Package ksync implements the kernel's synchronization primitives
// (spec.md §4.4): an irq-safe spinlock, a sleeping mutex (plain and
// recursive), a writer-preferring read/write lock, a counting semaphore,
// and a condition-variable-style wait queue. All of it sits above
// corvid/arch for the irq-disable discipline spinlocks need; blocking and
// waking go through Go channels in WaitQueue, and corvid/sched (which
// imports this package) binds CurrentThread for mutex ownership.
//
// Grounded on gopher-os's Spinlock
// (_examples/gopher-os-gopher-os/src/gopheros/kernel/sync/spinlock.go),
// generalized from its busy-yield loop into the irq-save/restore
// discipline spec.md §4.4 requires, and on Biscuit's pervasive use of
// sync.Mutex with an explicit owner field for its sleeping locks.
package ksync

import (
	"sync/atomic"

	"corvid/arch"
)

// CPU is the architecture abstraction spinlocks use to disable/restore
// local interrupts. It is bound once during kmain before any secondary
// thread runs (spec.md §9 "Global mutable state"); tests bind it to an
// arch.SoftArch.
var CPU arch.Arch

// Bind installs the architecture abstraction every Spinlock in the
// process will use for its irq-safe critical sections.
func Bind(a arch.Arch) { CPU = a }

// Spinlock is a non-recursive, irq-safe lock (spec.md §4.4). Lock disables
// local interrupts and remembers the prior state; Unlock restores it.
// Deadlock avoidance is by the lock-ordering discipline in spec.md §5, not
// by any runtime check here.
type Spinlock struct {
	state    uint32
	savedIRQ bool
}

// Lock busy-waits until the lock is free, having already disabled local
// interrupts so the holder cannot be preempted or interrupted while it is
// held — spinlocks must never be held across a suspension point
// (spec.md §5).
func (l *Spinlock) Lock() {
	prev := CPU.IRQDisable()
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// Busy-wait. A real implementation issues a `pause`
		// instruction here; that is architecture glue out of this
		// core's scope (spec.md §1).
	}
	l.savedIRQ = prev
}

// TryLock attempts to acquire the lock without blocking, returning false
// if it is already held.
func (l *Spinlock) TryLock() bool {
	prev := CPU.IRQDisable()
	if atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		l.savedIRQ = prev
		return true
	}
	CPU.IRQRestore(prev)
	return false
}

// Unlock releases the lock and restores the interrupt state Lock saved.
func (l *Spinlock) Unlock() {
	saved := l.savedIRQ
	atomic.StoreUint32(&l.state, 0)
	CPU.IRQRestore(saved)
}
