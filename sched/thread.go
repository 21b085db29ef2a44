package sched

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"corvid/defs"
)

// State is a thread's position in the CREATED -> READY -> RUNNING ->
// SLEEPING -> DEAD state machine spec.md §4.5 defines. DEAD is terminal.
// Run moves CREATED to READY, dispatch moves READY to RUNNING, Sleep moves
// RUNNING to SLEEPING and back to RUNNING on wake, and a thread whose body
// returns or is killed ends in DEAD.
type State int

const (
	Created State = iota
	Ready
	Running
	Sleeping
	Dead
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Thread is one schedulable kernel thread (spec.md §3 "Thread"). Its
// fields mirror Biscuit's Tnote_t
// (_examples/.../biscuit/src/tinfo/tinfo.go): Killed/Killch/Kerr are kept
// under the same name and meaning, generalized from Biscuit's bool "doomed"
// flag into the interruptible-wait plumbing corvid/ksync already expects
// from any interrupt channel.
type Thread struct {
	ID    defs.Tid_t
	Name  string
	Proc  *Process
	entry func()

	priority    int
	timeslice   int // remaining quanta before a forced Yield
	quantum     int // quanta granted per dispatch; timeslice is refilled to it
	preemptDis  int32

	mu     sync.Mutex
	state  State
	cpu    int

	killed bool
	killCh chan struct{}
	kerr   defs.Err_t

	accounting Accounting

	started chan struct{} // closed by the CPU loop to release entry()
	done    chan struct{} // closed after entry() returns and DEAD is set
}

// Accounting tracks per-thread time spent, generalized from Biscuit's
// Accnt_t (_examples/.../biscuit/src/accnt/accnt.go) down to the two
// counters this scheduler keeps: dispatch quanta granted (a proxy for CPU
// time) and the number of wakeups from Sleep.
type Accounting struct {
	mu        sync.Mutex
	Quanta    int64 // dispatch quanta granted, a proxy for CPU time
	Wakeups   int64
}

func (a *Accounting) addQuantum() {
	a.mu.Lock()
	a.Quanta++
	a.mu.Unlock()
}

func (a *Accounting) addWakeup() {
	a.mu.Lock()
	a.Wakeups++
	a.mu.Unlock()
}

// Snapshot returns a copy of the counters for diagnostics.
func (a *Accounting) Snapshot() (quanta, wakeups int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Quanta, a.Wakeups
}

// State returns the thread's current state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// DisablePreempt increments the preempt-disable counter spec.md §4.5
// names: while non-zero, CheckPreempt is a no-op, mirroring a held
// spinlock's "never suspend while holding a spinlock" rule (spec.md §5).
func (t *Thread) DisablePreempt() {
	atomic.AddInt32(&t.preemptDis, 1)
}

// EnablePreempt decrements the counter; it panics if it would go negative,
// the same "unbalanced enable" programmer error ksync's Unlock checks
// guard against.
func (t *Thread) EnablePreempt() {
	if atomic.AddInt32(&t.preemptDis, -1) < 0 {
		panic("sched: unbalanced EnablePreempt")
	}
}

// Kill marks t for termination: a pending interruptible wait unblocks with
// WakeInterrupted, and the thread's own CheckPreempt calls observe Killed
// and unwind. err is the reason recorded for diagnostics, paralleling
// Biscuit's Tnote_t.Killnaps.Kerr.
func (t *Thread) Kill(err defs.Err_t) {
	t.mu.Lock()
	if t.killed {
		t.mu.Unlock()
		return
	}
	t.killed = true
	t.kerr = err
	t.mu.Unlock()
	close(t.killCh)
}

// Killed reports whether Kill has been called, and the recorded reason.
func (t *Thread) Killed() (bool, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed, t.kerr
}

// InterruptChannel exposes the thread's kill signal as the <-chan
// struct{} corvid/ksync's interruptible waits expect.
func (t *Thread) InterruptChannel() <-chan struct{} { return t.killCh }

// CheckPreempt is called by a running thread's own body at points where it
// is safe to suspend (loop iterations, syscall return) — spec.md §4.5's
// substitute for an asynchronous timer interrupt, since corvid has no
// hook to suspend a goroutine from the outside. It decrements the
// remaining timeslice and voluntarily yields the underlying OS thread via
// runtime.Gosched once it runs out, which is what gives equal-priority
// threads fair wall-clock sharing under Go's own scheduler (spec.md §8 S4).
func (t *Thread) CheckPreempt() {
	if killed, _ := t.Killed(); killed {
		panic(killSignal{})
	}
	if atomic.LoadInt32(&t.preemptDis) != 0 {
		return
	}
	t.mu.Lock()
	t.timeslice--
	expired := t.timeslice <= 0
	if expired {
		t.timeslice = t.quantum
	}
	t.mu.Unlock()
	if expired {
		runtime.Gosched()
	}
}

// killSignal is recovered by the thread's dispatch wrapper to unwind a
// killed thread's stack without tearing down the whole process.
type killSignal struct{}

// currentGoroutineID parses runtime.Stack's header line, the same
// introspection trick Biscuit replaced with a forked runtime.Gptr/Setgptr
// pair (_examples/.../biscuit/src/tinfo/tinfo.go). Corvid has no forked
// runtime to patch, so it falls back to this well-known hack to recover a
// goroutine-local identity for ksync.CurrentThread.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	_, err := fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	if err != nil {
		panic("sched: cannot parse goroutine id: " + err.Error())
	}
	return id
}
