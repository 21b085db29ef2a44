package sched

import (
	"sync"

	"corvid/arch"
	"corvid/defs"
	"corvid/ksync"
	"corvid/vmm"
)

// DefaultQuantum is the number of CheckPreempt calls a thread is granted
// before it is forced to yield (spec.md §4.5's "timeslice").
const DefaultQuantum = 16

// Process is the container a group of threads shares: one address space
// and one handle table (spec.md §3 "Process"). Scoped down from Biscuit's
// Proc_t to the fields the scheduler itself needs; the scheduler never
// reads Handles, and no package in this tree sets it.
type Process struct {
	PID     defs.Pid_t
	AS      *vmm.AddressSpace
	Handles interface{} // opaque to sched, e.g. a *kobject.Table installed by the caller

	mu      sync.Mutex
	threads map[defs.Tid_t]*Thread
	exited  bool
	exit    defs.Err_t
}

func newProcess(pid defs.Pid_t, as *vmm.AddressSpace) *Process {
	return &Process{PID: pid, AS: as, threads: make(map[defs.Tid_t]*Thread)}
}

// Exited reports whether every thread in the process has reached DEAD.
func (p *Process) Exited() (bool, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exit
}

// Scheduler owns every CPU's run queue, the global thread registry, and
// the reaper that reclaims DEAD threads — the per-CPU state spec.md §4.5
// assigns to "each CPU".
type Scheduler struct {
	ncpu int

	mu    sync.Mutex
	queue []runQueue // one per CPU

	regMu   sync.Mutex
	byID    map[defs.Tid_t]*Thread
	byGID   map[uint64]*Thread // currentGoroutineID() -> running Thread
	nextID  defs.Tid_t
	nextPID defs.Pid_t

	dead chan *Thread // reaper input
}

// New creates a Scheduler for ncpu CPUs and starts its reaper goroutine.
// It also binds corvid/ksync's CurrentThread and CPU hooks so mutexes and
// wait queues can identify the calling thread without ksync importing
// this package (the dependency-inversion point spec.md §1 calls for
// between the architecture-agnostic primitives and the scheduler that
// uses them).
func New(ncpu int, a arch.Arch) *Scheduler {
	if ncpu <= 0 {
		panic("sched: ncpu must be positive")
	}
	s := &Scheduler{
		ncpu:  ncpu,
		queue: make([]runQueue, ncpu),
		byID:  make(map[defs.Tid_t]*Thread),
		byGID: make(map[uint64]*Thread),
		dead:  make(chan *Thread, 64),
	}
	ksync.CurrentThread = func() int64 {
		if t := s.Self(); t != nil {
			return int64(t.ID)
		}
		return -1
	}
	if a != nil {
		ksync.Bind(a)
	}
	go s.reap()
	return s
}

// NewProcess allocates a Process bound to the given address space.
func (s *Scheduler) NewProcess(as *vmm.AddressSpace) *Process {
	s.regMu.Lock()
	s.nextPID++
	pid := s.nextPID
	s.regMu.Unlock()
	return newProcess(pid, as)
}

// Create builds a new Thread in the CREATED state. entry is the thread's
// body; it must call t.CheckPreempt() periodically to cooperate with
// fairness and killability, exactly as a real kernel thread checks for a
// pending reschedule at safe points.
func (s *Scheduler) Create(proc *Process, name string, priority int, entry func(t *Thread)) *Thread {
	if priority < 0 || priority >= NumPriorities {
		panic("sched: priority out of range")
	}
	s.regMu.Lock()
	s.nextID++
	id := s.nextID
	s.regMu.Unlock()

	t := &Thread{
		ID:        id,
		Name:      name,
		Proc:      proc,
		priority:  priority,
		timeslice: DefaultQuantum,
		quantum:   DefaultQuantum,
		state:     Created,
		killCh:    make(chan struct{}),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.entry = func() { entry(t) }

	s.regMu.Lock()
	s.byID[id] = t
	s.regMu.Unlock()

	if proc != nil {
		proc.mu.Lock()
		proc.threads[id] = t
		proc.mu.Unlock()
	}
	return t
}

// Run transitions a CREATED thread to READY, assigns it to cpu's run
// queue, and starts its underlying goroutine. The goroutine blocks on
// t.started until the CPU's dispatch loop (Schedule) pops it, so run-queue
// order genuinely governs when entry() first executes.
func (s *Scheduler) Run(t *Thread, cpu int) {
	if cpu < 0 || cpu >= s.ncpu {
		panic("sched: cpu out of range")
	}
	t.cpu = cpu
	t.setState(Ready)

	s.mu.Lock()
	s.queue[cpu].push(t)
	s.mu.Unlock()

	go s.dispatch(t)
}

// dispatch is the body every scheduled thread's goroutine runs under: it
// waits to be released by Schedule, registers itself as "current" for
// ksync.CurrentThread, runs entry(), recovers a Kill-triggered unwind, and
// finally marks the thread DEAD and hands it to the reaper.
func (s *Scheduler) dispatch(t *Thread) {
	<-t.started
	t.setState(Running)

	gid := currentGoroutineID()
	s.regMu.Lock()
	s.byGID[gid] = t
	s.regMu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(killSignal); !ok {
					panic(r)
				}
			}
		}()
		t.entry()
	}()

	s.regMu.Lock()
	delete(s.byGID, gid)
	s.regMu.Unlock()

	t.setState(Dead)
	close(t.done)
	s.dead <- t
}

// Self returns the Thread bound to the calling goroutine, or nil if none
// (e.g. a non-kernel-thread goroutine calling into ksync, which should
// never happen in production but must not crash a diagnostic build).
func (s *Scheduler) Self() *Thread {
	gid := currentGoroutineID()
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.byGID[gid]
}

// Schedule is the CPU-local dispatch step: called whenever CPU cpu is
// idle or rescheduling (from a timer tick or a voluntary yield), it pops
// the highest-priority ready thread, if any, and releases it to run. It
// returns false when the run queue was empty.
func (s *Scheduler) Schedule(cpu int) bool {
	s.mu.Lock()
	t := s.queue[cpu].popHighest()
	s.mu.Unlock()
	if t == nil {
		return false
	}
	t.timeslice = t.quantum
	t.accounting.addQuantum()
	close(t.started)
	return true
}

// Yield voluntarily gives up the CPU by forcing CheckPreempt's expiry
// path immediately, regardless of remaining timeslice: the timeslice is
// refilled and the underlying goroutine calls runtime.Gosched. t stays
// RUNNING; it is not moved to READY or re-queued on its CPU's run queue.
func (s *Scheduler) Yield(t *Thread) {
	t.mu.Lock()
	t.timeslice = 0
	t.mu.Unlock()
	t.CheckPreempt()
}

// Sleep suspends the calling thread on wq until notified, timed out, or
// interrupted, exactly delegating to ksync.WaitQueue — "sleeping on a
// wait queue" is the same operation for a mutex waiter and a scheduled
// thread (spec.md §4.4, §4.5). The thread's own kill channel is passed as
// the interrupt source so a killed thread blocked in the kernel always
// wakes.
func (s *Scheduler) Sleep(t *Thread, wq *ksync.WaitQueue, lock interface {
	Lock()
	Unlock()
}, timeoutUsec int64) ksync.WakeStatus {
	t.setState(Sleeping)
	status := wq.Wait(lock, timeoutUsec, t.InterruptChannel())
	t.setState(Running)
	t.accounting.addWakeup()
	return status
}

// Kill requests termination of t. If t is blocked in an interruptible
// wait it wakes immediately with WakeInterrupted; otherwise it dies the
// next time its own code calls CheckPreempt.
func (s *Scheduler) Kill(t *Thread, err defs.Err_t) {
	t.Kill(err)
}

// reap drains DEAD threads, removes them from the global registry and
// their process's thread set, and marks the process exited once its last
// thread dies — the teardown half of the CREATED->...->DEAD lifecycle
// spec.md §4.5 requires a kernel to perform, generalized from Biscuit's
// inline proc-exit bookkeeping into a dedicated reaper goroutine so
// Create/Run callers never block on teardown.
func (s *Scheduler) reap() {
	for t := range s.dead {
		s.regMu.Lock()
		delete(s.byID, t.ID)
		s.regMu.Unlock()

		if t.Proc == nil {
			continue
		}
		p := t.Proc
		p.mu.Lock()
		delete(p.threads, t.ID)
		if len(p.threads) == 0 {
			p.exited = true
		}
		p.mu.Unlock()
	}
}

// NumCPU reports how many CPUs this scheduler was created for.
func (s *Scheduler) NumCPU() int { return s.ncpu }

// Lookup finds a live thread by id, for diagnostics (spec.md §4.7 "wait
// on thread" style operations that take a thread handle).
func (s *Scheduler) Lookup(id defs.Tid_t) (*Thread, bool) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	t, ok := s.byID[id]
	return t, ok
}
