// Package timer implements the monotonic time source and per-CPU timer
// wheels spec.md §4.6 describes: system_time() in microseconds since
// boot, a sorted list of pending timers per CPU serviced on every tick,
// and the PERIODIC/ONE_SHOT device contract the scheduler's tick source
// implements.
//
// Grounded on Biscuit's accnt.Accnt_t time bookkeeping
// (_examples/.../biscuit/src/accnt/accnt.go), generalized from per-thread
// nanosecond counters into the kernel-wide monotonic clock and wheel the
// scheduler depends on.
package timer

import (
	"sort"
	"sync"

	"corvid/arch"
)

// Source abstracts the pluggable time source (TSC or PIT) spec.md §4.6
// names; System_time() is built on whichever Source is installed.
type Source interface {
	// NowUsec returns microseconds since this source's own epoch.
	// Corvid never assumes it starts at zero; Clock subtracts the
	// value latched at Clock creation.
	NowUsec() uint64
}

// TSCSource drives System_time() from the architecture's TSC, scaled by a
// calibrated cycles-per-microsecond factor. It reads whichever CPU's TSC
// the architecture returns; nothing in this tree calibrates an AP's TSC
// offset against the boot CPU, so readings taken on different CPUs are
// not synchronized.
type TSCSource struct {
	a               arch.Arch
	cyclesPerUsec   uint64
}

// NewTSCSource builds a Source scaled by the given calibration.
func NewTSCSource(a arch.Arch, cyclesPerUsec uint64) *TSCSource {
	if cyclesPerUsec == 0 {
		panic("timer: zero TSC calibration")
	}
	return &TSCSource{a: a, cyclesPerUsec: cyclesPerUsec}
}

func (t *TSCSource) NowUsec() uint64 {
	return t.a.ReadTSC() / t.cyclesPerUsec
}

// Clock is the kernel's monotonic time source, system_time() in spec.md
// §4.6, anchored so it reads zero at boot regardless of what the
// underlying Source's raw counter started at.
type Clock struct {
	src   Source
	epoch uint64
}

// NewClock anchors a Clock to src's current reading.
func NewClock(src Source) *Clock {
	return &Clock{src: src, epoch: src.NowUsec()}
}

// NowUsec returns microseconds elapsed since this Clock was created.
func (c *Clock) NowUsec() uint64 {
	return c.src.NowUsec() - c.epoch
}

// Mode distinguishes the two device programming styles spec.md §4.6
// names.
type Mode int

const (
	Periodic Mode = iota
	OneShot
)

// Device is the programmable interrupt source driving ticks: the PIT
// fallback or a per-CPU local APIC timer, abstracted per spec.md §4.6.
type Device interface {
	Mode() Mode
	Enable()
	Disable()
	// Prepare programs the next fire time, usecUntilNext microseconds
	// from now. Only meaningful for OneShot devices.
	Prepare(usecUntilNext uint64)
}

// pending is one armed timer on a CPU's wheel.
type pending struct {
	deadline uint64 // absolute Clock usec
	periodUsec uint64 // 0 for one-shot
	fn       func()
}

// Wheel is one CPU's sorted list of pending timers, serviced on every
// tick (spec.md §4.6: "on every tick the list head is checked and due
// timers fire").
type Wheel struct {
	mu     sync.Mutex
	clock  *Clock
	timers []*pending
}

// NewWheel creates an empty wheel driven by clock.
func NewWheel(clock *Clock) *Wheel {
	return &Wheel{clock: clock}
}

// Arm schedules fn to run after usecFromNow microseconds, optionally
// repeating every periodUsec microseconds thereafter (periodUsec == 0 for
// a one-shot timer). It returns a handle Cancel accepts.
func (w *Wheel) Arm(usecFromNow uint64, periodUsec uint64, fn func()) *pending {
	p := &pending{
		deadline:   w.clock.NowUsec() + usecFromNow,
		periodUsec: periodUsec,
		fn:         fn,
	}
	w.mu.Lock()
	w.insert(p)
	w.mu.Unlock()
	return p
}

func (w *Wheel) insert(p *pending) {
	i := sort.Search(len(w.timers), func(i int) bool {
		return w.timers[i].deadline >= p.deadline
	})
	w.timers = append(w.timers, nil)
	copy(w.timers[i+1:], w.timers[i:])
	w.timers[i] = p
}

// Cancel removes a still-pending timer. It is a no-op if the timer has
// already fired.
func (w *Wheel) Cancel(p *pending) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, t := range w.timers {
		if t == p {
			w.timers = append(w.timers[:i], w.timers[i+1:]...)
			return
		}
	}
}

// Tick checks the wheel's head against the current time, firing every due
// timer (re-arming periodic ones) and reports whether a reschedule should
// be forced — spec.md §4.6's "returns a boolean that ... signals the
// scheduler that a reschedule is required".
func (w *Wheel) Tick() bool {
	now := w.clock.NowUsec()
	var due []*pending

	w.mu.Lock()
	for len(w.timers) > 0 && w.timers[0].deadline <= now {
		due = append(due, w.timers[0])
		w.timers = w.timers[1:]
	}
	w.mu.Unlock()

	if len(due) == 0 {
		return false
	}
	for _, p := range due {
		p.fn()
		if p.periodUsec > 0 {
			p.deadline = now + p.periodUsec
			w.mu.Lock()
			w.insert(p)
			w.mu.Unlock()
		}
	}
	return true
}

// NextDeadline returns the wheel's earliest pending deadline and whether
// one exists, letting a OneShot Device reprogram itself precisely rather
// than ticking at a fixed period.
func (w *Wheel) NextDeadline() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.timers) == 0 {
		return 0, false
	}
	return w.timers[0].deadline, true
}
