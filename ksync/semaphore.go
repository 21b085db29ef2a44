package ksync

// Semaphore is a counting semaphore (spec.md §4.4): Down blocks while the
// count is zero, Up wakes one waiter. FIFO fairness among waiters is
// guaranteed by WaitQueue (spec.md §5).
type Semaphore struct {
	sp    Spinlock
	count int
	wq    WaitQueue
}

// NewSemaphore returns a semaphore initialised to count.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{count: count}
}

// Down blocks until the count is positive, then claims one unit.
func (s *Semaphore) Down() {
	s.DownTimeout(-1)
}

// DownInterruptible blocks until the count is positive, an interrupt
// fires, or timeoutUsec elapses, returning the distinguished WakeStatus.
func (s *Semaphore) DownInterruptible(timeoutUsec int64, interrupt <-chan struct{}) WakeStatus {
	s.sp.Lock()
	for s.count == 0 {
		status := s.wq.Wait(&s.sp, timeoutUsec, interrupt)
		if status != WakeNormal {
			s.sp.Unlock()
			return status
		}
	}
	s.count--
	s.sp.Unlock()
	return WakeNormal
}

// DownTimeout blocks until the count is positive or timeoutUsec elapses
// per the universal convention in spec.md §5 (0 = try, -1 = indefinite).
func (s *Semaphore) DownTimeout(timeoutUsec int64) WakeStatus {
	return s.DownInterruptible(timeoutUsec, nil)
}

// TryDown claims one unit without blocking, reporting success. It
// respects the FIFO fairness guarantee (spec.md §5) by refusing to steal
// a unit out from under threads already queued on Down.
func (s *Semaphore) TryDown() bool {
	s.sp.Lock()
	defer s.sp.Unlock()
	if s.count == 0 || s.wq.Len() > 0 {
		return false
	}
	s.count--
	return true
}

// Up releases one unit, waking a single waiter if any are queued.
func (s *Semaphore) Up() {
	s.sp.Lock()
	s.count++
	s.sp.Unlock()
	s.wq.NotifyOne()
}

// Count returns the current count, for diagnostics and tests only — it is
// racy the instant it is read under concurrent use.
func (s *Semaphore) Count() int {
	s.sp.Lock()
	defer s.sp.Unlock()
	return s.count
}
