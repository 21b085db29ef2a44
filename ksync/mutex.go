package ksync

// Mutex is a sleeping lock with an owner field (spec.md §4.4). By default
// a re-entrant Lock call by the current owner panics; Mutex created with
// recursive=true instead permits it and tracks nesting depth. Unlock is
// only ever valid from the owner.
type Mutex struct {
	sp        Spinlock
	wq        WaitQueue
	locked    bool
	owner     int64
	recursive bool
	depth     int
}

// NewMutex returns a ready Mutex; recursive selects the re-acquire policy
// spec.md §4.4 describes.
func NewMutex(recursive bool) *Mutex {
	return &Mutex{recursive: recursive}
}

func currentTID() int64 {
	if CurrentThread == nil {
		return 0
	}
	return CurrentThread()
}

// Lock acquires the mutex, blocking (with FIFO fairness) while held by
// another thread.
func (m *Mutex) Lock() {
	me := currentTID()
	m.sp.Lock()
	for {
		if !m.locked {
			m.locked = true
			m.owner = me
			m.depth = 1
			m.sp.Unlock()
			return
		}
		if m.owner == me {
			if !m.recursive {
				m.sp.Unlock()
				panic("mutex: re-acquire by owner")
			}
			m.depth++
			m.sp.Unlock()
			return
		}
		// Wait releases m.sp for the duration of the sleep and
		// re-acquires it before returning, so the loop re-checks
		// m.locked under the lock without a redundant re-lock here.
		m.wq.Wait(&m.sp, -1, nil)
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	me := currentTID()
	m.sp.Lock()
	defer m.sp.Unlock()
	if !m.locked {
		m.locked = true
		m.owner = me
		m.depth = 1
		return true
	}
	if m.owner == me && m.recursive {
		m.depth++
		return true
	}
	return false
}

// Unlock releases the mutex. It panics if the caller is not the owner, or
// if the mutex is not held — both are programmer-contract violations
// (spec.md §7).
func (m *Mutex) Unlock() {
	me := currentTID()
	m.sp.Lock()
	if !m.locked || m.owner != me {
		m.sp.Unlock()
		panic("mutex: unlock by non-owner")
	}
	m.depth--
	if m.depth > 0 {
		m.sp.Unlock()
		return
	}
	m.locked = false
	m.owner = 0
	m.sp.Unlock()
	m.wq.NotifyOne()
}
