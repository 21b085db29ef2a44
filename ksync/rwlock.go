package ksync

// RWLock is a writer-preferring read/write lock (spec.md §4.4): multiple
// readers may hold it concurrently, but once a writer is waiting, new
// readers queue behind it so a steady stream of readers cannot starve a
// writer.
type RWLock struct {
	sp           Spinlock
	readers      int
	writerActive bool
	writersWaiting int
	readWQ       WaitQueue
	writeWQ      WaitQueue
}

// RLock blocks while a writer holds or is waiting for the lock.
func (l *RWLock) RLock() {
	l.sp.Lock()
	for l.writerActive || l.writersWaiting > 0 {
		l.readWQ.Wait(&l.sp, -1, nil)
	}
	l.readers++
	l.sp.Unlock()
}

// RUnlock releases one reader's hold, waking a waiting writer once the
// last reader has left.
func (l *RWLock) RUnlock() {
	l.sp.Lock()
	if l.readers == 0 {
		l.sp.Unlock()
		panic("rwlock: RUnlock without a held read lock")
	}
	l.readers--
	last := l.readers == 0
	l.sp.Unlock()
	if last {
		l.writeWQ.NotifyOne()
	}
}

// Lock acquires exclusive access, blocking until there are no readers and
// no other writer holds the lock.
func (l *RWLock) Lock() {
	l.sp.Lock()
	l.writersWaiting++
	for l.writerActive || l.readers > 0 {
		l.writeWQ.Wait(&l.sp, -1, nil)
	}
	l.writersWaiting--
	l.writerActive = true
	l.sp.Unlock()
}

// Unlock releases exclusive access, preferring to wake a still-waiting
// writer before letting readers back in.
func (l *RWLock) Unlock() {
	l.sp.Lock()
	if !l.writerActive {
		l.sp.Unlock()
		panic("rwlock: Unlock without a held write lock")
	}
	l.writerActive = false
	wakeWriter := l.writersWaiting > 0
	l.sp.Unlock()
	if wakeWriter {
		l.writeWQ.NotifyOne()
	} else {
		l.readWQ.NotifyAll()
	}
}
