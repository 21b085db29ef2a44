// Package kobject implements the object and handle manager spec.md §4.7
// describes: a capability-set interface every kernel object satisfies,
// per-process handle tables that map small integers to (object, rights)
// pairs, and multi-object waiting.
//
// Grounded on Biscuit's Fdops_i / Fd_t pattern
// (_examples/.../biscuit/src/fd/fd.go), generalized from "file descriptor
// operations" to the broader capability set SPEC_FULL.md's §4.7 addition
// names (close/wait/optional mappable get_page/release_page), since ports,
// connections, and shared-memory areas all need the same handle-table
// plumbing a file descriptor does, not just open files.
package kobject

import (
	"sync"
	"sync/atomic"

	"corvid/defs"
	"corvid/ksync"
	"corvid/stat"
)

// Rights is a bitmask of the operations a handle permits on its object
// (spec.md §4.7 "rights mask").
type Rights uint32

const (
	RightRead Rights = 1 << iota
	RightWrite
	RightWait
	RightMap
	RightDup
	RightInheritable

	RightAll = RightRead | RightWrite | RightWait | RightMap | RightDup
)

// Has reports whether every bit in want is set in r.
func (r Rights) Has(want Rights) bool { return r&want == want }

// Object is the capability set every kernel object managed through a
// handle table must implement: closeable, and waitable for an
// object-defined "ready" condition (data available, peer hung up, a port
// connection arrived). This is the generalization of Biscuit's
// Fdops_i.Close/Fdops_i — SPEC_FULL.md's §4.7 addition.
type Object interface {
	// Close releases the object's own resources. It is called once, when
	// the last handle referencing the object is closed.
	Close() defs.Err_t
	// Wait blocks until the object becomes ready, times out, or is
	// interrupted, following the universal timeout convention in
	// spec.md §5.
	Wait(timeoutUsec int64, interrupt <-chan struct{}) (ksync.WakeStatus, defs.Err_t)
}

// Mappable is optionally implemented by objects that can back a
// corvid/area shared-memory area (spec.md §4.8's object-backed areas):
// ports and connections do not implement it, but a future backing-store
// object would.
type Mappable interface {
	Object
	GetPage(offset uintptr) (paddr uintptr, err defs.Err_t)
	ReleasePage(offset uintptr)
}

// handle is one slot in a Table: a reference-counted (object, rights)
// pair, mirroring Biscuit's Fd_t generalized with an explicit refcount so
// Dup and process fork can share one underlying Object across handles.
type handle struct {
	obj         Object
	rights      Rights
	inheritable bool
	refcnt      int32
}

// Table is a per-process handle table (spec.md §3 "Handle table"): a
// dense map from small non-negative integers to handles, protected by a
// writer-preferring lock since lookups (the common case, e.g. every IPC
// send) vastly outnumber inserts/closes.
type Table struct {
	mu     ksync.RWLock
	slots  map[defs.Hid_t]*handle
	nextID defs.Hid_t
	limit  int
}

// NewTable creates an empty handle table bounded by limit entries (see
// defs.SysLimits.Handles for the system-wide default).
func NewTable(limit int) *Table {
	return &Table{slots: make(map[defs.Hid_t]*handle), limit: limit}
}

// Insert adds obj under a freshly allocated handle id with the given
// rights, returning defs.EOOM if the table is already at its limit.
func (t *Table) Insert(obj Object, rights Rights, inheritable bool) (defs.Hid_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.slots) >= t.limit {
		return defs.HidNone, defs.EOOM
	}
	id := t.nextID
	t.nextID++
	t.slots[id] = &handle{obj: obj, rights: rights, inheritable: inheritable, refcnt: 1}
	return id, defs.EOK
}

// Lookup resolves hid to its Object, verifying that rights contains every
// bit in want. It returns EINVALHANDLE for an unknown id and EACCES for an
// insufficient rights mask (spec.md §4.7's two distinguished failure
// modes).
func (t *Table) Lookup(hid defs.Hid_t, want Rights) (Object, defs.Err_t) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.slots[hid]
	if !ok {
		return nil, defs.EINVALHANDLE
	}
	if !h.rights.Has(want) {
		return nil, defs.EACCES
	}
	return h.obj, defs.EOK
}

// Dup creates a second handle referencing the same object and bumps its
// refcount, so Close on either handle alone never tears the object down.
func (t *Table) Dup(hid defs.Hid_t) (defs.Hid_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.slots[hid]
	if !ok {
		return defs.HidNone, defs.EINVALHANDLE
	}
	if !h.rights.Has(RightDup) {
		return defs.HidNone, defs.EACCES
	}
	if len(t.slots) >= t.limit {
		return defs.HidNone, defs.EOOM
	}
	atomic.AddInt32(&h.refcnt, 1)
	id := t.nextID
	t.nextID++
	t.slots[id] = h
	return id, defs.EOK
}

// Close drops hid. The underlying object's Close is invoked once its
// refcount reaches zero, i.e. once every handle referencing it (across
// every table that shares it via Dup or Inherit) has been closed.
func (t *Table) Close(hid defs.Hid_t) defs.Err_t {
	t.mu.Lock()
	h, ok := t.slots[hid]
	if !ok {
		t.mu.Unlock()
		return defs.EINVALHANDLE
	}
	delete(t.slots, hid)
	t.mu.Unlock()

	if atomic.AddInt32(&h.refcnt, -1) == 0 {
		return h.obj.Close()
	}
	return defs.EOK
}

// Inherit builds a child table containing only the handles marked
// inheritable, bumping each shared object's refcount — spec.md §4.7's
// "inheritance via the INHERITABLE flag" on process creation.
func (t *Table) Inherit(childLimit int) *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()

	child := NewTable(childLimit)
	for id, h := range t.slots {
		if !h.inheritable {
			continue
		}
		atomic.AddInt32(&h.refcnt, 1)
		child.slots[id] = h
		if id >= child.nextID {
			child.nextID = id + 1
		}
	}
	return child
}

// Len reports the number of live handles, for diagnostics and the
// kernel-statistics pseudo-device.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Sizeable is optionally implemented by objects that know their own byte
// size (an Area's current length, a Connection's buffered byte count),
// consulted by Stat to fill in corvid/stat.Stat_t.Wsize.
type Sizeable interface {
	Size() uintptr
}

// Stat fills out a corvid/stat.Stat_t describing the object behind hid,
// the D_STAT device's per-handle metadata query (spec.md §4.7's object
// metadata addition, SPEC_FULL.md §4.7).
func (t *Table) Stat(hid defs.Hid_t, dev uint) (stat.Stat_t, defs.Err_t) {
	t.mu.RLock()
	h, ok := t.slots[hid]
	t.mu.RUnlock()
	if !ok {
		return stat.Stat_t{}, defs.EINVALHANDLE
	}

	var st stat.Stat_t
	st.Wdev(dev)
	st.Wino(uint(hid))
	st.Wmode(uint(h.rights))
	if s, ok := h.obj.(Sizeable); ok {
		st.Wsize(uint(s.Size()))
	}
	return st, defs.EOK
}

// WaitAny blocks until any one of hids becomes ready, returning the first
// one that does along with its wake status. This is the "multi-object
// wait" spec.md §4.7 requires for select-like syscalls that watch several
// ports/connections at once; it has no single-object equivalent in
// Biscuit, so it is built directly from Object.Wait fanned out over a
// goroutine per candidate, the idiomatic Go substitute for a native
// multi-wait syscall.
func (t *Table) WaitAny(hids []defs.Hid_t, timeoutUsec int64, interrupt <-chan struct{}) (defs.Hid_t, ksync.WakeStatus, defs.Err_t) {
	if len(hids) == 0 {
		return defs.HidNone, ksync.WakeNormal, defs.EINVAL
	}

	objs := make([]Object, len(hids))
	for i, hid := range hids {
		obj, err := t.Lookup(hid, RightWait)
		if err != defs.EOK {
			return defs.HidNone, ksync.WakeNormal, err
		}
		objs[i] = obj
	}

	type result struct {
		idx    int
		status ksync.WakeStatus
		err    defs.Err_t
	}
	results := make(chan result, len(objs))
	done := make(chan struct{})
	var once sync.Once

	for i, obj := range objs {
		go func(i int, obj Object) {
			status, err := obj.Wait(timeoutUsec, mergeInterrupt(interrupt, done))
			select {
			case results <- result{i, status, err}:
			case <-done:
			}
		}(i, obj)
	}

	r := <-results
	once.Do(func() { close(done) })
	return hids[r.idx], r.status, r.err
}

// mergeInterrupt closes its returned channel when either source closes,
// letting WaitAny cancel every still-pending Wait once one candidate has
// already answered.
func mergeInterrupt(a <-chan struct{}, b <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		select {
		case <-a:
		case <-b:
		}
		close(out)
	}()
	return out
}
