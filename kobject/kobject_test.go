package kobject

import (
	"testing"
	"time"

	"corvid/arch"
	"corvid/defs"
	"corvid/ksync"
)

func init() {
	ksync.Bind(arch.NewSoftArch())
}

type fakeObject struct {
	closed bool
	ready  chan struct{}
}

func newFakeObject() *fakeObject { return &fakeObject{ready: make(chan struct{})} }

func (f *fakeObject) Close() defs.Err_t { f.closed = true; return defs.EOK }

func (f *fakeObject) Wait(timeoutUsec int64, interrupt <-chan struct{}) (ksync.WakeStatus, defs.Err_t) {
	select {
	case <-f.ready:
		return ksync.WakeNormal, defs.EOK
	case <-interrupt:
		return ksync.WakeInterrupted, defs.EOK
	}
}

func TestInsertLookupClose(t *testing.T) {
	tbl := NewTable(16)
	obj := newFakeObject()

	hid, err := tbl.Insert(obj, RightRead|RightWrite, false)
	if err != defs.EOK {
		t.Fatalf("Insert err = %v", err)
	}

	if _, err := tbl.Lookup(hid, RightRead); err != defs.EOK {
		t.Fatalf("Lookup with held right failed: %v", err)
	}
	if _, err := tbl.Lookup(hid, RightDup); err != defs.EACCES {
		t.Fatalf("Lookup without held right = %v, want EACCES", err)
	}
	if _, err := tbl.Lookup(defs.Hid_t(999), RightRead); err != defs.EINVALHANDLE {
		t.Fatalf("Lookup of unknown handle = %v, want EINVALHANDLE", err)
	}

	if err := tbl.Close(hid); err != defs.EOK {
		t.Fatalf("Close err = %v", err)
	}
	if !obj.closed {
		t.Fatal("object should be closed once its only handle closes")
	}
	if _, err := tbl.Lookup(hid, RightRead); err != defs.EINVALHANDLE {
		t.Fatal("handle should be gone after Close")
	}
}

func TestDupSharesRefcountNotClosedUntilBothClose(t *testing.T) {
	tbl := NewTable(16)
	obj := newFakeObject()
	hid, _ := tbl.Insert(obj, RightRead|RightDup, false)

	dup, err := tbl.Dup(hid)
	if err != defs.EOK {
		t.Fatalf("Dup err = %v", err)
	}
	if dup == hid {
		t.Fatal("Dup should allocate a distinct handle id")
	}

	tbl.Close(hid)
	if obj.closed {
		t.Fatal("object closed too early: one dup still live")
	}
	tbl.Close(dup)
	if !obj.closed {
		t.Fatal("object should close once every dup is closed")
	}
}

func TestInheritOnlyCopiesInheritableHandles(t *testing.T) {
	parent := NewTable(16)
	kept := newFakeObject()
	dropped := newFakeObject()

	keptID, _ := parent.Insert(kept, RightRead, true)
	parent.Insert(dropped, RightRead, false)

	child := parent.Inherit(16)
	if child.Len() != 1 {
		t.Fatalf("child table has %d handles, want 1", child.Len())
	}
	if _, err := child.Lookup(keptID, RightRead); err != defs.EOK {
		t.Fatal("inheritable handle missing from child table")
	}
}

func TestTableRespectsLimit(t *testing.T) {
	tbl := NewTable(1)
	if _, err := tbl.Insert(newFakeObject(), RightRead, false); err != defs.EOK {
		t.Fatal("first insert should succeed")
	}
	if _, err := tbl.Insert(newFakeObject(), RightRead, false); err != defs.EOOM {
		t.Fatalf("second insert = %v, want EOOM", err)
	}
}

type sizedObject struct {
	fakeObject
	size uintptr
}

func (s *sizedObject) Size() uintptr { return s.size }

func TestStatReportsDeviceHandleModeAndSize(t *testing.T) {
	tbl := NewTable(16)
	obj := &sizedObject{fakeObject: *newFakeObject(), size: 4096}
	hid, _ := tbl.Insert(obj, RightRead|RightWrite, false)

	st, err := tbl.Stat(hid, 7)
	if err != defs.EOK {
		t.Fatalf("Stat err = %v", err)
	}
	if st.Rdev() != 0 {
		t.Fatalf("Stat.Rdev = %d, want 0", st.Rdev())
	}
	if st.Mode() != uint(RightRead|RightWrite) {
		t.Fatalf("Stat.Mode = %d, want %d", st.Mode(), uint(RightRead|RightWrite))
	}
	if st.Size() != 4096 {
		t.Fatalf("Stat.Size = %d, want 4096", st.Size())
	}
	if st.Rino() != uint(hid) {
		t.Fatalf("Stat.Rino = %d, want %d", st.Rino(), uint(hid))
	}
}

func TestStatUnknownHandleFails(t *testing.T) {
	tbl := NewTable(16)
	if _, err := tbl.Stat(defs.Hid_t(42), 1); err != defs.EINVALHANDLE {
		t.Fatalf("Stat on unknown handle err = %v, want EINVALHANDLE", err)
	}
}

func TestWaitAnyReturnsFirstReady(t *testing.T) {
	tbl := NewTable(16)
	a := newFakeObject()
	b := newFakeObject()
	hidA, _ := tbl.Insert(a, RightWait, false)
	hidB, _ := tbl.Insert(b, RightWait, false)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(b.ready)
	}()

	got, status, err := tbl.WaitAny([]defs.Hid_t{hidA, hidB}, defs.Indefinite, nil)
	if err != defs.EOK {
		t.Fatalf("WaitAny err = %v", err)
	}
	if status != ksync.WakeNormal {
		t.Fatalf("status = %v, want Normal", status)
	}
	if got != hidB {
		t.Fatalf("WaitAny returned %v, want the ready handle %v", got, hidB)
	}
}
