package kheap

import (
	"testing"
	"time"

	"corvid/arch"
	"corvid/defs"
	"corvid/mem"
	"corvid/vmm"
)

func newTestRange(t *testing.T, windowSize uintptr) *VirtRange {
	t.Helper()
	a := arch.NewSoftArch()
	root := a.NewRoot()
	as := vmm.New(a, root, false)
	phys := mem.New(0, 4096)
	return NewVirtRange(as, phys, defs.KernelHeapBase, windowSize, uintptr(defs.PageSize))
}

func TestVirtRangeReserveRejectsZeroSize(t *testing.T) {
	vr := newTestRange(t, 1<<20)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero-sized reservation")
		}
	}()
	vr.Reserve(0, 0)
}

func TestVirtRangeReserveReleaseRoundTrip(t *testing.T) {
	vr := newTestRange(t, 1<<20)
	addr, err := vr.Reserve(100, 0)
	if err != defs.EOK {
		t.Fatalf("Reserve err = %v", err)
	}
	if addr < defs.KernelHeapBase {
		t.Fatalf("Reserve returned address outside the heap window: %x", addr)
	}
	vr.Release(addr)

	addr2, err := vr.Reserve(100, 0)
	if err != defs.EOK {
		t.Fatalf("second Reserve err = %v", err)
	}
	if addr2 != addr {
		t.Fatalf("expected quantum-cached reuse of %x, got %x", addr, addr2)
	}
}

func TestVirtRangeSplitAndCoalesce(t *testing.T) {
	vr := newTestRange(t, 1<<20)
	a1, _ := vr.Reserve(64, 0)
	a2, _ := vr.Reserve(64, 0)
	if a1 == a2 {
		t.Fatal("two live reservations returned the same address")
	}
	vr.Release(a1)
	vr.Release(a2)

	big, err := vr.Reserve(uintptr(defs.PageSize), 0)
	if err != defs.EOK {
		t.Fatalf("Reserve after release err = %v", err)
	}
	if big == 0 {
		t.Fatal("expected a non-zero address after coalescing")
	}
}

func TestVirtRangeExhaustionFailsWithoutFatal(t *testing.T) {
	vr := newTestRange(t, uintptr(defs.PageSize))
	if _, err := vr.Reserve(uintptr(defs.PageSize), 0); err != defs.EOK {
		t.Fatalf("first Reserve err = %v", err)
	}
	_, err := vr.Reserve(uintptr(defs.PageSize), 0)
	if err != defs.EOOM {
		t.Fatalf("Reserve past the window err = %v, want EOOM", err)
	}
}

func TestVirtRangeSleepRetriesUntilPagesFreeUp(t *testing.T) {
	a := arch.NewSoftArch()
	root := a.NewRoot()
	as := vmm.New(a, root, false)
	phys := mem.New(0, 1) // exactly one page frame in the whole system
	vr := NewVirtRange(as, phys, defs.KernelHeapBase, 1<<20, uintptr(defs.PageSize))

	pfn, ok := phys.PageAlloc(1, 0)
	if !ok {
		t.Fatal("expected the sole page frame to be available up front")
	}

	go func() {
		time.Sleep(time.Millisecond)
		phys.PageFree(pfn, 1)
	}()

	addr, err := vr.Reserve(uintptr(defs.PageSize), Sleep)
	if err != defs.EOK {
		t.Fatalf("Reserve with Sleep err = %v, want it to succeed once the frame frees up", err)
	}
	if addr < defs.KernelHeapBase {
		t.Fatalf("unexpected address %x", addr)
	}
}

func TestVirtRangeExhaustionPanicsWithFatal(t *testing.T) {
	vr := newTestRange(t, uintptr(defs.PageSize))
	vr.Reserve(uintptr(defs.PageSize), 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic with Fatal flag set")
		}
	}()
	vr.Reserve(uintptr(defs.PageSize), Fatal)
}

func newTestHeap(t *testing.T, windowSize uintptr, ncpu int) *Heap {
	t.Helper()
	a := arch.NewSoftArch()
	root := a.NewRoot()
	as := vmm.New(a, root, false)
	phys := mem.New(0, 8192)
	return NewHeap(as, phys, windowSize, ncpu)
}

func TestKmallocZeroSizePanics(t *testing.T) {
	h := newTestHeap(t, 4<<20, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero-sized Kmalloc")
		}
	}()
	h.Kmalloc(0, 0, -1)
}

func TestKmallocSmallRoundTripsThroughCache(t *testing.T) {
	h := newTestHeap(t, 4<<20, 2)
	addr, err := h.Kmalloc(24, 0, 0)
	if err != defs.EOK {
		t.Fatalf("Kmalloc err = %v", err)
	}
	h.Kfree(addr, 0)

	addr2, err := h.Kmalloc(24, 0, 0)
	if err != defs.EOK {
		t.Fatalf("second Kmalloc err = %v", err)
	}
	if addr2 != addr {
		t.Fatalf("expected the magazine to hand back %x, got %x", addr, addr2)
	}
}

func TestKmallocLargeBypassesCaches(t *testing.T) {
	h := newTestHeap(t, 4<<20, 2)
	addr, err := h.Kmalloc(1<<16, 0, 0)
	if err != defs.EOK {
		t.Fatalf("Kmalloc err = %v", err)
	}
	h.mu.Lock()
	_, tracked := h.large[addr]
	h.mu.Unlock()
	if !tracked {
		t.Fatal("expected an oversized allocation to be tracked in h.large")
	}
	h.Kfree(addr, 0)
}

func TestKmallocDistinctObjectsDoNotAlias(t *testing.T) {
	h := newTestHeap(t, 4<<20, 2)
	seen := make(map[uintptr]bool)
	for i := 0; i < 50; i++ {
		addr, err := h.Kmalloc(40, 0, i%2)
		if err != defs.EOK {
			t.Fatalf("Kmalloc[%d] err = %v", i, err)
		}
		if seen[addr] {
			t.Fatalf("address %x handed out twice while still live", addr)
		}
		seen[addr] = true
	}
}

func TestCacheReclaimFreesEmptySlabs(t *testing.T) {
	vr := newTestRange(t, 4<<20)
	c := NewCache(vr, "test-64", 64, 0, 2, 0, nil, nil)

	// One slab's worth of objects (slabSize/ObjSize == 64 for this class).
	objs := make([]uintptr, 0, 64)
	for i := 0; i < 64; i++ {
		addr, err := c.Alloc(0, 0)
		if err != defs.EOK {
			t.Fatalf("Alloc[%d] err = %v", i, err)
		}
		objs = append(objs, addr)
	}
	for _, addr := range objs {
		c.Free(0, addr)
	}

	freed := c.Reclaim()
	if freed != c.slabSize {
		t.Fatalf("Reclaim freed %d bytes, want the one idle slab (%d bytes)", freed, c.slabSize)
	}
}

func TestCacheConstructorAndDestructorRun(t *testing.T) {
	vr := newTestRange(t, 1<<20)
	var constructed, destructed int
	c := NewCache(vr, "ctor-test", 32, 0, 1, 0,
		func(uintptr) { constructed++ },
		func(uintptr) { destructed++ },
	)

	addr, err := c.Alloc(0, 0)
	if err != defs.EOK {
		t.Fatalf("Alloc err = %v", err)
	}
	if constructed != 1 {
		t.Fatalf("constructed = %d, want 1", constructed)
	}
	c.Free(0, addr)
	if destructed != 1 {
		t.Fatalf("destructed = %d, want 1", destructed)
	}
}
