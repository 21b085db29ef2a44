package mem

import "testing"

// TestAllocFreeRoundTrip mirrors spec.md §8 scenario S1: a single zeroed
// page round-trips through the allocator and the same frame may be
// reissued afterwards.
func TestAllocFreeRoundTrip(t *testing.T) {
	a := New(0x200, 1<<14)

	pfn, ok := a.PageAlloc(1, Zero)
	if !ok {
		t.Fatal("page_alloc failed on fresh allocator")
	}
	if a.Refcount(pfn) != 1 {
		t.Fatalf("fresh frame refcount = %d, want 1", a.Refcount(pfn))
	}

	a.Refdown(pfn)
	if a.Refcount(pfn) != 0 {
		t.Fatalf("freed frame refcount = %d, want 0", a.Refcount(pfn))
	}

	pfn2, ok := a.PageAlloc(1, 0)
	if !ok {
		t.Fatal("page_alloc failed after free")
	}
	_ = pfn2
}

func TestContiguousRunAndCoalesce(t *testing.T) {
	a := New(0, 1<<10)

	pfn, ok := a.PageAlloc(8, 0)
	if !ok {
		t.Fatal("8-page run allocation failed")
	}
	if a.Refcount(pfn) != 1 {
		t.Fatalf("head frame refcount = %d, want 1", a.Refcount(pfn))
	}
	a.PageFree(pfn, 8)

	// A second run of the same size should succeed, proving the freed
	// buddy block was coalesced back rather than fragmented.
	if _, ok := a.PageAlloc(8, 0); !ok {
		t.Fatal("re-allocating the freed run failed; buddies did not coalesce")
	}
}

func TestRunLargerThanMaxOrderFails(t *testing.T) {
	a := New(0, 1<<10)
	if _, ok := a.PageAlloc(1<<(MaxOrder+1), 0); ok {
		t.Fatal("expected failure for a run past MaxOrder")
	}
}

func TestFatalAllocPanics(t *testing.T) {
	a := New(0, 4)
	for {
		if _, ok := a.PageAlloc(1, 0); !ok {
			break
		}
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on FATAL allocation failure")
		}
	}()
	a.PageAlloc(1, Fatal)
}

func TestDoubleFreePanics(t *testing.T) {
	a := New(0, 16)
	pfn, _ := a.PageAlloc(1, 0)
	a.PageFree(pfn, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a.PageFree(pfn, 1)
}
