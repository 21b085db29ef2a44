package vmm

import (
	"testing"

	"corvid/arch"
	"corvid/defs"
)

func newTestSpace(t *testing.T) (*arch.SoftArch, *AddressSpace) {
	t.Helper()
	sa := arch.NewSoftArch()
	root := sa.NewRoot()
	return sa, New(sa, root, true)
}

// TestMapInsertRemoveRoundTrip is spec.md §8's round-trip law: insert then
// remove restores the address space to its prior (unmapped) state.
func TestMapInsertRemoveRoundTrip(t *testing.T) {
	_, as := newTestSpace(t)
	v := defs.UserBase

	if err := as.MapInsert(v, 0x3000, arch.ProtRead|arch.ProtWrite); err != defs.EOK {
		t.Fatalf("map_insert failed: %v", err)
	}
	if p, ok := as.MapLookup(v); !ok || p != 0x3000 {
		t.Fatalf("map_lookup = (%x, %v), want (0x3000, true)", p, ok)
	}

	paddr, err := as.MapRemove(v)
	if err != defs.EOK || paddr != 0x3000 {
		t.Fatalf("map_remove = (%x, %v), want (0x3000, EOK)", paddr, err)
	}
	if _, ok := as.MapLookup(v); ok {
		t.Fatal("mapping still present after map_remove")
	}
}

func TestMapRemoveNotFound(t *testing.T) {
	_, as := newTestSpace(t)
	if _, err := as.MapRemove(defs.UserBase); err != defs.ENOTFOUND {
		t.Fatalf("map_remove on absent page = %v, want NotFound", err)
	}
}

func TestMapInsertOverExistingPanics(t *testing.T) {
	_, as := newTestSpace(t)
	v := defs.UserBase
	if err := as.MapInsert(v, 0x1000, arch.ProtRead); err != defs.EOK {
		t.Fatalf("first map_insert failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic inserting over an occupied slot")
		}
	}()
	as.MapInsert(v, 0x2000, arch.ProtRead)
}

func TestMapInsertOutOfRange(t *testing.T) {
	_, as := newTestSpace(t)
	if err := as.MapInsert(as.Base-1, 0x1000, arch.ProtRead); err != defs.EINVALADDR {
		t.Fatalf("map_insert below user base = %v, want InvalidAddress", err)
	}
}

func TestMapProtectSkipsUnmapped(t *testing.T) {
	_, as := newTestSpace(t)
	start := defs.UserBase
	end := start + uintptr(4*defs.PageSize)
	if err := as.MapInsert(start+uintptr(2*defs.PageSize), 0x9000, arch.ProtRead); err != defs.EOK {
		t.Fatal(err)
	}
	if err := as.MapProtect(start, end, arch.ProtRead|arch.ProtWrite); err != defs.EOK {
		t.Fatalf("map_protect: %v", err)
	}
}
