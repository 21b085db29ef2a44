package boot

import (
	"testing"

	"corvid/arch"
	"corvid/defs"
)

func fourRangeArgs(ncpu int) KernelArgs {
	return KernelArgs{
		Ranges: []PhysRange{
			{Start: 0, End: uintptr(256 * defs.PageSize), Kind: RangeUsable},
			{Start: uintptr(256 * defs.PageSize), End: uintptr(300 * defs.PageSize), Kind: RangeReserved},
		},
		BootCPU:  0,
		NCPU:     ncpu,
		Features: FeatureSMP,
	}
}

func TestKmainSeedsAllocatorFromUsableRangesOnly(t *testing.T) {
	k, err := Kmain(fourRangeArgs(1), arch.NewSoftArch(), "v1.0.0")
	if err != nil {
		t.Fatalf("Kmain err = %v", err)
	}
	if k.Sched.NumCPU() != 1 {
		t.Fatalf("NumCPU = %d, want 1", k.Sched.NumCPU())
	}
	// Only the 256-page usable range is seeded: one 256-page run fits,
	// and no page from the 44-page reserved range is left after it.
	if _, ok := k.Mem.PageAlloc(256, 0); !ok {
		t.Fatal("allocator cannot supply the 256 usable pages")
	}
	if _, ok := k.Mem.PageAlloc(1, 0); ok {
		t.Fatal("allocator holds pages beyond the usable range")
	}
}

func TestKmainRejectsNoUsableMemory(t *testing.T) {
	args := KernelArgs{Ranges: []PhysRange{{Start: 0, End: 4096, Kind: RangeReserved}}}
	if _, err := Kmain(args, arch.NewSoftArch(), "v1.0.0"); err == nil {
		t.Fatal("expected an error with no usable ranges")
	}
}

func TestKmainRejectsIncompatibleModuleVersion(t *testing.T) {
	args := fourRangeArgs(1)
	args.Modules = &ModuleDesc{PhysBase: 0x1000, Size: 4096, Version: "v2.5.0"}
	if _, err := Kmain(args, arch.NewSoftArch(), "v2.0.0"); err == nil {
		t.Fatal("expected an error for a module newer than the kernel's max")
	}
}

func TestKmainRejectsMalformedModuleVersion(t *testing.T) {
	args := fourRangeArgs(1)
	args.Modules = &ModuleDesc{PhysBase: 0x1000, Size: 4096, Version: "not-a-version"}
	if _, err := Kmain(args, arch.NewSoftArch(), "v2.0.0"); err == nil {
		t.Fatal("expected an error for a malformed module version")
	}
}

func TestKmainBringsUpEveryAP(t *testing.T) {
	k, err := Kmain(fourRangeArgs(4), arch.NewSoftArch(), "v1.0.0")
	if err != nil {
		t.Fatalf("Kmain err = %v", err)
	}
	if k.Sched.NumCPU() != 4 {
		t.Fatalf("NumCPU = %d, want 4", k.Sched.NumCPU())
	}
}

func TestKmainWiresAWorkingKernelHeap(t *testing.T) {
	k, err := Kmain(fourRangeArgs(1), arch.NewSoftArch(), "v1.0.0")
	if err != nil {
		t.Fatalf("Kmain err = %v", err)
	}
	addr, kerr := k.Heap.Kmalloc(48, 0, 0)
	if kerr != defs.EOK {
		t.Fatalf("Heap.Kmalloc err = %v", kerr)
	}
	if addr < defs.KernelHeapBase {
		t.Fatalf("Kmalloc returned an address outside the kernel heap window: %x", addr)
	}
	k.Heap.Kfree(addr, 0)
}

func TestModuleDescValidateAcceptsEqualVersion(t *testing.T) {
	m := &ModuleDesc{Version: "v1.2.3"}
	if err := m.Validate("v1.2.3"); err != defs.EOK {
		t.Fatalf("Validate err = %v, want EOK", err)
	}
}
