// Package boot implements the bootloader-to-kernel handoff spec.md §6
// describes: the kernel-args structure, module-descriptor validation, and
// the SMP bring-up sequence that brings every application processor
// online before kmain hands control to the scheduler.
//
// No boot.go/stub.go trampoline survived the teacher's retrieval pack (the
// pack kept chentry.go, a build-time ELF-entry-patching tool, not the
// actual kernel entry point), so this package is designed fresh from
// spec.md §6's feature list, in the teacher's general idiom: a single
// struct the architecture trampoline hands off, and a kmain-style
// orchestration function that wires corvid/mem, corvid/vmm, corvid/sched,
// and corvid/ksync together the same way Biscuit's real entry point must.
package boot

import (
	"fmt"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"corvid/arch"
	"corvid/defs"
	"corvid/kheap"
	"corvid/mem"
	"corvid/sched"
	"corvid/vmm"
)

// RangeKind classifies a physical memory range the bootloader reports.
type RangeKind int

const (
	RangeUsable RangeKind = iota
	RangeReserved
	RangeACPI
	RangeNVS
	RangeBad
)

// PhysRange is one entry of the bootloader's physical memory map.
type PhysRange struct {
	Start, End uintptr
	Kind       RangeKind
}

// ModuleDesc describes one bootloader-loaded module (an initrd, a driver
// blob) spec.md §6 "module descriptors" names — a version-tagged physical
// blob the kernel maps in only after Validate accepts its version string.
type ModuleDesc struct {
	PhysBase uintptr
	Size     uintptr
	Next     *ModuleDesc
	Version  string
}

// Validate reports whether m's version string is both a well-formed
// semantic version and no newer than max, rejecting an incompatible
// driver module before it is ever mapped into the kernel's address space.
func (m *ModuleDesc) Validate(max string) defs.Err_t {
	if !semver.IsValid(m.Version) {
		return defs.EINVAL
	}
	if semver.Compare(m.Version, max) > 0 {
		return defs.EINVAL
	}
	return defs.EOK
}

// Framebuffer describes the optional splash framebuffer spec.md §6
// mentions as a feature-gated handoff field.
type Framebuffer struct {
	Width, Height, Depth uint32
	PhysAddr             uintptr
}

// FeatureSet is the bitmask of optional handoff features the bootloader
// negotiated with the kernel (spec.md §6 "features": splash, SMP).
type FeatureSet uint32

const (
	FeatureSplash FeatureSet = 1 << iota
	FeatureSMP
)

// KernelArgs is the single pointer-sized structure the architecture
// trampoline hands to kmain, exactly as Biscuit's entry point receives
// one pointer-sized argument from its own assembly stub.
type KernelArgs struct {
	Ranges     []PhysRange
	Modules    *ModuleDesc
	FB         Framebuffer
	BootCPU    uint32
	BootFSUUID [16]byte
	Features   FeatureSet
	NCPU       int
}

// Kernel is the fully wired-up core kmain assembles: the physical
// allocator, the kernel address space, and the scheduler every
// subsequently-created process and thread is registered against.
type Kernel struct {
	Args  KernelArgs
	Mem   *mem.Allocator
	AS    *vmm.AddressSpace
	Heap  *kheap.Heap
	Sched *sched.Scheduler
}

// totalUsablePages sums every usable range's page count, the figure the
// physical allocator is seeded with.
func totalUsablePages(ranges []PhysRange) int {
	total := uintptr(0)
	for _, r := range ranges {
		if r.Kind != RangeUsable {
			continue
		}
		total += (r.End - r.Start) / uintptr(defs.PageSize)
	}
	return int(total)
}

// Kmain performs the handoff sequence spec.md §6 describes: it seeds the
// physical allocator from the usable ranges, builds the kernel address
// space, validates every module descriptor's version against maxModule,
// brings up every application processor in parallel, and returns the
// fully constructed Kernel for the architecture trampoline to resume
// scheduling on.
func Kmain(args KernelArgs, a arch.Arch, maxModule string) (*Kernel, error) {
	for m := args.Modules; m != nil; m = m.Next {
		if err := m.Validate(maxModule); err != defs.EOK {
			return nil, fmt.Errorf("boot: module at 0x%x failed version check (%s)", m.PhysBase, m.Version)
		}
	}

	npages := totalUsablePages(args.Ranges)
	if npages == 0 {
		return nil, fmt.Errorf("boot: no usable physical memory reported")
	}
	allocator := mem.New(0, npages)

	a.SetupDescriptors(int(args.BootCPU))
	a.CPUInit(int(args.BootCPU))

	// The kernel map's page-table root is architecture-owned state (a
	// fixed PML4 physical address on real hardware). Arch doesn't
	// expose root allocation directly since a native implementation's
	// kernel root is fixed at link time; corvid/arch.SoftArch exposes
	// it through the same kind of optional capability interface
	// corvid/vmm.MapLookupProt uses, so tests can still exercise a
	// freshly allocated root.
	root := uintptr(0)
	if ra, ok := a.(interface{ NewRoot() uintptr }); ok {
		root = ra.NewRoot()
	}
	as := vmm.New(a, root, false)

	ncpu := args.NCPU
	if ncpu < 1 {
		ncpu = 1
	}

	heap := kheap.NewHeap(as, allocator, defs.KernelHeapSize, ncpu)

	s := sched.New(ncpu, a)

	if args.Features&FeatureSMP != 0 && ncpu > 1 {
		if err := bringUpAPs(a, int(args.BootCPU), ncpu); err != nil {
			return nil, err
		}
	}

	return &Kernel{Args: args, Mem: allocator, AS: as, Heap: heap, Sched: s}, nil
}

// bringUpAPs starts every application processor other than bootCPU in
// parallel, each modeled as one errgroup goroutine standing in for an
// IPI-started AP executing CPUInit/SetupDescriptors on its own stack; Wait
// is the rendezvous kmain performs before proceeding, mirroring the real
// "wait for every AP's ack bit" spin loop an amd64 implementation runs.
func bringUpAPs(a arch.Arch, bootCPU, ncpu int) error {
	var g errgroup.Group
	for cpu := 0; cpu < ncpu; cpu++ {
		if cpu == bootCPU {
			continue
		}
		cpu := cpu
		g.Go(func() error {
			a.CPUInit(cpu)
			a.SetupDescriptors(cpu)
			return nil
		})
	}
	return g.Wait()
}
