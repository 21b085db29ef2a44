// Package vmm implements the per-process address space and its page map
// (spec.md §4.2): map_insert/map_remove/map_lookup/map_protect/map_switch,
// TLB shootdown, and the always-present physical-memory window
// (phys_map/phys_unmap).
//
// It is grounded on Biscuit's Vm_t (_examples/.../biscuit/src/vm/as.go),
// keeping its "pgfl lock" discipline (Lock_pmap/Unlock_pmap/Lockassert_pmap)
// generalized from Biscuit's single recursive page-fault lock into the
// spec's address-space mutex, and delegating the actual page-table walk to
// an corvid/arch.Arch implementation rather than Biscuit's inline amd64
// Pmap_t, since page-table bit layout is out of this core's scope
// (spec.md §1).
package vmm

import (
	"sync"

	"corvid/arch"
	"corvid/defs"
)

// AddressSpace is the root of a per-process mapping (spec.md §3 "Address
// space"). The kernel map is a single shared instance every user
// AddressSpace mirrors in its upper half; User is false for it.
type AddressSpace struct {
	mu   sync.Mutex
	Arch arch.Arch
	Root uintptr // opaque arch page-table root, e.g. a PML4 physical address

	User bool
	Base uintptr
	Size uintptr

	// loadedOn is the set of CPUs that have this space installed via
	// MapSwitch, consulted to decide whether a TLB shootdown IPI is
	// required on map_remove (spec.md §4.2 "TLB consistency").
	loadedOn map[int]bool

	pgfltaken bool // mirrors Biscuit's Vm_t.pgfltaken: lock-held assertion aid
}

// New creates an address space for a, the architecture abstraction that
// owns the actual page table. user selects the user-range bounds from
// spec.md §3; the kernel map is created with user=false and KernelHeapBase.
func New(a arch.Arch, root uintptr, user bool) *AddressSpace {
	as := &AddressSpace{
		Arch:     a,
		Root:     root,
		User:     user,
		loadedOn: make(map[int]bool),
	}
	if user {
		as.Base, as.Size = defs.UserBase, defs.UserSize
	} else {
		as.Base = defs.KernelHeapBase
	}
	return as
}

// Lock acquires the address space's mutex and marks that page-table
// manipulation is in progress, for Lockassert to check.
func (as *AddressSpace) Lock() {
	as.mu.Lock()
	as.pgfltaken = true
}

// Unlock releases the address space's mutex.
func (as *AddressSpace) Unlock() {
	as.pgfltaken = false
	as.mu.Unlock()
}

// Lockassert panics if the address space's mutex is not currently held by
// this goroutine's call chain — a cheap way to catch a missing Lock call
// during development, mirroring Biscuit's Lockassert_pmap.
func (as *AddressSpace) Lockassert() {
	if !as.pgfltaken {
		panic("address space lock must be held")
	}
}

func (as *AddressSpace) inRange(vaddr uintptr) bool {
	if !as.User {
		return vaddr >= as.Base
	}
	return vaddr >= as.Base && vaddr < as.Base+as.Size
}

// MapInsert installs a new vaddr -> paddr mapping with the given
// protection. It is a fatal programmer error to insert over an occupied
// slot (spec.md §3 "Page mapping" invariant) — Arch.MapInsert enforces
// this by panicking, matching Biscuit's own crash-on-double-map
// discipline.
func (as *AddressSpace) MapInsert(vaddr, paddr uintptr, prot arch.Protection) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if !as.inRange(vaddr) {
		return defs.EINVALADDR
	}
	flags := arch.MapFlags(0)
	if as.User {
		flags |= arch.MapUser
	} else {
		flags |= arch.MapGlobal
	}
	if as.Arch.HasNX() && prot&arch.ProtExec == 0 {
		// NX is applied by the arch layer's own bit encoding; we only
		// need to have decided whether execute is permitted, which
		// MapInsert's prot argument already carries.
	}
	as.Arch.MapInsert(as.Root, vaddr, paddr, prot, flags)
	return defs.EOK
}

// MapRemove clears the mapping at vaddr, returning its physical address,
// and performs the TLB invalidation spec.md §4.2 requires: a local
// invlpg unconditionally, plus a shootdown IPI to every other CPU that has
// this space loaded, with the initiator spinning until all acknowledge.
func (as *AddressSpace) MapRemove(vaddr uintptr) (uintptr, defs.Err_t) {
	as.Lock()
	defer as.Unlock()
	paddr, ok := as.Arch.MapRemove(as.Root, vaddr)
	if !ok {
		return 0, defs.ENOTFOUND
	}
	as.Arch.Invlpg(vaddr)
	as.shootdown(vaddr)
	return paddr, defs.EOK
}

// shootdown broadcasts a TLB-invalidation IPI to every other CPU that has
// this address space loaded. The acknowledgement wait is modeled with a
// WaitGroup standing in for the spin-until-acked loop a real
// implementation performs against per-CPU acknowledgement bits.
func (as *AddressSpace) shootdown(vaddr uintptr) {
	var wg sync.WaitGroup
	for cpu := range as.loadedOn {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			as.Arch.SendIPI(cpu, arch.IPITLBShootdown)
		}(cpu)
	}
	wg.Wait()
}

// MapLookup is a read-only query (spec.md §4.2).
func (as *AddressSpace) MapLookup(vaddr uintptr) (uintptr, bool) {
	paddr, _, found := as.MapLookupProt(vaddr)
	return paddr, found
}

// MapLookupProt is MapLookup extended with the page's current protection
// bits, which corvid/syscall's user-memory access façade needs to reject
// a write through a read-only mapping before it ever reaches
// corvid/arch's physical-memory window.
func (as *AddressSpace) MapLookupProt(vaddr uintptr) (uintptr, arch.Protection, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if sa, ok := as.Arch.(interface {
		Lookup(uintptr, uintptr) (uintptr, arch.Protection, bool)
	}); ok {
		return sa.Lookup(as.Root, vaddr)
	}
	return 0, 0, false
}

// MapProtect iterates [start, end), updating the protection of every
// mapped page and silently skipping unmapped ones (spec.md §4.2).
func (as *AddressSpace) MapProtect(start, end uintptr, prot arch.Protection) defs.Err_t {
	if end < start {
		return defs.EINVAL
	}
	as.Lock()
	defer as.Unlock()
	for v := start; v < end; v += uintptr(defs.PageSize) {
		as.Arch.MapProtect(as.Root, v, prot)
	}
	return defs.EOK
}

// MapSwitch installs this address space on the calling CPU.
func (as *AddressSpace) MapSwitch(cpuID int) {
	as.mu.Lock()
	as.loadedOn[cpuID] = true
	as.mu.Unlock()
	as.Arch.MapSwitch(as.Root)
}
