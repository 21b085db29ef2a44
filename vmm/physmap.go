package vmm

import (
	"corvid/arch"
	"corvid/defs"
)

const (
	roOnly   = arch.ProtRead
	rwNoExec = arch.ProtRead | arch.ProtWrite
)

// DirectMap provides the always-present window mapping the whole of
// physical memory into a fixed kernel virtual range, avoiding per-call
// mapping churn for short-lived kernel access to arbitrary physical pages
// (spec.md §4.2 "phys_map"). Once created it is never torn down;
// corvid/boot's Kmain does not create one.
type DirectMap struct {
	base  uintptr
	limit uintptr
}

// NewDirectMap describes a direct map window starting at base and
// covering size bytes of physical memory. The caller is
// responsible for having already mapped that range in the kernel address
// space; DirectMap only answers "is this physical range already reachable
// here" and does the address arithmetic.
func NewDirectMap(base uintptr, size uintptr) *DirectMap {
	return &DirectMap{base: base, limit: base + size}
}

// PhysMap returns the kernel virtual address at which paddr is already
// reachable through the direct-map window.
func (d *DirectMap) PhysMap(paddr uintptr, size uintptr) (uintptr, defs.Err_t) {
	kv := d.base + paddr
	if kv+size > d.limit {
		return 0, defs.EINVALADDR
	}
	return kv, defs.EOK
}

// PhysUnmap is a no-op for any address inside the direct-map window, as
// spec.md §4.2 requires: there is nothing to tear down since the mapping
// is permanent.
func (d *DirectMap) PhysUnmap(kvaddr uintptr) {
	if kvaddr < d.base || kvaddr >= d.limit {
		panic("phys_unmap: address outside the direct map")
	}
}

// LateInit marks the kernel's text/rodata read-only and its bss/data
// no-execute, then drops the identity mapping used only during early
// boot (spec.md §4.2 "Late initialisation"). textStart/textEnd and
// dataStart/dataEnd are kernel-link-time symbols the caller resolves;
// identityBase/identitySize describe the early boot identity map.
func LateInit(kernelMap *AddressSpace, textStart, textEnd, dataStart, dataEnd uintptr, identityBase, identitySize uintptr) {
	kernelMap.MapProtect(textStart, textEnd, roOnly)
	kernelMap.MapProtect(dataStart, dataEnd, rwNoExec)

	for v := identityBase; v < identityBase+identitySize; v += uintptr(defs.PageSize) {
		// Errors are ignored here: not every page in the early
		// identity range is necessarily still mapped (some may have
		// already been reclaimed), and map_remove on an absent page
		// is an expected no-op at this stage, not a fault.
		kernelMap.MapRemove(v)
	}
}
