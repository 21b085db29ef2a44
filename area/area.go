// Package area implements shared-memory area objects (spec.md §4.8/§3
// "Area"): anonymous zero-fill-on-demand regions and object-backed
// regions delegating page lookup to a source, both exposed as
// corvid/kobject.Mappable so they can be installed into a handle table and
// faulted into an address space by corvid/vmm.
//
// Grounded on Biscuit's Vm_t page-fault-driven mapping
// (_examples/.../biscuit/src/vm/as.go's Vmadd_anon/Vmadd_file family),
// generalized into a standalone object independent of any one address
// space so the same area can be mapped into more than one process — the
// sharing spec.md §3 "Area" exists for.
package area

import (
	"sync"

	"corvid/defs"
	"corvid/kobject"
	"corvid/ksync"
	"corvid/mem"
)

// Rights is the access mask an area was created with, enforced
// independently of whatever rights the handle referencing it carries
// (spec.md §4.8 "mappable rights enforcement").
type Rights uint32

const (
	Read Rights = 1 << iota
	Write
)

// Area is a sharable memory region, either anonymous or delegating to an
// object-backed source.
type Area struct {
	mu     sync.Mutex
	rights Rights
	size   uintptr // bytes, grows only (spec.md §4.8)

	alloc  *mem.Allocator    // non-nil for anonymous areas
	pages  map[uintptr]uint32 // page-aligned offset -> pfn, sparse
	source kobject.Mappable   // non-nil for object-backed areas
}

// NewAnonymous creates a zero-fill-on-demand area of size bytes backed by
// alloc. Pages are allocated lazily, the first time GetPage touches a
// given offset, exactly as Biscuit's Vmadd_anon regions are.
func NewAnonymous(alloc *mem.Allocator, size uintptr, rights Rights) *Area {
	if size == 0 {
		panic("area: zero-sized anonymous area")
	}
	return &Area{
		rights: rights,
		size:   size,
		alloc:  alloc,
		pages:  make(map[uintptr]uint32),
	}
}

// NewObjectBacked creates an area whose pages are supplied by source
// (e.g. a future file-backed object), generalizing Biscuit's
// Vmadd_file/Vmadd_sharefile.
func NewObjectBacked(source kobject.Mappable, size uintptr, rights Rights) *Area {
	if source == nil {
		panic("area: nil backing source")
	}
	return &Area{rights: rights, size: size, source: source}
}

func pageAlign(offset uintptr) uintptr {
	return offset &^ defs.PageMask
}

// GetPage resolves offset to a physical page, implementing
// corvid/kobject.Mappable. For an anonymous area a still-unbacked offset
// allocates and zeroes a fresh page on first touch.
func (a *Area) GetPage(offset uintptr) (uintptr, defs.Err_t) {
	if offset >= a.currentSize() {
		return 0, defs.EINVALADDR
	}
	if a.source != nil {
		return a.source.GetPage(offset)
	}

	aligned := pageAlign(offset)
	a.mu.Lock()
	defer a.mu.Unlock()
	if pfn, ok := a.pages[aligned]; ok {
		return uintptr(pfn) << defs.PageShift, defs.EOK
	}
	pfn, ok := a.alloc.PageAlloc(1, mem.Zero)
	if !ok {
		return 0, defs.EOOM
	}
	a.pages[aligned] = pfn
	return uintptr(pfn) << defs.PageShift, defs.EOK
}

// ReleasePage drops this area's interest in the page backing offset. For
// an anonymous area that frees the physical page once nothing else holds
// a reference to it (corvid/mem's own refcounting decides that); for an
// object-backed area it delegates to the source.
func (a *Area) ReleasePage(offset uintptr) {
	if a.source != nil {
		a.source.ReleasePage(offset)
		return
	}
	aligned := pageAlign(offset)
	a.mu.Lock()
	pfn, ok := a.pages[aligned]
	if ok {
		delete(a.pages, aligned)
	}
	a.mu.Unlock()
	if ok {
		a.alloc.Refdown(pfn)
	}
}

func (a *Area) currentSize() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Size reports the area's current byte length, implementing
// corvid/kobject.Sizeable so the D_STAT device can report it.
func (a *Area) Size() uintptr {
	return a.currentSize()
}

// Resize grows the area to newSize bytes. Shrinking is rejected: spec.md
// §4.8 only allows areas to grow, since a mapped-and-then-shrunk area
// would leave dangling page-table entries this package has no way to
// reach back into an address space and remove.
func (a *Area) Resize(newSize uintptr) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if newSize < a.size {
		return defs.EINVAL
	}
	a.size = newSize
	return defs.EOK
}

// CheckAccess verifies that want is a subset of the area's own rights,
// the enforcement spec.md §4.8 requires independent of whatever a handle
// table entry permits.
func (a *Area) CheckAccess(want Rights) defs.Err_t {
	if a.rights&want != want {
		return defs.EACCES
	}
	return defs.EOK
}

// Close frees every physical page this anonymous area still owns. An
// object-backed area owns no pages of its own, so Close is a no-op for
// it; the backing source is closed independently through its own handle.
func (a *Area) Close() defs.Err_t {
	if a.source != nil {
		return defs.EOK
	}
	a.mu.Lock()
	pages := a.pages
	a.pages = nil
	a.mu.Unlock()
	for _, pfn := range pages {
		a.alloc.PageFree(pfn, 1)
	}
	return defs.EOK
}

// Wait implements corvid/kobject.Object. Areas carry no notion of
// readiness beyond existing, so Wait always returns immediately; areas
// are handle-table citizens for mapping and lifetime purposes, not for
// the select-style multi-wait kobject.Table.WaitAny performs over ports.
func (a *Area) Wait(timeoutUsec int64, interrupt <-chan struct{}) (ksync.WakeStatus, defs.Err_t) {
	return ksync.WakeNormal, defs.EOK
}
