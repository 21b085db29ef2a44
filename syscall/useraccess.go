// Package syscall implements the syscall dispatch contract (spec.md
// §4.9): a generated argument-unmarshalling table (corvid/cmd/gensyscall
// produces the table itself; this package defines what it plugs into),
// and the safe user-memory access façade every handler uses instead of
// ever dereferencing a user pointer directly.
//
// The access façade is grounded on Biscuit's Vm_t user-copy family
// (_examples/.../biscuit/src/vm/as.go's Userdmap8_inner/Userreadn/
// Userwriten/Userstr), generalized from Biscuit's direct physical-memory
// dereference (mem.Physmem.Dmap) to the corvid/vmm.AddressSpace.
// MapLookupProt + PhysMemory indirection, since raw load/store through a
// physical address is architecture glue out of this core's scope
// (spec.md §1); PhysMemory is what a real corvid/arch implementation
// backs with unsafe-pointer arithmetic over the direct map, and what
// corvid/arch.SoftArch-based tests back with a plain byte slice.
package syscall

import (
	"corvid/arch"
	"corvid/defs"
	"corvid/vmm"
)

// PhysMemory is the byte-addressable view of physical memory reachable
// through the kernel's direct map (corvid/vmm.DirectMap describes the
// address arithmetic; this interface is what actually moves bytes).
type PhysMemory interface {
	ReadAt(paddr uintptr, buf []byte) defs.Err_t
	WriteAt(paddr uintptr, buf []byte) defs.Err_t
}

// UserAccess is the safe user-memory access façade a syscall handler
// receives for the one address space it is executing against (spec.md
// §4.9 "safe user memory access"). Every method validates the requested
// range page by page rather than trusting the caller's length, returning
// defs.EINVALADDR for an unmapped page and defs.EACCES for a page mapped
// without the needed protection, instead of faulting the kernel itself.
type UserAccess struct {
	as   *vmm.AddressSpace
	phys PhysMemory
}

// NewUserAccess builds a façade bound to as, backed by phys for the
// actual byte movement.
func NewUserAccess(as *vmm.AddressSpace, phys PhysMemory) *UserAccess {
	return &UserAccess{as: as, phys: phys}
}

func pageOffset(addr uintptr) uintptr { return addr & defs.PageMask }

// ValidateRange confirms that every page in [uva, uva+n) is mapped with
// at least the given protection, without copying anything. Handlers use
// this to fail fast before allocating a destination buffer.
func (u *UserAccess) ValidateRange(uva uintptr, n int, want arch.Protection) defs.Err_t {
	if n < 0 {
		return defs.EINVAL
	}
	end := uva + uintptr(n)
	for v := uva &^ defs.PageMask; v < end; v += uintptr(defs.PageSize) {
		_, prot, ok := u.as.MapLookupProt(v)
		if !ok {
			return defs.EINVALADDR
		}
		if prot&want != want {
			return defs.EACCES
		}
	}
	return defs.EOK
}

// CopyIn reads n bytes from user address uva into a freshly allocated
// slice, generalizing Userreadn/User2k's page-by-page walk beyond
// Biscuit's 8-byte-at-a-time limit.
func (u *UserAccess) CopyIn(uva uintptr, n int) ([]byte, defs.Err_t) {
	if err := u.ValidateRange(uva, n, arch.ProtRead); err != defs.EOK {
		return nil, err
	}
	dst := make([]byte, n)
	copied := 0
	for copied < n {
		va := uva + uintptr(copied)
		paddr, _, ok := u.as.MapLookupProt(va &^ defs.PageMask)
		if !ok {
			return nil, defs.EINVALADDR
		}
		off := pageOffset(va)
		chunk := defs.PageSize - int(off)
		if remain := n - copied; chunk > remain {
			chunk = remain
		}
		if err := u.phys.ReadAt(paddr+off, dst[copied:copied+chunk]); err != defs.EOK {
			return nil, err
		}
		copied += chunk
	}
	return dst, defs.EOK
}

// CopyOut writes src to user address uva, generalizing Userwriten/K2user.
func (u *UserAccess) CopyOut(uva uintptr, src []byte) defs.Err_t {
	if err := u.ValidateRange(uva, len(src), arch.ProtRead|arch.ProtWrite); err != defs.EOK {
		return err
	}
	copied := 0
	for copied < len(src) {
		va := uva + uintptr(copied)
		paddr, _, ok := u.as.MapLookupProt(va &^ defs.PageMask)
		if !ok {
			return defs.EINVALADDR
		}
		off := pageOffset(va)
		chunk := defs.PageSize - int(off)
		if remain := len(src) - copied; chunk > remain {
			chunk = remain
		}
		if err := u.phys.WriteAt(paddr+off, src[copied:copied+chunk]); err != defs.EOK {
			return err
		}
		copied += chunk
	}
	return defs.EOK
}

// Strlen scans a NUL-terminated user string up to max bytes, returning
// its length not counting the terminator, or EINVAL if no NUL appears
// within max bytes — the length-discovery half of Userstr, split out so
// Strdup can allocate exactly the right buffer up front.
func (u *UserAccess) Strlen(uva uintptr, max int) (int, defs.Err_t) {
	for i := 0; i < max; i++ {
		b, err := u.CopyIn(uva+uintptr(i), 1)
		if err != defs.EOK {
			return 0, err
		}
		if b[0] == 0 {
			return i, defs.EOK
		}
	}
	return 0, defs.EINVAL
}

// Strdup copies a NUL-terminated user string, generalizing Userstr,
// bounded to max bytes excluding the terminator.
func (u *UserAccess) Strdup(uva uintptr, max int) (string, defs.Err_t) {
	n, err := u.Strlen(uva, max)
	if err != defs.EOK {
		return "", err
	}
	if n == 0 {
		return "", defs.EOK
	}
	buf, err := u.CopyIn(uva, n)
	if err != defs.EOK {
		return "", err
	}
	return string(buf), defs.EOK
}
