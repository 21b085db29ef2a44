// Package arch states the thin contract the kernel core needs from
// architecture-specific glue: context switch trampolines, page-table bit
// layout, descriptor tables, MSR/TSC access, and inter-processor
// interrupts. Per spec.md §1 this glue must "remain native" and is
// explicitly out of scope for the core — this package only pins down the
// interface the core calls through, grounded on the external-interface
// list in spec.md §6 ("Architecture interface the core consumes").
//
// corvid/vmm and corvid/sched depend on the Arch interface, never on a
// concrete implementation, so the core stays testable on the host Go
// toolchain via SoftArch while a real boot target supplies an amd64
// implementation built from inline assembly (out of scope here).
package arch

import "golang.org/x/sys/cpu"

// Protection is a mapping's permission set, a subset of {read, write,
// execute} (spec.md §3 "Page mapping").
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

// MapFlags modifies how arch.MapInsert treats a new mapping.
type MapFlags uint8

const (
	MapUser   MapFlags = 1 << iota // page is reachable from user mode
	MapGlobal                      // page survives a TLB flush (kernel map)
)

// IPIVector enumerates the inter-processor interrupt reasons the core
// needs, independent of the platform's actual vector numbering.
type IPIVector int

const (
	IPIReschedule IPIVector = iota
	IPITLBShootdown
	IPIKillCheck
)

// ThreadContext is an opaque, architecture-owned snapshot of register
// state for one thread. The core never inspects its contents; it only
// ever passes the pointer back to the Arch that created it.
type ThreadContext interface{}

// Arch is the contract corvid/sched and corvid/vmm consume. A real
// implementation programs page tables, the LAPIC/IOAPIC/PIT, GDT/IDT, and
// performs the actual context-switch trampoline in assembly; this
// interface only pins down what the core calls.
type Arch interface {
	// ThreadInit builds a fresh ThreadContext whose first resumption
	// enters the trampoline described in spec.md §4.5 ("Thread
	// creation"), landing at entry with arg in the first argument
	// register and sp as the stack pointer.
	ThreadInit(stack []byte, entry uintptr, arg uintptr) ThreadContext
	ThreadDestroy(ctx ThreadContext)
	// ThreadSwitch saves the running thread's context into from and
	// resumes to. Called with preemption already disabled and the
	// owning run-queue lock already released by the caller.
	ThreadSwitch(from, to ThreadContext)
	// EnterUserspace transfers control to user mode at entry with
	// stack pointer sp and a single argument register set to arg. It
	// does not return.
	EnterUserspace(entry, sp, arg uintptr)

	ReadMSR(reg uint32) uint64
	WriteMSR(reg uint32, val uint64)
	ReadTSC() uint64

	CPUInit(cpuID int)
	SetupDescriptors(cpuID int)

	// MapInsert/MapRemove/MapProtect/MapSwitch/Invlpg implement the
	// page-table primitives spec.md §4.2 describes abstractly; root
	// identifies an address space's top-level table.
	MapInsert(root uintptr, vaddr, paddr uintptr, prot Protection, flags MapFlags) bool
	MapRemove(root uintptr, vaddr uintptr) (uintptr, bool)
	MapProtect(root uintptr, vaddr uintptr, prot Protection) bool
	MapSwitch(root uintptr)
	Invlpg(vaddr uintptr)

	SendIPI(cpuID int, vector IPIVector)

	// IRQDisable disables local interrupts and returns the prior
	// state so IRQRestore can undo exactly this disable — the
	// save/restore discipline spinlock.Lock/Unlock relies on.
	IRQDisable() (prev bool)
	IRQRestore(prev bool)

	// HasNX reports whether the platform's page tables support the
	// no-execute bit (spec.md §4.2).
	HasNX() bool
	// HasRDRAND reports whether a hardware RNG instruction is
	// available.
	HasRDRAND() bool
}

// DetectFeatures reads CPU feature flags via golang.org/x/sys/cpu so
// callers that don't hold a concrete Arch (e.g. early boot diagnostics,
// before descriptor tables are installed) can still make feature-gated
// decisions. NX is reported present unconditionally, since amd64 long
// mode always provides it and this kernel targets x86-64 exclusively
// (spec.md §1); RDRAND is read from the CPU feature bits.
func DetectFeatures() (hasNX, hasRDRAND bool) {
	return true, cpu.X86.HasRDRAND
}
