package syscall

import "corvid/defs"

// Number identifies a syscall. The concrete numbering lives in generated
// code (corvid/cmd/gensyscall's output), not here.
type Number uint32

// Args is the raw, not-yet-validated argument vector a trap handler hands
// to Dispatch — one register's worth of value per slot, matching the
// x86-64 SysV syscall convention's six argument registers.
type Args struct {
	A0, A1, A2, A3, A4, A5 uintptr
}

// Handler is one syscall's implementation. It receives the calling
// thread's UserAccess façade so it never has to reach into an address
// space directly, and returns a single result word alongside the
// standard defs.Err_t status.
type Handler func(access *UserAccess, args Args) (uintptr, defs.Err_t)

// Table is the dispatch contract spec.md §4.9 describes: a dense mapping
// from syscall number to Handler that corvid/cmd/gensyscall populates at
// build time from a table description, and that the trap entry point
// (architecture glue, out of this core's scope per spec.md §1) consults
// on every syscall trap.
type Table struct {
	handlers map[Number]Handler
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[Number]Handler)}
}

// Register installs h as the handler for num, panicking if num is
// already registered — a build-time contract violation, not a runtime
// condition a caller should ever need to recover from.
func (t *Table) Register(num Number, h Handler) {
	if _, exists := t.handlers[num]; exists {
		panic("syscall: duplicate registration")
	}
	t.handlers[num] = h
}

// Dispatch invokes the handler registered for num, returning ENOTIMPL if
// none is registered (an unimplemented or unrecognized syscall number,
// spec.md §4.9's "unknown syscall" case).
func (t *Table) Dispatch(num Number, access *UserAccess, args Args) (uintptr, defs.Err_t) {
	h, ok := t.handlers[num]
	if !ok {
		return 0, defs.ENOTIMPL
	}
	return h(access, args)
}

// Len reports how many syscalls are currently registered, for
// diagnostics and the kernel-statistics pseudo-device.
func (t *Table) Len() int { return len(t.handlers) }
