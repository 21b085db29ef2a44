// Package caller implements stack-unwinding diagnostics for panics and
// programmer-contract violations (spec.md §7), kept from Biscuit's
// caller/caller.go and extended with symbol demangling and faulting-
// instruction disassembly so a kernel backtrace involving a foreign-ABI
// driver (C++ or Rust, loaded through the architecture layer out of this
// core's scope) or a raw instruction-pointer dump from a fault handler
// still reads as source, not mangled linker symbols and opcode bytes.
package caller

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

// Callerdump prints the call stack starting at the given depth, demangling
// any frame whose function name looks like a foreign-ABI mangled symbol
// (a loaded C++/Rust driver module, spec.md §6 device drivers) rather than
// a plain Go identifier.
func Callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}

// Demangle returns name unwrapped into a readable form if it matches a
// known C++ (Itanium) or Rust mangling scheme, or name itself unchanged
// if it does not — the fallback case covers the common path of ordinary
// Go symbols, which are not mangled at all.
func Demangle(name string) string {
	ast, err := demangle.ToAST(name, demangle.NoParams)
	if err != nil {
		return name
	}
	return ast.String()
}

// DisasmAt decodes the single x86-64 instruction at the front of code,
// the faulting-rip diagnostic a page-fault or general-protection-fault
// handler (architecture glue, out of this core's scope per spec.md §1)
// hands off once it has located the instruction bytes via the direct map.
func DisasmAt(code []byte) (x86asm.Inst, string, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return x86asm.Inst{}, "", err
	}
	return inst, x86asm.GNUSyntax(inst, 0, nil), nil
}

// Distinct_caller_t tracks whether a call chain has been seen before, used
// to rate-limit a noisy warning to its first occurrence per distinct
// caller (spec.md §7's "log contract violations without flooding the
// console" ambient requirement). Fields are protected by the embedded
// mutex.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	did     map[uintptr]bool
	Whitel  map[string]bool
}

// _pchash returns a poor-man's hash of the given RIP values, which is
// probably unique.
func (dc *Distinct_caller_t) _pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("d'oh")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Len returns the number of unique caller paths recorded.
func (dc *Distinct_caller_t) Len() int {
	dc.Lock()
	ret := len(dc.did)
	dc.Unlock()
	return ret
}

// Distinct reports whether the current call chain is new. It returns true
// along with a formatted, demangled stack trace when not seen before.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}

	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, 30)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			panic("no")
		}
	}
	h := dc._pchash(pcs)
	if ok := dc.did[h]; !ok {
		dc.did[h] = true
		frames := runtime.CallersFrames(pcs)
		fs := ""
		for {
			fr, more := frames.Next()
			if ok := dc.Whitel[fr.Function]; ok {
				return false, ""
			}
			name := Demangle(fr.Function)
			if fs == "" {
				fs = fmt.Sprintf("%v (%v:%v)\n", name, fr.File, fr.Line)
			} else {
				fs += fmt.Sprintf("\t%v (%v:%v)\n", name, fr.File, fr.Line)
			}
			if !more || fr.Function == "runtime.goexit" {
				break
			}
		}
		return true, fs
	}
	return false, ""
}
