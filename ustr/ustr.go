// Package ustr implements the immutable path/name string type kernel
// components pass user-supplied names through (port names, object names),
// kept from Biscuit's ustr/ustr.go and extended with Unicode
// canonicalization via golang.org/x/text/unicode/norm. Biscuit's own
// bpath.Canonicalize (referenced by SPEC_FULL's domain-stack wiring) was
// filtered out of the retrieval pack before its actual body survived —
// only its empty go.mod remained — so Canonicalize here is grounded on
// Ustr's own Extend/IsAbsolute shape and spec.md §4.10's requirement that
// a name copied in from user space be validated before it is used as a
// lookup key, generalized from ASCII-only path segments to full Unicode
// normalization.
package ustr

import (
	"golang.org/x/text/unicode/norm"
)

// Ustr represents an immutable path or string used by the kernel.
type Ustr []uint8

// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals '..'.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrDot returns a Ustr representing '.'.
func MkUstrDot() Ustr {
	return Ustr(".")
}

// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == uint8(0) {
			return buf[:i]
		}
	}
	return buf
}

// Extend appends '/' and p to the current Ustr and returns the result.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr appends '/' and the string p to the current Ustr.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	if len(us) == 0 {
		return false
	}
	return us[0] == '/'
}

// IndexByte returns the index of b in the string or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}

// Canonicalize normalizes us to Unicode NFC form, the composed form two
// byte-for-byte-different but visually identical names (an accented
// character as one codepoint vs. as a base character plus a combining
// mark) both collapse to. corvid/ipc's port registry canonicalizes every
// name through this before using it as a hashtable key, so two user
// programs naming "café" differently still rendezvous at the same port
// (spec.md §4.10's "validate a name copied in from user space before it
// is used").
func (us Ustr) Canonicalize() Ustr {
	return Ustr(norm.NFC.Bytes([]byte(us)))
}

// Canonicalize is the string-in, string-out convenience form
// corvid/ipc.Registry uses directly on port names.
func Canonicalize(name string) string {
	return string(norm.NFC.Bytes([]byte(name)))
}
