package ustr

import "testing"

func TestIsdotAndIsdotdot(t *testing.T) {
	if !Ustr(".").Isdot() {
		t.Fatal("Isdot false for \".\"")
	}
	if !Ustr("..").Isdotdot() {
		t.Fatal("Isdotdot false for \"..\"")
	}
	if Ustr("...").Isdot() || Ustr("a").Isdotdot() {
		t.Fatal("false positive in Isdot/Isdotdot")
	}
}

func TestExtendInsertsSeparator(t *testing.T) {
	got := MkUstrRoot().ExtendStr("home")
	if got.String() != "/home" {
		t.Fatalf("Extend = %q, want %q", got, "/home")
	}
}

func TestMkUstrSliceTruncatesAtNUL(t *testing.T) {
	buf := []uint8{'h', 'i', 0, 'x', 'x'}
	got := MkUstrSlice(buf)
	if got.String() != "hi" {
		t.Fatalf("MkUstrSlice = %q, want %q", got, "hi")
	}
}

func TestIsAbsolute(t *testing.T) {
	if !Ustr("/a/b").IsAbsolute() {
		t.Fatal("expected /a/b to be absolute")
	}
	if Ustr("a/b").IsAbsolute() || MkUstr().IsAbsolute() {
		t.Fatal("relative or empty path reported as absolute")
	}
}

func TestCanonicalizeComposesCombiningSequence(t *testing.T) {
	// "cafe" + U+0301 COMBINING ACUTE ACCENT, vs. the single precomposed
	// U+00E9 LATIN SMALL LETTER E WITH ACUTE.
	decomposed := "café"
	composed := "café"

	if Canonicalize(decomposed) != composed {
		t.Fatalf("Canonicalize(%q) = %q, want %q", decomposed, Canonicalize(decomposed), composed)
	}
	if Canonicalize(composed) != composed {
		t.Fatal("Canonicalize should be idempotent on an already-composed string")
	}
}

func TestEq(t *testing.T) {
	if !Ustr("abc").Eq(Ustr("abc")) {
		t.Fatal("identical Ustrs reported unequal")
	}
	if Ustr("abc").Eq(Ustr("abd")) {
		t.Fatal("differing Ustrs reported equal")
	}
}
