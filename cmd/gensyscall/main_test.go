package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDefs(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "syscalls.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseDefsSkipsBlankAndCommentLines(t *testing.T) {
	path := writeDefs(t, "# comment\n\nopen 1 sysOpen\nclose 2 sysClose\n")
	entries, err := parseDefs(path)
	if err != nil {
		t.Fatalf("parseDefs err = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Name != "open" || entries[0].Number != 1 || entries[0].Handler != "sysOpen" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestParseDefsRejectsDuplicateNumber(t *testing.T) {
	path := writeDefs(t, "open 1 sysOpen\nclose 1 sysClose\n")
	if _, err := parseDefs(path); err == nil {
		t.Fatal("expected an error for a duplicate syscall number")
	}
}

func TestParseDefsRejectsMalformedLine(t *testing.T) {
	path := writeDefs(t, "open 1\n")
	if _, err := parseDefs(path); err == nil {
		t.Fatal("expected an error for a malformed line")
	}
}

func TestRenderProducesRegisterFunction(t *testing.T) {
	src, err := render("generated", []entry{{Name: "open", Number: 1, Handler: "sysOpen"}})
	if err != nil {
		t.Fatalf("render err = %v", err)
	}
	text := string(src)
	if !strings.Contains(text, "package generated") {
		t.Fatalf("missing package clause: %s", text)
	}
	if !strings.Contains(text, "syscall.Number(1)") || !strings.Contains(text, "sysOpen") {
		t.Fatalf("missing expected registration call: %s", text)
	}
}
