package device

import (
	"bytes"
	"testing"

	"corvid/defs"
)

func TestRegistryBlockRoundTrip(t *testing.T) {
	r := NewRegistry()
	disk := NewRAMDisk(4, 512)
	r.RegisterBlock(defs.D_BLK, 0, disk)

	got, err := r.Block(defs.D_BLK, 0)
	if err != defs.EOK {
		t.Fatalf("Block lookup err = %v", err)
	}

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := got.WriteBlock(1, buf); err != defs.EOK {
		t.Fatalf("WriteBlock err = %v", err)
	}
	read := make([]byte, 512)
	if err := got.ReadBlock(1, read); err != defs.EOK {
		t.Fatalf("ReadBlock err = %v", err)
	}
	if !bytes.Equal(read, buf) {
		t.Fatalf("ReadBlock mismatch")
	}
}

func TestRegistryUnknownDeviceFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Block(defs.D_BLK, 0); err != defs.ENOTFOUND {
		t.Fatalf("Block on empty registry err = %v, want ENOTFOUND", err)
	}
	if _, err := r.Char(defs.D_CONSOLE, 0); err != defs.ENOTFOUND {
		t.Fatalf("Char on empty registry err = %v, want ENOTFOUND", err)
	}
}

func TestRAMDiskRejectsOutOfRangeBlock(t *testing.T) {
	disk := NewRAMDisk(2, 512)
	buf := make([]byte, 512)
	if err := disk.ReadBlock(5, buf); err != defs.EINVALADDR {
		t.Fatalf("ReadBlock out of range err = %v, want EINVALADDR", err)
	}
}

func TestConsoleWriteReachesSink(t *testing.T) {
	var captured bytes.Buffer
	c := NewConsole(captured.Write)

	r := NewRegistry()
	r.RegisterChar(defs.D_CONSOLE, 0, c)

	got, err := r.Char(defs.D_CONSOLE, 0)
	if err != defs.EOK {
		t.Fatalf("Char lookup err = %v", err)
	}
	n, err := got.Write([]byte("hello"))
	if err != defs.EOK || n != 5 {
		t.Fatalf("Write = %d,%v want 5,EOK", n, err)
	}
	if captured.String() != "hello" {
		t.Fatalf("sink = %q, want %q", captured.String(), "hello")
	}
}

func TestConsoleReadDrainsFedInput(t *testing.T) {
	c := NewConsole(func(b []byte) (int, error) { return len(b), nil })
	c.FeedInput([]byte("abc"))

	buf := make([]byte, 8)
	n, err := c.Read(buf)
	if err != defs.EOK || n != 3 || string(buf[:n]) != "abc" {
		t.Fatalf("Read = %d,%v,%q want 3,EOK,abc", n, err, buf[:n])
	}

	n, err = c.Read(buf)
	if err != defs.EOK || n != 0 {
		t.Fatalf("Read on empty input = %d,%v want 0,EOK", n, err)
	}
}

func TestNullDiscardsWritesAndReadsEmpty(t *testing.T) {
	var n Null
	written, err := n.Write([]byte("discard me"))
	if err != defs.EOK || written != len("discard me") {
		t.Fatalf("Null.Write = %d,%v", written, err)
	}
	buf := make([]byte, 4)
	read, err := n.Read(buf)
	if err != defs.EOK || read != 0 {
		t.Fatalf("Null.Read = %d,%v want 0,EOK", read, err)
	}
}
