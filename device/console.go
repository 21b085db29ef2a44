package device

import (
	"bytes"
	"sync"

	"corvid/defs"
)

// Console is a CharDevice backed by an io.Writer-like sink and a pending
// input buffer. No teacher file grounds a console device directly (the
// retrieval pack's kernel never shipped one), so this follows the
// package's general shape: synchronous Read/Write guarded by a mutex,
// matching the rest of this core's "no hidden goroutines in a driver"
// convention.
type Console struct {
	mu  sync.Mutex
	out writerFunc
	in  bytes.Buffer
}

type writerFunc func([]byte) (int, error)

// NewConsole builds a console device that writes through sink.
func NewConsole(sink func([]byte) (int, error)) *Console {
	return &Console{out: sink}
}

// Write sends buf to the console's output sink.
func (c *Console) Write(buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.out(buf)
	if err != nil {
		return n, defs.EDEVICE
	}
	return n, defs.EOK
}

// Read drains previously injected input (FeedInput), the stand-in for a
// keyboard/serial-line interrupt handler pushing received bytes; returns
// 0, EOK if nothing is pending rather than blocking, since this core's
// blocking contract is kobject.Object.Wait, not a device-level block.
func (c *Console) Read(buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.in.Read(buf)
	return n, defs.EOK
}

// FeedInput appends bytes to the console's pending input, the test and
// (eventually) interrupt-handler entry point for incoming data.
func (c *Console) FeedInput(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(buf)
}

// Null is the /dev/null CharDevice: writes are discarded, reads always
// report EOF-as-empty.
type Null struct{}

func (Null) Write(buf []byte) (int, defs.Err_t) { return len(buf), defs.EOK }
func (Null) Read(buf []byte) (int, defs.Err_t)  { return 0, defs.EOK }
