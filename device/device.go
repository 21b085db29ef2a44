// Package device implements the block/character device façade spec.md
// §6 describes: interfaces a driver (out of this core's scope) satisfies,
// and the registry that maps a defs.Mkdev-encoded device id to one.
//
// Grounded on Biscuit's Disk_i (_examples/.../biscuit/src/fs/blk.go),
// generalized from a single block-request-queue interface into the two
// capability shapes SPEC_FULL.md §6 needs (block and character), since
// this core manages the console and stats/profile pseudo-devices
// alongside a generic block device, not only disks.
package device

import (
	"sync"

	"corvid/defs"
)

// BlockDevice is the capability set a block driver (AHCI, virtio-blk, an
// in-memory ramdisk for testing) implements, generalizing Disk_i's
// Start/Stats pair into synchronous block-granularity read/write.
type BlockDevice interface {
	ReadBlock(block int64, buf []byte) defs.Err_t
	WriteBlock(block int64, buf []byte) defs.Err_t
	BlockSize() int
	Stats() string
}

// CharDevice is the capability set a character driver (console, /dev/null)
// implements.
type CharDevice interface {
	Read(buf []byte) (int, defs.Err_t)
	Write(buf []byte) (int, defs.Err_t)
}

// Registry maps defs.Mkdev-encoded device ids to their driver. No other
// package in this tree looks devices up through it.
type Registry struct {
	mu    sync.RWMutex
	block map[uint64]BlockDevice
	char  map[uint64]CharDevice
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{block: make(map[uint64]BlockDevice), char: make(map[uint64]CharDevice)}
}

// RegisterBlock installs a block driver under maj/min, generalizing
// Biscuit's implicit single-disk wiring in MkBlock into an explicit,
// testable registry.
func (r *Registry) RegisterBlock(maj, min int, d BlockDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block[defs.Mkdev(maj, min)] = d
}

// RegisterChar installs a character driver under maj/min.
func (r *Registry) RegisterChar(maj, min int, d CharDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.char[defs.Mkdev(maj, min)] = d
}

// Block looks up a block device, failing with ENOTFOUND if unregistered.
func (r *Registry) Block(maj, min int) (BlockDevice, defs.Err_t) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.block[defs.Mkdev(maj, min)]
	if !ok {
		return nil, defs.ENOTFOUND
	}
	return d, defs.EOK
}

// Char looks up a character device, failing with ENOTFOUND if
// unregistered.
func (r *Registry) Char(maj, min int) (CharDevice, defs.Err_t) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.char[defs.Mkdev(maj, min)]
	if !ok {
		return nil, defs.ENOTFOUND
	}
	return d, defs.EOK
}
