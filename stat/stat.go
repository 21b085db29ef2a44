// Package stat mirrors an object's metadata as exposed through the
// D_STAT pseudo-device (spec.md §4.7, SPEC_FULL.md's kobject metadata
// addition), adapted unchanged in shape from Biscuit's stat/stat.go
// since a kernel object's describable metadata (device id, a handle-table
// slot standing in for an inode number, rights-derived mode, size, last
// modification time) doesn't change just because the backing object is a
// kobject.Object instead of an inode.
package stat

import "unsafe"

// Stat_t is the fixed-layout metadata record corvid/kobject's Table.Stat
// fills in; Bytes exposes its raw layout for copying out.
type Stat_t struct {
	_dev    uint
	_ino    uint
	_mode   uint
	_size   uint
	_rdev   uint
	_uid    uint
	_blocks uint
	_m_sec  uint
	_m_nsec uint
}

// Wdev stores the device ID the object lives under (D_STAT, D_BLK, ...).
func (st *Stat_t) Wdev(v uint) {
	st._dev = v
}

// Wino stores the handle-table slot or object identity standing in for
// an inode number.
func (st *Stat_t) Wino(v uint) {
	st._ino = v
}

// Wmode records the object's rights-derived mode bits.
func (st *Stat_t) Wmode(v uint) {
	st._mode = v
}

// Wsize records the object's size (an area's byte length, a queue's
// buffered count, or zero for objects with no natural size).
func (st *Stat_t) Wsize(v uint) {
	st._size = v
}

// Wrdev stores the rdev field for device-backed objects.
func (st *Stat_t) Wrdev(v uint) {
	st._rdev = v
}

// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint {
	return st._mode
}

// Size returns the stored size.
func (st *Stat_t) Size() uint {
	return st._size
}

// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint {
	return st._rdev
}

// Rino returns the stored inode-standing-in identity.
func (st *Stat_t) Rino() uint {
	return st._ino
}

// Bytes exposes the raw bytes of the structure, the layout
// UserAccess.CopyOut writes verbatim into a user-supplied stat buffer.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._dev))
	return sl[:]
}
