package device

import (
	"strconv"
	"sync"

	"corvid/defs"
)

// RAMDisk is a BlockDevice backed entirely by process memory, standing in
// for a real AHCI/virtio-blk driver (architecture and PCI glue, out of
// this core's scope per spec.md §1) the way corvid/arch.SoftArch stands
// in for a real page-table implementation. Grounded on the block
// granularity and read/write/stats shape of Biscuit's Disk_i
// (_examples/.../biscuit/src/fs/blk.go).
type RAMDisk struct {
	mu        sync.Mutex
	blockSize int
	blocks    [][]byte
	reads     int64
	writes    int64
}

// NewRAMDisk allocates an nblocks-block disk of the given block size.
func NewRAMDisk(nblocks, blockSize int) *RAMDisk {
	if blockSize <= 0 || nblocks <= 0 {
		panic("device: invalid RAMDisk geometry")
	}
	blocks := make([][]byte, nblocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &RAMDisk{blockSize: blockSize, blocks: blocks}
}

func (d *RAMDisk) BlockSize() int { return d.blockSize }

// ReadBlock copies the contents of block into buf, failing with
// EINVALADDR if block is out of range or buf is undersized.
func (d *RAMDisk) ReadBlock(block int64, buf []byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if block < 0 || int(block) >= len(d.blocks) || len(buf) < d.blockSize {
		return defs.EINVALADDR
	}
	copy(buf, d.blocks[block])
	d.reads++
	return defs.EOK
}

// WriteBlock overwrites block's contents with buf's first BlockSize bytes.
func (d *RAMDisk) WriteBlock(block int64, buf []byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if block < 0 || int(block) >= len(d.blocks) || len(buf) < d.blockSize {
		return defs.EINVALADDR
	}
	copy(d.blocks[block], buf)
	d.writes++
	return defs.EOK
}

// Stats reports cumulative read/write counts, mirroring Disk_i.Stats's
// role as the kernel-statistics pseudo-device's data source.
func (d *RAMDisk) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return formatDiskStats(len(d.blocks), d.blockSize, d.reads, d.writes)
}

func formatDiskStats(nblocks, blockSize int, reads, writes int64) string {
	return "blocks=" + strconv.Itoa(nblocks) + " blocksize=" + strconv.Itoa(blockSize) +
		" reads=" + strconv.FormatInt(reads, 10) + " writes=" + strconv.FormatInt(writes, 10)
}
